package resolver

import (
	"net/url"
)

// SearchKeyword pulls the decoded free-text query term out of a search
// result URL. Returns "" when the URL has no query term (or does not
// parse), which disables the requery tiers entirely.
func SearchKeyword(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("query")
}

// requeryURLs derives alternate general-search URLs from the original
// URL's query term by appending the disambiguating suffixes, in priority
// order. Empty when the original URL carries no query term.
func (r *Resolver) requeryURLs(originalURL string) []string {
	q := SearchKeyword(originalURL)
	if q == "" {
		return nil
	}
	urls := make([]string, 0, len(r.config.RequerySuffixes))
	for _, suffix := range r.config.RequerySuffixes {
		v := url.Values{}
		v.Set("where", "nexearch")
		v.Set("sm", "tab_etc")
		v.Set("query", q+suffix)
		urls = append(urls, r.config.SearchURL+"?"+v.Encode())
	}
	return urls
}

// peopleSearchURLs derives person-search URLs: the bare term first, then
// the term with the occupation hint appended. Empty when the original
// URL carries no query term.
func (r *Resolver) peopleSearchURLs(originalURL string) []string {
	q := SearchKeyword(originalURL)
	if q == "" {
		return nil
	}
	terms := []string{q, q + r.config.OccupationHint}
	urls := make([]string, 0, len(terms))
	for _, term := range terms {
		v := url.Values{}
		v.Set("query", term)
		urls = append(urls, r.config.PeopleSearchURL+"?"+v.Encode())
	}
	return urls
}
