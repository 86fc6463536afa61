package resolver

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Anchor text vocabulary, in the source locale. profileAnchorTexts are
// matched exactly; moreAnchorText is a substring match.
var (
	profileAnchorTexts = []string{"프로필", "인물정보"}
	moreAnchorText     = "더보기"
)

// findProfileAnchor locates the profile / person-info link on a search
// result page. It scans interactive and text elements inside the main
// results region for an exact text match; a hit on a non-anchor element
// is promoted to its nearest enclosing a[href]. Returns "" when nothing
// matches.
func findProfileAnchor(doc *goquery.Document) string {
	root := doc.Find("#main_pack")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var href string
	root.Find("a,button,span,div,li").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		own := normalizeSpace(ownText(el))
		full := normalizeSpace(el.Text())
		if !matchesProfileText(own) && !matchesProfileText(full) {
			return true
		}
		if el.Is("a") {
			if v, ok := el.Attr("href"); ok {
				href = v
				return false
			}
		}
		parent := el.Closest("a[href]")
		if parent.Length() > 0 {
			href = parent.AttrOr("href", "")
			return false
		}
		return true
	})
	return href
}

func matchesProfileText(text string) bool {
	for _, want := range profileAnchorTexts {
		if text == want {
			return true
		}
	}
	return false
}

// findMoreAnchor locates the "show more" control: the conventional
// answer_more child anchor first, then any link whose text contains the
// more-vocabulary, then the loose answer_more descendant form.
func findMoreAnchor(doc *goquery.Document) string {
	if el := doc.Find("div.answer_more > a").First(); el.Length() > 0 {
		if href, ok := el.Attr("href"); ok {
			return href
		}
	}

	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		own := normalizeSpace(ownText(a))
		full := normalizeSpace(a.Text())
		if strings.Contains(own, moreAnchorText) || strings.Contains(full, moreAnchorText) {
			href = a.AttrOr("href", "")
			return false
		}
		return true
	})
	if href != "" {
		return href
	}

	if el := doc.Find(".answer_more a").First(); el.Length() > 0 {
		return el.AttrOr("href", "")
	}
	return ""
}

// ownText returns the text of the element's direct text-node children,
// excluding descendants. Distinguishes <a>프로필</a> from a wrapper whose
// nested markup happens to contain the word.
func ownText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	var b strings.Builder
	for c := s.Get(0).FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
