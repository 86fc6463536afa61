package resolver

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Ordered fallback selectors for the person name, most site-specific
// first. The portal renders profile cards through several component
// generations and all of them are still in the wild.
var nameSelectors = []string{
	"span.area_text_title strong._text",
	"div.cm_top_wrap .title",
	"div.cm_top_wrap .cm_title .title",
	"div.cm_top_wrap .title_area .title",
	"h2.title",
	"div.profile_title h2",
	"strong.name",
	".cm_title span.tit",
}

// Ordered fallback selectors for the profile image.
var imageSelectors = []string{
	"img.profile_img",
	"a.thumb._item img._img",
	"div.img_scroll ul.img_list li._item:first-child img",
	"a.thumb img._img",
	"img._img",
	"img.cm_thumb_img",
}

// Attribute keys for lazy-loaded images, in probe order.
var imageSrcAttrs = []string{"src", "data-src", "data-lazy-src"}

// extractProfile parses a profile page into a Profile by running the
// extraction strategies in order. Strategies contribute independently;
// the duplicate policy on the profile decides collisions.
func (r *Resolver) extractProfile(html string) *Profile {
	p := newProfile(r.config.Duplicates)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return p
	}

	extractStructuredData(doc, p)
	extractName(doc, p)
	extractAttributePairs(doc, p)
	extractImage(doc, p)
	extractSiteLinks(doc, p)
	extractSocialLinks(doc, p)

	return p
}

// ldEntity is the subset of a JSON-LD record the resolver cares about.
type ldEntity struct {
	Type   string
	Name   string
	Image  string
	SameAs []string
}

// extractStructuredData scans embedded JSON-LD blocks for a Person
// entity and pulls name, image and social links from it. Malformed
// blocks are skipped, not fatal; the portal embeds third-party widgets
// with broken JSON-LD regularly.
func extractStructuredData(doc *goquery.Document, p *Profile) {
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" || !strings.Contains(raw, `"@type"`) {
			return
		}

		var any interface{}
		if err := json.Unmarshal([]byte(raw), &any); err != nil {
			return
		}

		var candidates []map[string]interface{}
		switch v := any.(type) {
		case map[string]interface{}:
			candidates = append(candidates, v)
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					candidates = append(candidates, m)
				}
			}
		}

		for _, m := range candidates {
			e := decodeLDEntity(m)
			if !strings.EqualFold(e.Type, "Person") {
				continue
			}
			p.put(keyName, e.Name)
			p.put(keyImage, e.Image)
			for _, link := range e.SameAs {
				lower := strings.ToLower(link)
				if strings.Contains(lower, "instagram") {
					p.put("인스타그램", link)
				}
				if strings.Contains(lower, "twitter") || strings.Contains(lower, "x.com") {
					p.put("X(트위터)", link)
				}
			}
		}
	})
}

func decodeLDEntity(m map[string]interface{}) ldEntity {
	var e ldEntity
	if t, ok := m["@type"].(string); ok {
		e.Type = t
	}
	if n, ok := m["name"].(string); ok {
		e.Name = strings.TrimSpace(n)
	}
	if img, ok := m["image"].(string); ok {
		e.Image = strings.TrimSpace(img)
	}
	if sameAs, ok := m["sameAs"].([]interface{}); ok {
		for _, link := range sameAs {
			if href, ok := link.(string); ok {
				e.SameAs = append(e.SameAs, href)
			}
		}
	}
	return e
}

// extractName tries the ordered name selectors until one yields text.
func extractName(doc *goquery.Document, p *Profile) {
	if p.Name() != "" {
		return
	}
	for _, sel := range nameSelectors {
		if text := normalizeSpace(doc.Find(sel).First().Text()); text != "" {
			p.put(keyName, text)
			return
		}
	}
}

// extractAttributePairs collects dt/dd label-value pairs from every
// definition list. The duplicate policy keeps the first non-blank value
// for a label, so repeated labels further down the page do not clobber
// the summary card.
func extractAttributePairs(doc *goquery.Document, p *Profile) {
	doc.Find("div.detail_info dl, .cm_list_info dl, dl").Each(func(_ int, dl *goquery.Selection) {
		// Grouped rows
		dl.Find("div.info_group, dl").Each(func(_ int, group *goquery.Selection) {
			group.ChildrenFiltered("dt").Each(func(_ int, dt *goquery.Selection) {
				label := normalizeSpace(dt.Text())
				if label == "" {
					return
				}
				dd := dt.Next()
				if !dd.Is("dd") {
					dd = group.ChildrenFiltered("dd").First()
				}
				p.put(label, dd.Text())
			})
		})
		// Pairs directly under the dl
		dl.ChildrenFiltered("dt").Each(func(_ int, dt *goquery.Selection) {
			dd := dt.Next()
			if dd.Is("dd") {
				p.put(dt.Text(), dd.Text())
			}
		})
	})
}

// extractImage tries the ordered image selectors, then falls back to the
// generic og:image meta tag.
func extractImage(doc *goquery.Document, p *Profile) {
	if p.Image() != "" {
		return
	}
	for _, sel := range imageSelectors {
		if src := imgSrc(doc.Find(sel).First()); src != "" {
			p.put(keyImage, src)
			return
		}
	}
	if og := doc.Find(`meta[property="og:image"]`).First(); og.Length() > 0 {
		p.put(keyImage, og.AttrOr("content", ""))
	}
}

// imgSrc resolves the effective source of an img element, probing the
// lazy-load attributes and finally the first srcset candidate.
func imgSrc(img *goquery.Selection) string {
	if img.Length() == 0 {
		return ""
	}
	for _, attr := range imageSrcAttrs {
		if v := normalizeSpace(img.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	srcset := normalizeSpace(img.AttrOr("srcset", ""))
	if srcset == "" {
		return ""
	}
	first := strings.TrimSpace(strings.Split(srcset, ",")[0])
	if fields := strings.Fields(first); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// extractSiteLinks harvests the "site" / "official site" rows, which list
// one anchor per destination with the destination name as link text.
func extractSiteLinks(doc *goquery.Document, p *Profile) {
	doc.Find("div.detail_info dt, .cm_list_info dt, dl dt").Each(func(_ int, dt *goquery.Selection) {
		key := normalizeSpace(dt.Text())
		if key != "사이트" && key != "공식사이트" {
			return
		}
		dt.Next().Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			p.put(a.Text(), a.AttrOr("href", ""))
		})
	})
}

// extractSocialLinks scans every hyperlink for known social platforms by
// visible text or URL, case-insensitive.
func extractSocialLinks(doc *goquery.Document, p *Profile) {
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		text := normalizeSpace(a.Text())
		href := normalizeSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		lower := strings.ToLower(text)
		hit := strings.Contains(lower, "인스타그램") || strings.Contains(lower, "instagram") ||
			strings.Contains(lower, "트위터") || strings.Contains(lower, "x(트위터)") ||
			strings.Contains(href, "x.com")
		if !hit {
			return
		}
		label := text
		if label == "" {
			label = "인스타그램"
		}
		p.put(label, href)
	})
}
