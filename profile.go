package resolver

import (
	"regexp"
	"strings"

	"github.com/newshub/resolver/models"
)

// Reserved profile keys, normalized out of the attribute map when a
// Result is built.
const (
	keyName  = "naver_name"
	keyImage = "naver_image"
)

// DuplicatePolicy controls what happens when an extraction pass finds a
// label that already holds a non-blank value.
type DuplicatePolicy int

const (
	// FirstNonBlankWins keeps the value found by the earliest strategy.
	// This is how the source site is laid out: the summary card at the
	// top of the page is authoritative, later repetitions of the same
	// label (related-people sidebars, collapsed panels) are noise.
	FirstNonBlankWins DuplicatePolicy = iota

	// LastWins lets later passes overwrite earlier values.
	LastWins
)

// Profile is the normalized output of one extraction run: an ordered
// label/value map with two privileged entries for name and image.
type Profile struct {
	info   *models.InfoMap
	policy DuplicatePolicy
}

func newProfile(policy DuplicatePolicy) *Profile {
	return &Profile{info: models.NewInfoMap(), policy: policy}
}

// put inserts value under label subject to the duplicate policy. Blank
// labels and blank values are ignored outright.
func (p *Profile) put(label, value string) {
	label = normalizeSpace(label)
	value = normalizeSpace(value)
	if label == "" || value == "" {
		return
	}
	if p.policy == FirstNonBlankWins && p.info.Get(label) != "" {
		return
	}
	p.info.Set(label, value)
}

// Name returns the extracted person name, or "".
func (p *Profile) Name() string { return p.info.Get(keyName) }

// Image returns the extracted image URL, or "".
func (p *Profile) Image() string { return p.info.Get(keyImage) }

// Filled reports whether the profile carries anything usable: a name,
// an image, or at least one attribute pair. This predicate gates every
// fallback decision in the cascade.
func (p *Profile) Filled() bool {
	if p == nil {
		return false
	}
	if p.Name() != "" || p.Image() != "" {
		return true
	}
	for _, k := range p.info.Keys() {
		if k == keyName || k == keyImage {
			continue
		}
		if p.info.Get(k) != "" {
			return true
		}
	}
	return false
}

// Info returns the attribute map without the privileged name/image keys,
// in extraction order.
func (p *Profile) Info() *models.InfoMap {
	out := models.NewInfoMap()
	for _, k := range p.info.Keys() {
		if k == keyName || k == keyImage {
			continue
		}
		if v := p.info.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	return out
}

var spaceRe = regexp.MustCompile(`\s+`)

// normalizeSpace collapses runs of whitespace to single spaces and trims.
func normalizeSpace(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
