package utf

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// \w would be ASCII-only under RE2, so spell out the Unicode
	// letter/number classes to keep non-ASCII filenames intact.
	slugDisallowed = regexp.MustCompile(`[^\p{L}\p{N}_\s.,+-]`)
	slugCollapse   = regexp.MustCompile(`[-\s]+`)
)

// Slugify normalizes a directory-page filename into something safe to
// use as a path component. With allowUnicode it NFKC-normalizes and
// keeps non-ASCII letters; without it, it folds to an ASCII-only
// approximation first.
func Slugify(value string, allowUnicode bool) string {
	if allowUnicode {
		value = norm.NFKC.String(value)
	} else {
		value = norm.NFKD.String(value)
		var b strings.Builder
		for _, r := range value {
			if r < 0x80 {
				b.WriteRune(r)
			}
		}
		value = b.String()
	}

	value = strings.ToLower(value)
	value = slugDisallowed.ReplaceAllString(value, "")
	value = slugCollapse.ReplaceAllString(value, "-")
	return strings.Trim(value, "-_")
}

// Slug returns the page's "filename" column with any directory prefix
// stripped, slugified. It reports false if the page has no such column
// or the column isn't a string.
func (p *Page) Slug(allowUnicode bool) (string, bool) {
	el, ok := p.Get("filename")
	if !ok {
		return "", false
	}
	s, ok := el.String()
	if !ok {
		return "", false
	}
	s = s[strings.LastIndexByte(s, '/')+1:]
	return Slugify(s, allowUnicode), true
}
