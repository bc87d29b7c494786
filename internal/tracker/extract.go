package tracker

import (
	"iter"
	"regexp"
	"strings"
)

// assetAttr matches src="..." and href="..." attributes. Attribute names are
// case-sensitive and the value stops at the first closing quote.
var assetAttr = regexp.MustCompile(`(src|href)="([^"]*)"`)

// ExtractAssets yields every src/href value in html in document order,
// resolving values without a scheme separator against baseURL. Duplicates are
// kept. The sequence is lazy and can be ranged over more than once.
func ExtractAssets(html, baseURL string) iter.Seq[string] {
	return func(yield func(string) bool) {
		rest := html
		for {
			loc := assetAttr.FindStringSubmatchIndex(rest)
			if loc == nil {
				return
			}
			if !yield(ResolveAsset(rest[loc[4]:loc[5]], baseURL)) {
				return
			}
			rest = rest[loc[1]:]
		}
	}
}

// ResolveAsset prefixes relative asset references with baseURL. Anything
// containing "://" is returned untouched.
func ResolveAsset(value, baseURL string) string {
	if strings.Contains(value, "://") {
		return value
	}
	return baseURL + value
}
