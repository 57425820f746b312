package text

import (
	"strings"
)

// referenceHeadings are tried in order; the first heading present wins, and
// the cut is at its last occurrence. With mixed headings this is not
// necessarily the last heading in the text.
var referenceHeadings = []string{
	"\nReferences\n",
	"\nREFERENCES\n",
	"\nBibliography\n",
}

// Normalize joins lines, collapses whitespace runs to a single space, trims,
// and rejoins words hyphenated across line breaks ("algorithm- ic").
func Normalize(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	return strings.ReplaceAll(s, "- ", "")
}

// StripReferences drops everything from the last reference heading onward.
// It must run on raw text, before Normalize removes the newlines it keys on.
//
// A body section that is itself titled "References" will also be cut.
func StripReferences(raw string) string {
	for _, h := range referenceHeadings {
		if i := strings.LastIndex(raw, h); i >= 0 {
			return raw[:i]
		}
	}
	return raw
}

type Normalizer struct {
	StripReferences bool
}

func (n Normalizer) Clean(raw string) string {
	if n.StripReferences {
		raw = StripReferences(raw)
	}
	return Normalize(raw)
}
