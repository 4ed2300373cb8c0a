package changelog

import "strings"

// Anchor converts heading text into the fragment GitHub generates for it,
// e.g. "[1.2.3] (2021-08-24)" becomes "123-2021-08-24".
//
// Anything other than ASCII word characters, hyphens and spaces is dropped
// before spaces become hyphens, so brackets and dots vanish rather than
// turning into separators.
func Anchor(heading string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(heading)) {
		switch {
		case isWordRune(r), r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func isWordRune(r rune) bool {
	return r == '_' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9')
}
