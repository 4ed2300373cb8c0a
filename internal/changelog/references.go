package changelog

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
)

var (
	hashRefPattern = regexp.MustCompile(`#(\d+)`)
	linkRefPattern = regexp.MustCompile(`/(?:issues|pulls?)/(\d+)\b`)
)

type reference struct {
	pos    int
	number int
}

// ExtractIssues finds every issue referenced in text, either as #123 (bare,
// parenthesized or bracketed) or as a link ending in /issues/123 or
// /pulls/123. Issues are returned in order of first appearance with
// duplicates removed; "#7" and ".../pulls/7" are the same issue.
func ExtractIssues(text string) []Issue {
	refs := findRefs(nil, hashRefPattern, text)
	refs = findRefs(refs, linkRefPattern, text)
	slices.SortStableFunc(refs, func(a, b reference) int {
		return cmp.Compare(a.pos, b.pos)
	})

	seen := make(map[int]bool, len(refs))
	var unique []Issue
	for _, r := range refs {
		if !seen[r.number] {
			seen[r.number] = true
			unique = append(unique, Issue{Number: r.number})
		}
	}
	return unique
}

func findRefs(refs []reference, re *regexp.Regexp, text string) []reference {
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || n <= 0 {
			continue
		}
		refs = append(refs, reference{pos: m[0], number: n})
	}
	return refs
}
