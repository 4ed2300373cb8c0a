// Package reconcile decides which issues still need a "released in"
// annotation and posts the missing ones.
package reconcile

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/changebot/changebot/internal/changelog"
)

// Annotation is a comment already present on an issue.
type Annotation struct {
	Body   string
	Author string
}

// ShouldAnnotate reports whether body still has to be posted by author,
// i.e. no existing annotation carries exactly the same text from the same
// author. Annotation bodies are derived only from the release and the
// changelog link, so re-running over an unchanged changelog finds its own
// earlier comments and posts nothing.
func ShouldAnnotate(body, author string, existing []Annotation) bool {
	for _, a := range existing {
		if a.Body == body && a.Author == author {
			return false
		}
	}
	return true
}

// Eligible reports whether a release has shipped and its issues may be
// annotated.
func Eligible(r changelog.Release) bool {
	return !r.Unreleased()
}

// Link locates a repository's changelog on the web.
type Link struct {
	BaseURL string // e.g. https://github.com
	Owner   string
	Repo    string
	Branch  string
	Path    string
}

// URL returns the address of the release's heading within the changelog.
func (l Link) URL(r changelog.Release) string {
	base := strings.TrimSuffix(l.BaseURL, "/")
	u, err := url.JoinPath(base, l.Owner, l.Repo, "blob", l.Branch, l.Path)
	if err != nil {
		u = fmt.Sprintf("%s/%s/%s/blob/%s/%s", base, l.Owner, l.Repo, l.Branch, l.Path)
	}
	return u + "#" + changelog.Anchor(r.Heading)
}

// Body renders the annotation for release. Changing this wording makes
// every previously annotated issue receive a second comment.
func Body(r changelog.Release, link Link) string {
	return fmt.Sprintf("This was released in [%s](%s)", r.Name, link.URL(r))
}

// Candidate is one annotation the changelog asks for.
type Candidate struct {
	Release changelog.Release
	Issue   changelog.Issue
	Body    string
}

// Candidates lists, in changelog order, an annotation for every issue of
// every eligible release.
func Candidates(cl changelog.ChangeLog, link Link) []Candidate {
	var out []Candidate
	for _, r := range cl.Releases {
		if !Eligible(r) {
			continue
		}
		body := Body(r, link)
		for _, issue := range r.Issues {
			out = append(out, Candidate{Release: r, Issue: issue, Body: body})
		}
	}
	return out
}
