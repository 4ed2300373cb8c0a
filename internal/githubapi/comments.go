package githubapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-github/v62/github"

	"github.com/changebot/changebot/internal/reconcile"
)

// ListAnnotations returns every comment on an issue or pull request,
// oldest first.
func (c *Client) ListAnnotations(ctx context.Context, owner, repo string, number int) ([]reconcile.Annotation, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var out []reconcile.Annotation
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, issueError(wrapError(err, resp, "list comments on %s/%s#%d", owner, repo, number))
		}
		for _, cm := range comments {
			out = append(out, reconcile.Annotation{
				Body:   cm.GetBody(),
				Author: cm.GetUser().GetLogin(),
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// PostAnnotation comments body on an issue or pull request.
func (c *Client) PostAnnotation(ctx context.Context, owner, repo string, number int, body string) error {
	_, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return issueError(wrapError(err, resp, "comment on %s/%s#%d", owner, repo, number))
	}
	return nil
}

// issueError tags not-found errors so the reconciler skips the issue.
func issueError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", reconcile.ErrIssueNotFound, err)
	}
	return err
}

// RepoTracker scopes a Client to one repository for the reconciler.
type RepoTracker struct {
	client *Client
	owner  string
	repo   string
}

func (c *Client) Tracker(owner, repo string) *RepoTracker {
	return &RepoTracker{client: c, owner: owner, repo: repo}
}

func (t *RepoTracker) ListAnnotations(ctx context.Context, number int) ([]reconcile.Annotation, error) {
	return t.client.ListAnnotations(ctx, t.owner, t.repo, number)
}

func (t *RepoTracker) PostAnnotation(ctx context.Context, number int, body string) error {
	return t.client.PostAnnotation(ctx, t.owner, t.repo, number, body)
}
