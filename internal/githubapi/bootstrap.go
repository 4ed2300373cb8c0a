package githubapi

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v62/github"
)

//go:embed templates/CHANGELOG.md
var changelogTemplate []byte

const DefaultBootstrapBranch = "changebot/add-changelog"

const (
	bootstrapCommitMessage = "A new and shiny changelog"
	bootstrapTitle         = "Keep A ChangeLog!"
	bootstrapBody          = "You don't currently have a CHANGELOG.md file, this PR fixes that!"
)

// ChangelogTemplate returns the changelog committed by
// CreateChangelogPullRequest.
func ChangelogTemplate() []byte {
	return changelogTemplate
}

// CreateChangelogPullRequest branches off base, commits a starter
// changelog at path and opens a pull request for it. Steps that already
// happened on an earlier attempt (branch, file or pull request exists) are
// skipped, so the call can be repeated.
func (c *Client) CreateChangelogPullRequest(ctx context.Context, owner, repo, base, branch, path string) error {
	if branch == "" {
		branch = DefaultBootstrapBranch
	}

	baseRef, resp, err := c.gh.Git.GetRef(ctx, owner, repo, "heads/"+base)
	if err != nil {
		return wrapError(err, resp, "get ref heads/%s in %s/%s", base, owner, repo)
	}

	_, resp, err = c.gh.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.GetObject().SHA},
	})
	switch {
	case statusCode(resp) == http.StatusUnprocessableEntity:
		slog.Info("bootstrap branch already exists", "repo", owner+"/"+repo, "branch", branch)
	case err != nil:
		return wrapError(err, resp, "create branch %s in %s/%s", branch, owner, repo)
	}

	_, resp, err = c.gh.Repositories.CreateFile(ctx, owner, repo, path, &github.RepositoryContentFileOptions{
		Message: github.String(bootstrapCommitMessage),
		Content: changelogTemplate,
		Branch:  github.String(branch),
	})
	switch {
	case statusCode(resp) == http.StatusUnprocessableEntity:
		slog.Info("changelog already committed on bootstrap branch", "repo", owner+"/"+repo, "branch", branch)
	case err != nil:
		return wrapError(err, resp, "create %s on %s in %s/%s", path, branch, owner, repo)
	}

	pr, resp, err := c.gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(bootstrapTitle),
		Head:  github.String(branch),
		Base:  github.String(base),
		Body:  github.String(bootstrapBody),
	})
	switch {
	case statusCode(resp) == http.StatusUnprocessableEntity:
		slog.Info("changelog pull request already open", "repo", owner+"/"+repo, "branch", branch)
		return nil
	case err != nil:
		return wrapError(err, resp, "open pull request in %s/%s", owner, repo)
	}

	slog.Info("opened changelog pull request", "repo", owner+"/"+repo, "number", pr.GetNumber())
	return nil
}
