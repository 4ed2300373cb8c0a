package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/changebot/changebot/internal/changelog"
	"github.com/changebot/changebot/internal/githubapi"
	"github.com/changebot/changebot/internal/reconcile"
)

// Settings control how repositories are processed.
type Settings struct {
	ChangelogPath   string
	BootstrapBranch string
	HTMLBaseURL     string
	Concurrency     int
	DryRun          bool
}

func (s Settings) withDefaults() Settings {
	if s.ChangelogPath == "" {
		s.ChangelogPath = "CHANGELOG.md"
	}
	if s.BootstrapBranch == "" {
		s.BootstrapBranch = githubapi.DefaultBootstrapBranch
	}
	if s.HTMLBaseURL == "" {
		s.HTMLBaseURL = "https://github.com"
	}
	if s.Concurrency <= 0 {
		s.Concurrency = reconcile.DefaultConcurrency
	}
	return s
}

// Annotator runs changebot against a single repository.
type Annotator struct {
	client   *githubapi.Client
	author   string
	settings Settings
}

// NewAnnotator returns an Annotator commenting through client as author.
func NewAnnotator(client *githubapi.Client, author string, settings Settings) *Annotator {
	return &Annotator{
		client:   client,
		author:   author,
		settings: settings.withDefaults(),
	}
}

// Annotate reads the changelog at ref and makes sure every issue of every
// shipped release carries its "released in" comment. Links point at the
// changelog on branch so they stay valid, and identical, across pushes. A
// repository without a changelog is not an error.
func (a *Annotator) Annotate(ctx context.Context, owner, repo, ref, branch string) ([]reconcile.Decision, error) {
	doc, found, err := a.readChangelog(ctx, owner, repo, ref)
	if err != nil || !found {
		return nil, err
	}
	return a.annotate(ctx, owner, repo, doc, branch)
}

// Install handles a repository the App was just installed on: one without
// a changelog gets a pull request adding it, one with a changelog has its
// release history annotated.
func (a *Annotator) Install(ctx context.Context, owner, repo string) ([]reconcile.Decision, error) {
	branch, err := a.client.DefaultBranch(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	doc, found, err := a.readChangelog(ctx, owner, repo, branch)
	if err != nil {
		return nil, err
	}
	if !found {
		if a.settings.DryRun {
			slog.Info("dry-run: would open changelog pull request", "repo", owner+"/"+repo)
			return nil, nil
		}
		return nil, a.client.CreateChangelogPullRequest(ctx, owner, repo, branch, a.settings.BootstrapBranch, a.settings.ChangelogPath)
	}
	return a.annotate(ctx, owner, repo, doc, branch)
}

func (a *Annotator) readChangelog(ctx context.Context, owner, repo, ref string) (string, bool, error) {
	path := a.settings.ChangelogPath
	content, err := a.client.ReadFile(ctx, owner, repo, path, ref)
	if errors.Is(err, githubapi.ErrNotFound) {
		slog.Info("no changelog", "repo", owner+"/"+repo, "path", path, "ref", ref)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read changelog: %w", err)
	}

	switch c := content.(type) {
	case githubapi.FileContent:
		return c.Text, true, nil
	case githubapi.OtherContent:
		slog.Warn("changelog is not a file", "repo", owner+"/"+repo, "path", path, "type", c.Type)
	}
	return "", false, nil
}

func (a *Annotator) annotate(ctx context.Context, owner, repo, doc, branch string) ([]reconcile.Decision, error) {
	cl := changelog.Parse(ctx, doc)
	slog.Info("parsed changelog", "repo", owner+"/"+repo, "releases", len(cl.Releases))

	link := reconcile.Link{
		BaseURL: a.settings.HTMLBaseURL,
		Owner:   owner,
		Repo:    repo,
		Branch:  branch,
		Path:    a.settings.ChangelogPath,
	}
	rec := reconcile.New(a.client.Tracker(owner, repo), a.author,
		reconcile.WithConcurrency(a.settings.Concurrency),
		reconcile.WithDryRun(a.settings.DryRun),
	)
	return rec.Run(ctx, cl, link)
}
