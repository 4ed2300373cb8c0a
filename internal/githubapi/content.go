package githubapi

import (
	"context"
	"fmt"

	"github.com/google/go-github/v62/github"
)

// Content is what a path in a repository resolves to: FileContent or
// OtherContent.
type Content interface {
	isContent()
}

// FileContent is a regular file, decoded to text.
type FileContent struct {
	Text string
}

// OtherContent is anything that is not a regular file: a directory, a
// symlink or a submodule.
type OtherContent struct {
	Type string
}

func (FileContent) isContent()  {}
func (OtherContent) isContent() {}

// ReadFile reads path at ref. An empty ref reads the default branch. A
// path that does not exist returns ErrNotFound.
func (c *Client) ReadFile(ctx context.Context, owner, repo, path, ref string) (Content, error) {
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, wrapError(err, resp, "get %s in %s/%s@%s", path, owner, repo, ref)
	}

	if file == nil {
		return OtherContent{Type: "dir"}, nil
	}
	if file.GetType() != "file" {
		return OtherContent{Type: file.GetType()}, nil
	}

	text, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s in %s/%s@%s: %w", path, owner, repo, ref, err)
	}
	return FileContent{Text: text}, nil
}
