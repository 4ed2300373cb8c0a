// Package githubapi talks to the GitHub REST API on behalf of changebot:
// reading changelogs, listing and posting issue comments, and opening the
// pull request that adds a changelog to repositories without one.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized access to GitHub API")
	ErrRateLimited  = errors.New("rate limited by GitHub API")
)

type Client struct {
	gh *github.Client
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the client at another API root, such as a GitHub
// Enterprise server or a test server.
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client requests are sent with.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// NewClient returns a client authenticating with token, which may be a
// personal access token or an installation token. An empty token makes
// unauthenticated requests.
func NewClient(token string, opts ...Option) (*Client, error) {
	o := resolveOptions(opts)
	gh := github.NewClient(o.httpClient)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if o.baseURL != "" {
		u, err := parseBaseURL(o.baseURL)
		if err != nil {
			return nil, err
		}
		gh.BaseURL = u
	}
	return &Client{gh: gh}, nil
}

func resolveOptions(opts []Option) clientOptions {
	o := clientOptions{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", raw, err)
	}
	return u, nil
}

// DefaultBranch returns the name of the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	r, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", wrapError(err, resp, "get repository %s/%s", owner, repo)
	}
	return r.GetDefaultBranch(), nil
}

// Identity returns the login the client's comments are authored under.
func (c *Client) Identity(ctx context.Context) (string, error) {
	u, resp, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", wrapError(err, resp, "get authenticated user")
	}
	return u.GetLogin(), nil
}

// wrapError maps GitHub status codes onto the package's sentinel errors.
func wrapError(err error, resp *github.Response, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", msg, ErrNotFound)
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", msg, ErrUnauthorized)
		case http.StatusForbidden:
			if resp.Header.Get("X-RateLimit-Remaining") == "0" {
				return fmt.Errorf("%s: %w", msg, ErrRateLimited)
			}
			return fmt.Errorf("%s: %w: access forbidden", msg, ErrUnauthorized)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func statusCode(resp *github.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
