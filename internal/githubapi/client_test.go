package githubapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changebot/changebot/internal/reconcile"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-token", WithBaseURL(srv.URL))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestReadFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/contents/CHANGELOG.md", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "abc123", r.URL.Query().Get("ref"))
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("## 1.0.0\n* #1\n")),
		})
	})
	mux.HandleFunc("GET /repos/o/r/contents/docs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"type": "file", "name": "a.md"}})
	})
	mux.HandleFunc("GET /repos/o/r/contents/link", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"type": "symlink", "target": "CHANGELOG.md"})
	})
	c := newTestClient(t, mux)

	got, err := c.ReadFile(context.Background(), "o", "r", "CHANGELOG.md", "abc123")
	require.NoError(t, err)
	assert.Equal(t, FileContent{Text: "## 1.0.0\n* #1\n"}, got)

	got, err = c.ReadFile(context.Background(), "o", "r", "docs", "")
	require.NoError(t, err)
	assert.Equal(t, OtherContent{Type: "dir"}, got)

	got, err = c.ReadFile(context.Background(), "o", "r", "link", "")
	require.NoError(t, err)
	assert.Equal(t, OtherContent{Type: "symlink"}, got)

	_, err = c.ReadFile(context.Background(), "o", "r", "missing.md", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAnnotations_Paginates(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/o/r/issues/1/comments?page=2>; rel="next"`, srvURL))
			writeJSON(w, http.StatusOK, []map[string]any{
				{"body": "first", "user": map[string]any{"login": "alice"}},
			})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"body": "second", "user": map[string]any{"login": "changebot[bot]"}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL
	c, err := NewClient("", WithBaseURL(srv.URL))
	require.NoError(t, err)

	got, err := c.Tracker("o", "r").ListAnnotations(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, []reconcile.Annotation{
		{Body: "first", Author: "alice"},
		{Body: "second", Author: "changebot[bot]"},
	}, got)
}

func TestListAnnotations_MissingIssue(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())

	_, err := c.ListAnnotations(context.Background(), "o", "r", 404)

	assert.ErrorIs(t, err, reconcile.ErrIssueNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostAnnotation(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/o/r/issues/3/comments", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, map[string]any{"id": 1})
	})
	c := newTestClient(t, mux)

	err := c.Tracker("o", "r").PostAnnotation(context.Background(), 3, "This was released in [1.0.0](x#100)")

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"body": "This was released in [1.0.0](x#100)"}, got)

	err = c.PostAnnotation(context.Background(), "o", "r", 4, "x")
	assert.ErrorIs(t, err, reconcile.ErrIssueNotFound)
}

func TestWrapError_RateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "API rate limit exceeded"})
	})
	c := newTestClient(t, mux)

	_, err := c.DefaultBranch(context.Background(), "o", "r")

	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestDefaultBranchAndIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"default_branch": "trunk"})
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"login": "octocat"})
	})
	c := newTestClient(t, mux)

	branch, err := c.DefaultBranch(context.Background(), "o", "r")
	require.NoError(t, err)
	assert.Equal(t, "trunk", branch)

	login, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", login)
}

func TestCreateChangelogPullRequest_AlreadyDone(t *testing.T) {
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/git/ref/{ref...}", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "get-ref")
		writeJSON(w, http.StatusOK, map[string]any{"object": map[string]any{"sha": "abc"}})
	})
	unprocessable := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, name)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Validation Failed"})
		}
	}
	mux.HandleFunc("POST /repos/o/r/git/refs", unprocessable("create-ref"))
	mux.HandleFunc("PUT /repos/o/r/contents/CHANGELOG.md", unprocessable("create-file"))
	mux.HandleFunc("POST /repos/o/r/pulls", unprocessable("create-pr"))
	c := newTestClient(t, mux)

	err := c.CreateChangelogPullRequest(context.Background(), "o", "r", "main", "", "CHANGELOG.md")

	require.NoError(t, err)
	assert.Equal(t, []string{"get-ref", "create-ref", "create-file", "create-pr"}, calls)
}

func TestCreateChangelogPullRequest_CommitsTemplate(t *testing.T) {
	var content []byte
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/git/ref/{ref...}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"object": map[string]any{"sha": "abc"}})
	})
	mux.HandleFunc("POST /repos/o/r/git/refs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{})
	})
	mux.HandleFunc("PUT /repos/o/r/contents/docs/CHANGES.md", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Content []byte `json:"content"`
			Branch  string `json:"branch"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "bootstrap", in.Branch)
		content = in.Content
		writeJSON(w, http.StatusCreated, map[string]any{})
	})
	mux.HandleFunc("POST /repos/o/r/pulls", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"number": 12})
	})
	c := newTestClient(t, mux)

	err := c.CreateChangelogPullRequest(context.Background(), "o", "r", "main", "bootstrap", "docs/CHANGES.md")

	require.NoError(t, err)
	assert.Equal(t, ChangelogTemplate(), content)
	assert.Contains(t, string(content), "## [Unreleased]")
}

func TestCreateChangelogPullRequest_MissingBase(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())

	err := c.CreateChangelogPullRequest(context.Background(), "o", "r", "main", "", "CHANGELOG.md")

	assert.ErrorIs(t, err, ErrNotFound)
}
