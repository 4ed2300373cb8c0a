package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/changebot/changebot/internal/githubapi"
)

type comment struct {
	Body string `json:"body"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
}

// fakeGitHub serves the REST endpoints changebot uses for a single
// repository, o/r.
type fakeGitHub struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	changelog *string
	comments  map[string][]comment
	missing   map[string]bool
	posted    []string
	requests  []string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{
		t:        t,
		comments: make(map[string][]comment),
		missing:  make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"name": "r", "full_name": "o/r", "default_branch": "main"})
	})
	mux.HandleFunc("GET /repos/o/r/contents/CHANGELOG.md", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.changelog == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"encoding": "base64",
			"path":     "CHANGELOG.md",
			"content":  base64.StdEncoding.EncodeToString([]byte(*f.changelog)),
		})
	})
	mux.HandleFunc("GET /repos/o/r/issues/{number}/comments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		n := r.PathValue("number")
		if f.missing[n] {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		cs := f.comments[n]
		if cs == nil {
			cs = []comment{}
		}
		writeJSON(w, http.StatusOK, cs)
	})
	mux.HandleFunc("POST /repos/o/r/issues/{number}/comments", func(w http.ResponseWriter, r *http.Request) {
		var in comment
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode comment: %v", err)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		n := r.PathValue("number")
		in.User.Login = "changebot[bot]"
		f.comments[n] = append(f.comments[n], in)
		f.posted = append(f.posted, "#"+n+" "+in.Body)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 1, "body": in.Body})
	})
	mux.HandleFunc("GET /repos/o/r/git/ref/{ref...}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"ref":    "refs/heads/main",
			"object": map[string]any{"type": "commit", "sha": "aa218f56b14c9653891f9e74264a383fa43fefbd"},
		})
	})
	mux.HandleFunc("POST /repos/o/r/git/refs", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusCreated, map[string]any{"ref": "refs/heads/changebot/add-changelog"})
	})
	mux.HandleFunc("PUT /repos/o/r/contents/CHANGELOG.md", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusCreated, map[string]any{})
	})
	mux.HandleFunc("POST /repos/o/r/pulls", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		writeJSON(w, http.StatusCreated, map[string]any{"number": 7})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitHub) setChangelog(doc string) {
	f.mu.Lock()
	f.changelog = &doc
	f.mu.Unlock()
}

// record keeps "METHOD path body" for the write endpoints.
func (f *fakeGitHub) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path+" "+string(body))
	f.mu.Unlock()
}

func (f *fakeGitHub) client() *githubapi.Client {
	c, err := githubapi.NewClient("test", githubapi.WithBaseURL(f.srv.URL))
	if err != nil {
		f.t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fakeApps struct {
	gh    *fakeGitHub
	login string
	ids   []int64
}

func (a *fakeApps) Installation(_ context.Context, installationID int64) (*githubapi.Client, error) {
	a.ids = append(a.ids, installationID)
	return a.gh.client(), nil
}

func (a *fakeApps) Login(context.Context) (string, error) {
	return a.login, nil
}
