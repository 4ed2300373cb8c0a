// Package webhook receives GitHub App deliveries and annotates the issues
// named in a repository's changelog.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/google/uuid"

	"github.com/changebot/changebot/internal/githubapi"
	"github.com/changebot/changebot/internal/reconcile"
)

const maxBodySize = 1 << 20 // 1 MB

// processTimeout bounds the work done for one delivery. GitHub stops
// waiting for a response after 10 seconds, so deliveries are acknowledged
// first and processed afterwards.
const processTimeout = 10 * time.Minute

// Installations hands out API clients for App installations.
type Installations interface {
	Installation(ctx context.Context, installationID int64) (*githubapi.Client, error)
	Login(ctx context.Context) (string, error)
}

type WebhookHandler struct {
	secret   []byte
	apps     Installations
	settings Settings
	botLogin string

	inflight sync.WaitGroup
}

// NewWebhookHandler returns a handler verifying deliveries with secret.
// botLogin overrides the comment author looked up from the App.
func NewWebhookHandler(secret string, apps Installations, settings Settings, botLogin string) *WebhookHandler {
	return &WebhookHandler{
		secret:   []byte(secret),
		apps:     apps,
		settings: settings.withDefaults(),
		botLogin: botLogin,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery == "" {
		delivery = uuid.NewString()
	}
	eventType := r.Header.Get("X-GitHub-Event")
	log := slog.With("delivery", delivery, "event", eventType)

	event, err := github.ParseWebHook(eventType, body)
	if err != nil {
		log.Info("ignoring delivery", "reason", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Processing failures are logged, not reported: a non-2xx status only
	// makes GitHub redeliver into the same failure.
	w.WriteHeader(http.StatusOK)

	ctx := context.WithoutCancel(r.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(ctx, processTimeout)
		defer cancel()
		h.process(ctx, log, event)
	}()
}

// Wait blocks until every acknowledged delivery has been processed.
func (h *WebhookHandler) Wait() {
	h.inflight.Wait()
}

func (h *WebhookHandler) process(ctx context.Context, log *slog.Logger, event any) {
	switch e := event.(type) {
	case *github.PushEvent:
		h.handlePush(ctx, log, e)
	case *github.InstallationEvent:
		if e.GetAction() == "created" {
			h.handleInstall(ctx, log, e.GetInstallation(), e.Repositories)
		}
	case *github.InstallationRepositoriesEvent:
		if e.GetAction() == "added" {
			h.handleInstall(ctx, log, e.GetInstallation(), e.RepositoriesAdded)
		}
	default:
		log.Debug("ignoring event")
	}
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	sig, err := hex.DecodeString(signature[len("sha256="):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

func (h *WebhookHandler) handlePush(ctx context.Context, log *slog.Logger, e *github.PushEvent) {
	repo := e.GetRepo()
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = e.GetOrganization().GetLogin()
	}
	name := repo.GetName()
	branch := repo.GetDefaultBranch()
	log = log.With("repo", owner+"/"+name)

	if e.GetRef() != "refs/heads/"+branch {
		log.Info("ignoring push to non-default branch", "ref", e.GetRef())
		return
	}
	if !touches(e, h.settings.ChangelogPath) {
		log.Info("push does not change the changelog", "path", h.settings.ChangelogPath)
		return
	}

	annotator, err := h.annotator(ctx, e.GetInstallation().GetID())
	if err != nil {
		log.Error("failed to authenticate installation", "error", err)
		return
	}

	decisions, err := annotator.Annotate(ctx, owner, name, e.GetAfter(), branch)
	logDecisions(log, decisions, err)
}

func (h *WebhookHandler) handleInstall(ctx context.Context, log *slog.Logger, inst *github.Installation, repos []*github.Repository) {
	annotator, err := h.annotator(ctx, inst.GetID())
	if err != nil {
		log.Error("failed to authenticate installation", "error", err)
		return
	}

	for _, r := range repos {
		owner, name := repoName(r, inst)
		rlog := log.With("repo", owner+"/"+name)
		decisions, err := annotator.Install(ctx, owner, name)
		logDecisions(rlog, decisions, err)
	}
}

func (h *WebhookHandler) annotator(ctx context.Context, installationID int64) (*Annotator, error) {
	client, err := h.apps.Installation(ctx, installationID)
	if err != nil {
		return nil, err
	}
	author := h.botLogin
	if author == "" {
		if author, err = h.apps.Login(ctx); err != nil {
			return nil, err
		}
	}
	return NewAnnotator(client, author, h.settings), nil
}

// touches reports whether any commit of the push added or modified path.
func touches(e *github.PushEvent, path string) bool {
	commits := e.Commits
	if hc := e.GetHeadCommit(); hc != nil {
		commits = append(slices.Clip(commits), hc)
	}
	for _, c := range commits {
		if slices.Contains(c.Added, path) || slices.Contains(c.Modified, path) {
			return true
		}
	}
	return false
}

func repoName(r *github.Repository, inst *github.Installation) (owner, name string) {
	if o, n, ok := strings.Cut(r.GetFullName(), "/"); ok {
		return o, n
	}
	return inst.GetAccount().GetLogin(), r.GetName()
}

func logDecisions(log *slog.Logger, decisions []reconcile.Decision, err error) {
	var posted, skipped, missing int
	for _, d := range decisions {
		switch {
		case d.Posted:
			posted++
		case d.Missing:
			missing++
		case !d.ShouldPost:
			skipped++
		}
	}
	if err != nil {
		log.Error("changelog processing failed", "error", err, "posted", posted, "already_annotated", skipped, "missing_issues", missing)
		return
	}
	log.Info("changelog processed", "posted", posted, "already_annotated", skipped, "missing_issues", missing)
}
