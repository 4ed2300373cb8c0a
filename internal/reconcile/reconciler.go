package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/changebot/changebot/internal/changelog"
)

// ErrIssueNotFound is returned by a Tracker for issue numbers the
// repository does not have.
var ErrIssueNotFound = errors.New("issue not found")

const DefaultConcurrency = 4

// Tracker reads and writes the comments of one repository's issues.
type Tracker interface {
	ListAnnotations(ctx context.Context, number int) ([]Annotation, error)
	PostAnnotation(ctx context.Context, number int, body string) error
}

// Decision is the outcome for one Candidate.
type Decision struct {
	Candidate
	ShouldPost bool
	Posted     bool
	// Missing is set when the issue does not exist; nothing was decided.
	Missing bool
	Err     error
}

type Reconciler struct {
	tracker     Tracker
	author      string
	concurrency int
	dryRun      bool
}

type Option func(*Reconciler)

// WithConcurrency bounds how many issues are reconciled at once.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithDryRun makes Run decide without posting anything.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dryRun
	}
}

// New returns a Reconciler posting through tracker as author, the identity
// existing comments are matched against.
func New(tracker Tracker, author string, opts ...Option) *Reconciler {
	r := &Reconciler{
		tracker:     tracker,
		author:      author,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reconciles every candidate of cl and returns the decisions in
// candidate order. An issue's comments are always read before anything is
// posted to it, and all candidates for the same issue are handled by one
// goroutine so a single run never races itself. Missing issues are
// skipped; other failures are recorded on their decisions, returned
// joined, and do not stop the remaining issues.
func (r *Reconciler) Run(ctx context.Context, cl changelog.ChangeLog, link Link) ([]Decision, error) {
	candidates := Candidates(cl, link)
	decisions := make([]Decision, len(candidates))

	var order []int
	byIssue := make(map[int][]int)
	for i, c := range candidates {
		decisions[i].Candidate = c
		n := c.Issue.Number
		if _, ok := byIssue[n]; !ok {
			order = append(order, n)
		}
		byIssue[n] = append(byIssue[n], i)
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, n := range order {
		idx := byIssue[n]
		g.Go(func() error {
			r.reconcileIssue(ctx, n, idx, decisions)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, d := range decisions {
		if d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	return decisions, errors.Join(errs...)
}

// reconcileIssue fills decisions[idx] for a single issue. Each goroutine
// writes only its own indices.
func (r *Reconciler) reconcileIssue(ctx context.Context, number int, idx []int, decisions []Decision) {
	fail := func(err error) {
		for _, i := range idx {
			decisions[i].Err = err
		}
	}

	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	existing, err := r.tracker.ListAnnotations(ctx, number)
	if errors.Is(err, ErrIssueNotFound) {
		slog.Info("issue not found, skipping", "issue", number)
		for _, i := range idx {
			decisions[i].Missing = true
		}
		return
	}
	if err != nil {
		fail(fmt.Errorf("list comments on #%d: %w", number, err))
		return
	}

	for _, i := range idx {
		d := &decisions[i]
		d.ShouldPost = ShouldAnnotate(d.Body, r.author, existing)
		if !d.ShouldPost {
			slog.Info("issue already annotated", "issue", number, "release", d.Release.Name)
			continue
		}
		if r.dryRun {
			continue
		}

		err := r.tracker.PostAnnotation(ctx, number, d.Body)
		switch {
		case errors.Is(err, ErrIssueNotFound):
			slog.Info("issue not found, skipping", "issue", number)
			d.Missing = true
		case err != nil:
			d.Err = fmt.Errorf("comment on #%d: %w", number, err)
		default:
			d.Posted = true
			existing = append(existing, Annotation{Body: d.Body, Author: r.author})
			slog.Info("annotated issue", "issue", number, "release", d.Release.Name)
		}
	}
}
