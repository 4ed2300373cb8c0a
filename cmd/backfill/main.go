package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/changebot/changebot/internal/config"
	"github.com/changebot/changebot/internal/githubapi"
	"github.com/changebot/changebot/internal/reconcile"
	"github.com/changebot/changebot/internal/webhook"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	apply          bool
	repo           string
	ref            string
	installationID int64
	configPath     string
	as             string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Annotate the issues referenced by a repository's changelog",
		Long: `backfill reads a repository's changelog and comments "This was released in ..."
on every issue of every shipped release that does not carry that comment yet.

Without --apply it only prints what it would post.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.apply, "apply", false, "actually post comments (default is dry-run)")
	f.StringVar(&opts.repo, "repo", "", "GitHub owner/repo to annotate")
	f.StringVar(&opts.ref, "ref", "", "revision to read the changelog at (default: default branch)")
	f.Int64Var(&opts.installationID, "installation-id", 0, "act as this App installation instead of GITHUB_TOKEN")
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.StringVar(&opts.as, "as", "", "login whose existing comments count as annotations")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func run(ctx context.Context, out io.Writer, opts options) error {
	owner, name, ok := strings.Cut(opts.repo, "/")
	if !ok || owner == "" || name == "" {
		return fmt.Errorf("invalid repo format %q, want owner/repo", opts.repo)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, author, err := authenticate(ctx, cfg, opts.installationID)
	if err != nil {
		return err
	}
	if opts.as != "" {
		author = opts.as
	}

	branch, err := client.DefaultBranch(ctx, owner, name)
	if err != nil {
		return err
	}
	ref := opts.ref
	if ref == "" {
		ref = branch
	}

	annotator := webhook.NewAnnotator(client, author, webhook.Settings{
		ChangelogPath: cfg.ChangelogPath,
		HTMLBaseURL:   cfg.HTMLBaseURL,
		Concurrency:   cfg.Concurrency,
		DryRun:        !opts.apply,
	})

	slog.Info("reading changelog", "repo", opts.repo, "ref", ref, "author", author)
	decisions, runErr := annotator.Annotate(ctx, owner, name, ref, branch)

	printDecisions(out, decisions, opts.apply)
	if !opts.apply {
		fmt.Fprintf(out, "\nre-run with --apply to post these comments\n")
	}
	return runErr
}

// authenticate returns a client and the login its comments appear under:
// an App installation when one is requested, otherwise GITHUB_TOKEN or the
// gh CLI's token.
func authenticate(ctx context.Context, cfg *config.Config, installationID int64) (*githubapi.Client, string, error) {
	var opts []githubapi.Option
	if cfg.APIBaseURL != "" {
		opts = append(opts, githubapi.WithBaseURL(cfg.APIBaseURL))
	}

	if installationID != 0 {
		if !cfg.HasAppCredentials() {
			return nil, "", fmt.Errorf("--installation-id needs app_id and a private key")
		}
		key, err := cfg.PrivateKeyPEM()
		if err != nil {
			return nil, "", err
		}
		app, err := githubapi.NewApp(cfg.AppID, key, opts...)
		if err != nil {
			return nil, "", err
		}
		client, err := app.Installation(ctx, installationID)
		if err != nil {
			return nil, "", err
		}
		login := cfg.BotLogin
		if login == "" {
			if login, err = app.Login(ctx); err != nil {
				return nil, "", err
			}
		}
		return client, login, nil
	}

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = ghAuthToken()
	}
	if token == "" {
		return nil, "", fmt.Errorf("GITHUB_TOKEN is required (or log in with gh)")
	}
	client, err := githubapi.NewClient(token, opts...)
	if err != nil {
		return nil, "", err
	}
	login := cfg.BotLogin
	if login == "" {
		if login, err = client.Identity(ctx); err != nil {
			return nil, "", err
		}
	}
	return client, login, nil
}

func printDecisions(out io.Writer, decisions []reconcile.Decision, applied bool) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ISSUE\tRELEASE\tACTION")
	for _, d := range decisions {
		fmt.Fprintf(tw, "#%d\t%s\t%s\n", d.Issue.Number, d.Release.Name, action(d, applied))
	}
	_ = tw.Flush()
}

func action(d reconcile.Decision, applied bool) string {
	switch {
	case d.Err != nil:
		return "error: " + d.Err.Error()
	case d.Missing:
		return "issue not found"
	case !d.ShouldPost:
		return "already annotated"
	case d.Posted:
		return "posted"
	case applied:
		return "not posted"
	default:
		return "would post"
	}
}

func ghAuthToken() string {
	out, err := exec.Command("gh", "auth", "token").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
