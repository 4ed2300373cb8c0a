package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/changebot/changebot/internal/cache"
)

// App authenticates as a GitHub App and hands out clients acting as one of
// its installations.
type App struct {
	jwt    *JWTGenerator
	opts   []Option
	tokens *cache.Cache

	mu    sync.Mutex
	login string
}

// NewApp returns an App for the given ID and PEM private key. opts apply to
// every client the App creates.
func NewApp(appID string, privateKeyPEM []byte, opts ...Option) (*App, error) {
	gen, err := NewJWTGenerator(appID, privateKeyPEM)
	if err != nil {
		return nil, err
	}
	a := &App{jwt: gen, opts: opts}
	a.tokens = cache.New(a, cache.DefaultTTL)
	return a, nil
}

func (a *App) appClient() (*Client, error) {
	token, err := a.jwt.GenerateToken()
	if err != nil {
		return nil, err
	}
	return NewClient(token, a.opts...)
}

// FetchToken exchanges a fresh App JWT for an installation access token.
func (a *App) FetchToken(ctx context.Context, installationID int64) (*cache.Token, error) {
	if installationID <= 0 {
		return nil, fmt.Errorf("installation ID must be positive")
	}
	c, err := a.appClient()
	if err != nil {
		return nil, err
	}

	tok, resp, err := c.gh.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, wrapError(err, resp, "create token for installation %d", installationID)
	}
	if statusCode(resp) != http.StatusCreated {
		return nil, fmt.Errorf("create token for installation %d: unexpected status %d", installationID, statusCode(resp))
	}

	var expires time.Time
	if tok.ExpiresAt != nil {
		expires = tok.ExpiresAt.Time
	}
	return &cache.Token{Value: tok.GetToken(), ExpiresAt: expires}, nil
}

// Installation returns a client acting as the given installation. A 401
// from GitHub evicts the client's token, so the next Installation call
// exchanges a fresh one.
func (a *App) Installation(ctx context.Context, installationID int64) (*Client, error) {
	tok, err := a.tokens.Get(ctx, installationID)
	if err != nil {
		return nil, err
	}

	hc := *resolveOptions(a.opts).httpClient
	hc.Transport = &evictingTransport{
		base:  hc.Transport,
		evict: func() { a.tokens.Invalidate(installationID) },
	}
	return NewClient(tok.Value, append(slices.Clip(a.opts), WithHTTPClient(&hc))...)
}

// evictingTransport calls evict whenever GitHub rejects the credentials.
type evictingTransport struct {
	base  http.RoundTripper
	evict func()
}

func (t *evictingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		t.evict()
	}
	return resp, err
}

// Login returns the bot account the App comments as, "<slug>[bot]".
func (a *App) Login(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.login != "" {
		return a.login, nil
	}

	c, err := a.appClient()
	if err != nil {
		return "", err
	}
	app, resp, err := c.gh.Apps.Get(ctx, "")
	if err != nil {
		return "", wrapError(err, resp, "get authenticated app")
	}
	a.login = app.GetSlug() + "[bot]"
	return a.login, nil
}
