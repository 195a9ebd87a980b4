package authx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/impersonate"
)

// CredentialFactory allows callers to override how service credentials for
// backend calls are minted.
type CredentialFactory func(context.Context, string, CredentialParams) (oauth2.TokenSource, error)

// CredentialsConfig defines how backend credentials are issued by default.
type CredentialsConfig struct {
	ServiceAccount string
	IncludeEmail   bool
	Delegates      []string
	Factory        CredentialFactory
}

// CredentialParams are the per-call knobs of a credential mint.
type CredentialParams struct {
	ServiceAccount string
	IncludeEmail   bool
	Delegates      []string
}

// CredentialOption customizes the behaviour for a single Token call.
type CredentialOption func(*CredentialParams)

// ForServiceAccount overrides the service account used to mint the credential.
func ForServiceAccount(email string) CredentialOption {
	return func(p *CredentialParams) {
		p.ServiceAccount = email
	}
}

// WithDelegateChain sets the impersonation delegation chain.
func WithDelegateChain(delegates ...string) CredentialOption {
	return func(p *CredentialParams) {
		p.Delegates = append([]string(nil), delegates...)
	}
}

// Credentials issues service credentials for calls to the user-management
// backend, caching one token source per (audience, account, delegates)
// combination so refreshes are shared across requests.
type Credentials struct {
	mu       sync.RWMutex
	factory  CredentialFactory
	sources  map[credentialKey]oauth2.TokenSource
	defaults CredentialParams
}

type credentialKey struct {
	Audience       string
	ServiceAccount string
	IncludeEmail   bool
	Delegates      string
}

// NewCredentials constructs a Credentials using the supplied defaults.
func NewCredentials(cfg CredentialsConfig) *Credentials {
	factory := cfg.Factory
	if factory == nil {
		factory = defaultCredentialFactory
	}
	return &Credentials{
		factory: factory,
		sources: make(map[credentialKey]oauth2.TokenSource),
		defaults: CredentialParams{
			ServiceAccount: cfg.ServiceAccount,
			IncludeEmail:   cfg.IncludeEmail,
			Delegates:      append([]string(nil), cfg.Delegates...),
		},
	}
}

// Token returns a bearer credential for the given audience.
func (c *Credentials) Token(ctx context.Context, audience string, opts ...CredentialOption) (string, error) {
	if strings.TrimSpace(audience) == "" {
		return "", errors.New("audience is required")
	}

	params := c.defaults
	if len(params.Delegates) > 0 {
		params.Delegates = append([]string(nil), params.Delegates...)
	}
	for _, opt := range opts {
		opt(&params)
	}

	key := credentialKey{
		Audience:       audience,
		ServiceAccount: params.ServiceAccount,
		IncludeEmail:   params.IncludeEmail,
		Delegates:      strings.Join(params.Delegates, ","),
	}

	source, err := c.sourceFor(ctx, key, params)
	if err != nil {
		return "", err
	}
	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("fetch credential: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty credential returned")
	}
	return tok.AccessToken, nil
}

func (c *Credentials) sourceFor(ctx context.Context, key credentialKey, params CredentialParams) (oauth2.TokenSource, error) {
	c.mu.RLock()
	source, ok := c.sources[key]
	c.mu.RUnlock()
	if ok {
		return source, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if source, ok = c.sources[key]; ok {
		return source, nil
	}

	ts, err := c.factory(longLivedContext(ctx), key.Audience, params)
	if err != nil {
		return nil, err
	}
	source = oauth2.ReuseTokenSource(nil, ts)
	c.sources[key] = source
	return source, nil
}

func defaultCredentialFactory(ctx context.Context, audience string, params CredentialParams) (oauth2.TokenSource, error) {
	if params.ServiceAccount != "" {
		cfg := impersonate.IDTokenConfig{
			Audience:        audience,
			TargetPrincipal: params.ServiceAccount,
			IncludeEmail:    params.IncludeEmail,
			Delegates:       params.Delegates,
		}
		return impersonate.IDTokenSource(ctx, cfg)
	}
	return idtoken.NewTokenSource(ctx, audience)
}

// credentialTransport injects backend credentials into outgoing requests.
type credentialTransport struct {
	creds    *Credentials
	audience string
	base     http.RoundTripper
}

func (t *credentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.creds.Token(req.Context(), t.audience)
	if err != nil {
		return nil, fmt.Errorf("mint backend credential: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+tok)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// longLivedContext detaches the token source from per-request deadlines while
// keeping request-scoped values visible; cached sources outlive the request
// that created them.
func longLivedContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if _, ok := ctx.(*valueOnlyContext); ok {
		return ctx
	}
	return &valueOnlyContext{parent: ctx}
}

type valueOnlyContext struct {
	parent context.Context
}

func (d *valueOnlyContext) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (d *valueOnlyContext) Done() <-chan struct{} {
	return nil
}

func (d *valueOnlyContext) Err() error {
	return nil
}

func (d *valueOnlyContext) Value(key any) any {
	if d.parent == nil {
		return nil
	}
	return d.parent.Value(key)
}
