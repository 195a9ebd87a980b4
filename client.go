package authx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client is the public entry point of the token lifecycle engine: minting
// custom tokens, verifying ID tokens and session tokens against the tenant's
// rotating key set, and checking server-side revocation. All operations are
// safe for concurrent use; each verify call is an independent traversal with
// no retained state.
type Client struct {
	cfg      Config
	keys     KeySource
	signer   *SigningKey
	users    UserLookup
	backend  *backendClient
	verifier signatureVerifier
	clock    Clock
	log      *zap.Logger
}

// Option customizes client construction.
type Option func(*clientOptions)

type clientOptions struct {
	keySource   KeySource
	userLookup  UserLookup
	httpClient  *http.Client
	credentials *Credentials
	clock       Clock
	logger      *zap.Logger
}

// WithKeySource supplies the verification key source directly instead of
// building one from Config.JWKSURL.
func WithKeySource(ks KeySource) Option {
	return func(o *clientOptions) { o.keySource = ks }
}

// WithUserLookup overrides the revocation-state collaborator.
func WithUserLookup(ul UserLookup) Option {
	return func(o *clientOptions) { o.userLookup = ul }
}

// WithHTTPClient sets the HTTP client used for backend calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = client }
}

// WithCredentials authenticates backend calls with minted service
// credentials.
func WithCredentials(creds *Credentials) Option {
	return func(o *clientOptions) { o.credentials = creds }
}

// WithClock injects the time source, for deterministic verification in tests.
func WithClock(clock Clock) Option {
	return func(o *clientOptions) { o.clock = clock }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *clientOptions) { o.logger = log }
}

// NewClient builds a client for one tenant. ctx bounds the lifetime of the
// background key cache when one is constructed from Config.JWKSURL.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeInvalidArgument, err)
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = systemClock()
	}

	keys := o.keySource
	if keys == nil {
		if cfg.JWKSURL == "" {
			return nil, newError(ErrCodeInvalidArgument, errors.New("JWKS URL or key source is required"))
		}
		var err error
		keys, err = NewRemoteKeySource(ctx, RemoteKeySourceConfig{
			JWKSURL:     cfg.JWKSURL,
			MinRefresh:  cfg.MinKeyRefresh,
			HTTPTimeout: cfg.HTTPTimeout,
			Logger:      o.logger,
		})
		if err != nil {
			return nil, err
		}
	}

	var verifier signatureVerifier
	if cfg.UseLegacyVerifier {
		verifier = newLegacyVerifier(keys, cfg.Algorithms, o.clock)
		o.logger.Warn("client constructed with legacy verifier",
			zap.String("tenant", cfg.TenantID),
			zap.String("advisory", verifier.info().Advisory))
	} else {
		verifier = newKeysetVerifier(keys, cfg.Algorithms, o.clock)
	}

	c := &Client{
		cfg:      cfg,
		keys:     keys,
		signer:   cfg.SigningKey,
		verifier: verifier,
		clock:    o.clock,
		log:      o.logger,
	}
	if cfg.BackendBaseURL != "" {
		httpClient := o.httpClient
		if httpClient == nil && o.credentials != nil {
			httpClient = &http.Client{
				Timeout: cfg.HTTPTimeout,
				Transport: &credentialTransport{
					creds:    o.credentials,
					audience: cfg.BackendBaseURL,
				},
			}
		}
		c.backend = newBackendClient(cfg.BackendBaseURL, cfg.TenantID, httpClient, cfg.HTTPTimeout)
		c.users = c.backend
	}
	if o.userLookup != nil {
		c.users = o.userLookup
	}
	return c, nil
}

// VerifierInfo reports the capabilities of the configured verification
// strategy, including the backward-compatibility advisory of the legacy one.
func (c *Client) VerifierInfo() VerifierInfo {
	return c.verifier.info()
}

// VerifyOption customizes a single verification call.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	checkRevoked      bool
	allowFutureIssued bool
	leeway            time.Duration
}

// CheckRevoked additionally consults the user backend for a global sign-out
// cutoff after signature and claim checks pass.
func CheckRevoked() VerifyOption {
	return func(o *verifyOptions) { o.checkRevoked = true }
}

// AllowFutureIssued tolerates tokens whose iat lies in the future, for
// callers prepared to absorb issuer clock drift. ID tokens only.
func AllowFutureIssued() VerifyOption {
	return func(o *verifyOptions) { o.allowFutureIssued = true }
}

// WithLeeway overrides the configured clock skew for a session token
// verification.
func WithLeeway(d time.Duration) VerifyOption {
	return func(o *verifyOptions) { o.leeway = d }
}

// VerifyIDToken verifies a bearer ID token: parse, signature against the
// rotating key set, ordered claim checks, then optional revocation. token is
// a compact string, []byte, or a previously parsed *Token.
func (c *Client) VerifyIDToken(ctx context.Context, token any, opts ...VerifyOption) (*Token, error) {
	vo := verifyOptions{leeway: -1}
	for _, opt := range opts {
		opt(&vo)
	}

	tok, err := normalizeToken(token)
	if err != nil {
		return nil, err
	}

	if err := c.verifier.verify(ctx, tok, c.cfg.idTokenPolicy()); err != nil {
		if isCode(err, ErrCodeIssuedInFuture) {
			if !vo.allowFutureIssued {
				return nil, err
			}
			// tolerated by caller policy; claims are otherwise trusted
		} else {
			return nil, c.translateVerifyFailure(err)
		}
	}

	if vo.checkRevoked {
		revoked, err := c.IsRevoked(ctx, tok)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, newError(ErrCodeIDTokenRevoked, nil)
		}
	}
	return tok, nil
}

// VerifySessionToken verifies a session token under the session issuer and
// audience policy. A caller-supplied leeway replaces the configured skew;
// future-issued session tokens are not specially tolerated.
func (c *Client) VerifySessionToken(ctx context.Context, token any, opts ...VerifyOption) (*Token, error) {
	vo := verifyOptions{leeway: -1}
	for _, opt := range opts {
		opt(&vo)
	}

	tok, err := normalizeToken(token)
	if err != nil {
		return nil, err
	}

	if err := c.verifier.verify(ctx, tok, c.cfg.sessionPolicy(vo.leeway)); err != nil {
		return nil, c.translateVerifyFailure(err)
	}

	if vo.checkRevoked {
		revoked, err := c.IsRevoked(ctx, tok)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, newError(ErrCodeSessionTokenRevoked, nil)
		}
	}
	return tok, nil
}

// translateVerifyFailure keeps infrastructure failures distinct and folds
// claim- and signature-level failures into the generic invalid-token code,
// wrapping the specific cause for logging.
func (c *Client) translateVerifyFailure(err error) error {
	switch CodeOf(err) {
	case ErrCodeUnknownKey, ErrCodeUpstreamUnavailable, ErrCodeAuthService, ErrCodeInternal, ErrCodeInvalidToken:
		return err
	default:
		return newError(ErrCodeInvalidToken, err)
	}
}
