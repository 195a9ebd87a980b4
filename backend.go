package authx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"google.golang.org/api/googleapi"
)

// UserRecord is the revocation-relevant snapshot of a user as reported by the
// user-management backend.
type UserRecord struct {
	UID string
	// TokensValidAfter is the user's last global sign-out cutoff; tokens
	// authenticated strictly before it are revoked. Zero when never revoked.
	TokensValidAfter time.Time
}

// UserLookup fetches a user's revocation state. Results are read-only
// snapshots fetched per call; implementations must not cache across calls.
type UserLookup interface {
	User(ctx context.Context, uid string) (*UserRecord, error)
}

// backendClient talks to the user-management backend's REST surface. The
// wire format beyond the two calls below is opaque to this package.
type backendClient struct {
	base    string
	tenant  string
	http    *http.Client
	timeout time.Duration
}

func newBackendClient(base, tenant string, client *http.Client, timeout time.Duration) *backendClient {
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
	}
	return &backendClient{base: base, tenant: tenant, http: client, timeout: timeout}
}

type userResponse struct {
	UID              string `json:"uid"`
	TokensValidAfter string `json:"tokensValidAfterTime"`
}

// User implements UserLookup against GET /v1/tenants/{tenant}/users/{uid}.
func (b *backendClient) User(ctx context.Context, uid string) (*UserRecord, error) {
	if uid == "" {
		return nil, newError(ErrCodeInvalidArgument, errors.New("uid is empty"))
	}
	endpoint := fmt.Sprintf("%s/v1/tenants/%s/users/%s", b.base, url.PathEscape(b.tenant), url.PathEscape(uid))

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(ErrCodeInternal, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, newError(ErrCodeUserNotFound, fmt.Errorf("uid %q: %w", uid, err))
		}
		return nil, newError(ErrCodeAuthService, err)
	}

	var body userResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, newError(ErrCodeAuthService, fmt.Errorf("decode user response: %w", err))
	}
	rec := &UserRecord{UID: body.UID}
	if rec.UID == "" {
		rec.UID = uid
	}
	if body.TokensValidAfter != "" {
		ts, err := time.Parse(time.RFC3339, body.TokensValidAfter)
		if err != nil {
			return nil, newError(ErrCodeAuthService, fmt.Errorf("parse tokensValidAfterTime: %w", err))
		}
		rec.TokensValidAfter = ts
	}
	return rec, nil
}

type exchangeRequest struct {
	IDToken       string `json:"idToken"`
	ValidDuration int64  `json:"validDuration"`
}

type exchangeResponse struct {
	SessionCookie string `json:"sessionCookie"`
}

// Exchange trades a verified ID token for a session cookie with the given
// lifetime. The returned string is the backend's cookie verbatim.
func (b *backendClient) Exchange(ctx context.Context, idToken string, lifetime time.Duration) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/tenants/%s/sessions:exchange", b.base, url.PathEscape(b.tenant))

	payload, err := json.Marshal(exchangeRequest{
		IDToken:       idToken,
		ValidDuration: int64(lifetime / time.Second),
	})
	if err != nil {
		return "", newError(ErrCodeInternal, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", newError(ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return "", newError(ErrCodeAuthService, err)
	}

	var body exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", newError(ErrCodeAuthService, fmt.Errorf("decode exchange response: %w", err))
	}
	if body.SessionCookie == "" {
		return "", newError(ErrCodeAuthService, errors.New("response did not include sessionCookie"))
	}
	return body.SessionCookie, nil
}

// classifyTransport covers timeouts, cancellation, and connection failures
// alike; none of them say anything about the token being verified.
func classifyTransport(err error) error {
	return newError(ErrCodeUpstreamUnavailable, err)
}
