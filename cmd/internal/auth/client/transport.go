package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"
)

// refreshTransport is an http.RoundTripper that attaches the bearer token and
// transparently recovers from access-token expiry.
//
// On a 401 it refreshes the access token and retries the original request
// exactly once. Concurrent 401s trigger a single refresh call; the rest wait
// for its result. A failed refresh clears the stored tokens and fires
// onAuthExpired; the callback runs on every irrecoverable failure, so the
// agent's belief tracks server truth across any number of sign-in epochs.
// Deduplication of the resulting session transition is the agent's job.
type refreshTransport struct {
	base       http.RoundTripper
	store      TokenStore
	refreshURL string

	group         singleflight.Group
	onAuthExpired func()
}

func newRefreshTransport(base http.RoundTripper, store TokenStore, refreshURL string, onAuthExpired func()) *refreshTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if onAuthExpired == nil {
		onAuthExpired = func() {}
	}
	return &refreshTransport{
		base:          base,
		store:         store,
		refreshURL:    refreshURL,
		onAuthExpired: onAuthExpired,
	}
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// The refresh call itself must not recurse into the retry path.
	if req.URL.String() == t.refreshURL {
		return t.base.RoundTrip(req)
	}

	attempt := req.Clone(req.Context())
	if access := t.store.AccessToken(); access != "" {
		attempt.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := t.base.RoundTrip(attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	// Retry needs a rebuildable body.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	access, refreshErr := t.refreshAccess(req.Context())
	if refreshErr != nil {
		_ = t.store.Clear()
		t.onAuthExpired()
		return resp, nil
	}

	// Drop the 401 response before retrying.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+access)

	return t.base.RoundTrip(retry)
}

// refreshAccess exchanges the refresh token for a new access token.
// Concurrent callers are coalesced into one upstream request.
func (t *refreshTransport) refreshAccess(ctx context.Context) (string, error) {
	v, err, _ := t.group.Do("refresh", func() (any, error) {
		refresh := strings.TrimSpace(t.store.RefreshToken())
		if refresh == "" {
			return nil, fmt.Errorf("authclient: no refresh token")
		}

		payload, err := json.Marshal(map[string]string{"refreshToken": refresh})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.refreshURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("authclient: refresh failed with status %d", resp.StatusCode)
		}

		var out struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
			return nil, fmt.Errorf("authclient: decode refresh response: %w", err)
		}
		if out.AccessToken == "" {
			return nil, fmt.Errorf("authclient: refresh response missing access token")
		}
		if err := t.store.SetAccessToken(out.AccessToken); err != nil {
			return nil, err
		}
		return out.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
