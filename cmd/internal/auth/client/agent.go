// Package authclient is the client-side session agent. It keeps the token
// pair in a TokenStore, resolves the signed-in user at startup, and retries
// requests once after a transparent access-token refresh.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bandroom/cmd/internal/auth/session"
)

// DefaultTimeout bounds every request the agent makes. A hung backend shows
// up as a failed request instead of a stuck UI.
const DefaultTimeout = 10 * time.Second

// State is the agent's session state.
type State string

const (
	// StateLoading is the initial state before Initialize completes.
	StateLoading State = "loading"
	// StateAnonymous means no valid credentials are held.
	StateAnonymous State = "anonymous"
	// StateAuthenticated means a user is resolved and tokens are held.
	StateAuthenticated State = "authenticated"
)

// Session is a snapshot of the agent's state.
type Session struct {
	State State
	User  *session.PublicUser
}

// Agent drives the client session lifecycle against the auth API.
type Agent struct {
	baseURL string
	store   TokenStore
	client  *http.Client

	mu    sync.RWMutex
	state State
	user  *session.PublicUser

	onChange func(Session)
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithHTTPTimeout overrides DefaultTimeout.
func WithHTTPTimeout(d time.Duration) AgentOption {
	return func(a *Agent) {
		if d > 0 {
			a.client.Timeout = d
		}
	}
}

// WithTransport overrides the underlying transport, for tests.
func WithTransport(rt http.RoundTripper) AgentOption {
	return func(a *Agent) {
		if rt != nil {
			a.client.Transport.(*refreshTransport).base = rt
		}
	}
}

// WithOnChange registers a callback invoked on every session state change.
func WithOnChange(fn func(Session)) AgentOption {
	return func(a *Agent) {
		if fn != nil {
			a.onChange = fn
		}
	}
}

// NewAgent constructs an Agent in StateLoading.
func NewAgent(baseURL string, store TokenStore, opts ...AgentOption) (*Agent, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("authclient: empty base URL")
	}
	if store == nil {
		return nil, errors.New("authclient: nil token store")
	}

	a := &Agent{
		baseURL:  baseURL,
		store:    store,
		state:    StateLoading,
		onChange: func(Session) {},
	}
	a.client = &http.Client{
		Timeout: DefaultTimeout,
		Transport: newRefreshTransport(nil, store, baseURL+"/auth/refresh", func() {
			a.setSession(StateAnonymous, nil)
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Client returns the agent's HTTP client. Requests made through it carry the
// bearer token and participate in the refresh-and-retry flow.
func (a *Agent) Client() *http.Client { return a.client }

// Session returns the current session snapshot.
func (a *Agent) Session() Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Session{State: a.state, User: a.user}
}

// AccessToken returns the current access token, if any.
func (a *Agent) AccessToken() string { return a.store.AccessToken() }

// Initialize resolves the startup session.
//
// With no stored tokens it settles on StateAnonymous synchronously, without
// touching the network. Otherwise it fetches the current user; any failure,
// including an unusable refresh token, clears the stored pair and settles on
// StateAnonymous rather than surfacing an error.
func (a *Agent) Initialize(ctx context.Context) Session {
	if a.store.AccessToken() == "" && a.store.RefreshToken() == "" {
		a.setSession(StateAnonymous, nil)
		return a.Session()
	}

	user, err := a.fetchMe(ctx)
	if err != nil {
		_ = a.store.Clear()
		a.setSession(StateAnonymous, nil)
		return a.Session()
	}

	a.setSession(StateAuthenticated, &user)
	return a.Session()
}

// Credentials is a login request.
type Credentials struct {
	Email    string
	Password string
}

// Login signs in and transitions to StateAuthenticated.
func (a *Agent) Login(ctx context.Context, creds Credentials) (session.PublicUser, error) {
	return a.authenticate(ctx, "/auth/login", map[string]any{
		"email":    creds.Email,
		"password": creds.Password,
	}, http.StatusOK)
}

// RegisterInput is a registration request.
type RegisterInput struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	ProfileImage *string
}

// Register creates an account and transitions to StateAuthenticated.
func (a *Agent) Register(ctx context.Context, in RegisterInput) (session.PublicUser, error) {
	body := map[string]any{
		"email":     in.Email,
		"password":  in.Password,
		"firstName": in.FirstName,
		"lastName":  in.LastName,
	}
	if in.ProfileImage != nil {
		body["profileImage"] = *in.ProfileImage
	}
	return a.authenticate(ctx, "/auth/register", body, http.StatusCreated)
}

// Logout clears local credentials and settles on StateAnonymous.
// The server call is best effort; local state is cleared regardless.
func (a *Agent) Logout(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/logout", nil)
	if err == nil {
		if resp, err := a.client.Do(req); err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}
	_ = a.store.Clear()
	a.setSession(StateAnonymous, nil)
}

func (a *Agent) authenticate(ctx context.Context, path string, body map[string]any, wantStatus int) (session.PublicUser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return session.PublicUser{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return session.PublicUser{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return session.PublicUser{}, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != wantStatus {
		return session.PublicUser{}, apiErrorFromResponse(resp)
	}

	var out struct {
		User         session.PublicUser `json:"user"`
		AccessToken  string             `json:"accessToken"`
		RefreshToken string             `json:"refreshToken"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return session.PublicUser{}, fmt.Errorf("authclient: decode response: %w", err)
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return session.PublicUser{}, errors.New("authclient: response missing tokens")
	}

	if err := a.store.SetTokens(out.AccessToken, out.RefreshToken); err != nil {
		return session.PublicUser{}, err
	}
	a.setSession(StateAuthenticated, &out.User)
	return out.User, nil
}

func (a *Agent) fetchMe(ctx context.Context) (session.PublicUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/users/me", nil)
	if err != nil {
		return session.PublicUser{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return session.PublicUser{}, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return session.PublicUser{}, apiErrorFromResponse(resp)
	}

	var out struct {
		User session.PublicUser `json:"user"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return session.PublicUser{}, fmt.Errorf("authclient: decode response: %w", err)
	}
	return out.User, nil
}

func (a *Agent) setSession(state State, user *session.PublicUser) {
	a.mu.Lock()
	changed := a.state != state ||
		(user == nil) != (a.user == nil) ||
		(user != nil && a.user != nil && user.ID != a.user.ID)
	a.state = state
	a.user = user
	snapshot := Session{State: state, User: user}
	a.mu.Unlock()

	if changed {
		a.onChange(snapshot)
	}
}

// APIError is a non-2xx response from the auth API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authclient: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("authclient: unexpected status %d", e.StatusCode)
}

func apiErrorFromResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
