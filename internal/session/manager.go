package session

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"go-procurement-client/internal/httpclient"
	"go-procurement-client/internal/model"
	"go-procurement-client/internal/tokenstore"
	"go-procurement-client/pkg/apierror"
)

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	}
	return "unauthenticated"
}

// Manager owns the canonical in-memory session: the current credential and the
// identity snapshot. It is the only writer of both; every other component
// reads them through the accessors.
type Manager struct {
	store *tokenstore.Store

	mu         sync.RWMutex
	state      State
	credential string
	identity   *model.SessionIdentity

	api *httpclient.Client

	hookMu        sync.Mutex
	teardownHooks []func()
}

func New(store *tokenstore.Store) *Manager {
	return &Manager{store: store, state: Unauthenticated}
}

// AttachClient binds the HTTP pipeline. Done after construction because the
// pipeline reads credentials from this manager (see app wiring).
func (m *Manager) AttachClient(api *httpclient.Client) {
	m.api = api
}

// OnTeardown registers a hook run at the start of every logout, before session
// state is cleared. The realtime manager registers its Close here so a
// pending reconnect can never outlive the session.
func (m *Manager) OnTeardown(fn func()) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.teardownHooks = append(m.teardownHooks, fn)
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) IsAuthenticated() bool {
	return m.State() == Authenticated
}

// Credential satisfies httpclient.CredentialSource. It is read per request.
func (m *Manager) Credential() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credential
}

func (m *Manager) Identity() *model.SessionIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.identity == nil {
		return nil
	}
	snapshot := *m.identity
	return &snapshot
}

// Hydrate restores the session from the token store. It is synchronous and
// issues no HTTP call when no credential is stored. With a stored credential
// the session becomes Authenticated immediately; the follow-up profile
// refresh is best effort and never logs the user out on a network failure.
func (m *Manager) Hydrate(ctx context.Context) error {
	credential, identity, err := m.store.Load()
	if err != nil {
		return err
	}

	if credential == "" {
		return nil
	}

	if identity == nil {
		identity = identityFromToken(credential)
	}
	if identity == nil {
		// Opaque credential and no stored snapshot: authenticated, identity
		// unknown until the profile refresh fills it in.
		identity = &model.SessionIdentity{}
	}

	m.mu.Lock()
	m.state = Authenticated
	m.credential = credential
	m.identity = identity
	m.mu.Unlock()

	m.api.ResetTeardownLatch()
	m.refreshIdentity(ctx)
	return nil
}

// Login authenticates against the backend. Failures come back as a result
// value with a readable message, never as a raised error.
func (m *Manager) Login(ctx context.Context, username string, password string) model.AuthResult {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.AuthResult{Success: false, Error: "username and password are required"}
	}

	m.mu.Lock()
	prior := m.state
	m.state = Authenticating
	m.mu.Unlock()

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var tokens model.TokenResponse
	if err := m.api.PostForm(ctx, "/api/v1/auth/login", form, &tokens); err != nil {
		// A failed re-login leaves the prior session standing: credential,
		// identity and store are untouched, so the state must revert too.
		// A login 401 also fires the unauthorized hook while the state is
		// Authenticating, where ForceLogout is a no-op; re-arm the latch so
		// the surviving session still gets its single teardown.
		m.mu.Lock()
		if m.state == Authenticating {
			m.state = prior
		}
		m.mu.Unlock()
		m.api.ResetTeardownLatch()
		return model.AuthResult{Success: false, Error: resultMessage(err, "Login failed")}
	}

	// Make the credential visible before the profile fetch so the pipeline
	// attaches it to the /me call.
	m.mu.Lock()
	m.state = Authenticated
	m.credential = tokens.AccessToken
	m.identity = nil
	m.mu.Unlock()

	m.api.ResetTeardownLatch()

	identity, err := m.fetchIdentity(ctx)
	if err != nil && apierror.IsKind(err, apierror.KindUnauthorized) {
		// The freshly issued token was rejected; the interceptor hook has
		// already torn the session down.
		return model.AuthResult{Success: false, Error: "session was rejected by the server"}
	}
	if identity == nil {
		identity = identityFromToken(tokens.AccessToken)
	}
	if identity == nil {
		identity = &model.SessionIdentity{Username: username}
	}

	m.mu.Lock()
	m.identity = identity
	m.mu.Unlock()

	if err := m.store.Save(tokens.AccessToken, identity); err != nil {
		slog.Error("failed to persist session", "error", err)
	}

	slog.Info("logged in", "user", identity.Username)
	return model.AuthResult{Success: true}
}

// Register creates an account. It does not transition session state; the
// caller still logs in separately.
func (m *Manager) Register(ctx context.Context, data model.RegistrationData) model.AuthResult {
	if strings.TrimSpace(data.Username) == "" || data.Password == "" {
		return model.AuthResult{Success: false, Error: "username and password are required"}
	}

	if err := m.api.PostJSON(ctx, "/api/v1/auth/register", data, nil); err != nil {
		return model.AuthResult{Success: false, Error: resultMessage(err, "Registration failed")}
	}

	return model.AuthResult{Success: true}
}

// Logout tears the session down: realtime hooks first, then store and memory.
// Calling it again is a no-op. It performs no HTTP call, so an interceptor
// triggered teardown cannot re-enter the failure path.
func (m *Manager) Logout() {
	m.mu.Lock()
	if m.state == Unauthenticated {
		m.mu.Unlock()
		return
	}
	m.state = Unauthenticated
	m.mu.Unlock()

	m.runTeardownHooks()

	m.mu.Lock()
	m.credential = ""
	m.identity = nil
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		slog.Error("failed to clear persisted session", "error", err)
	}

	slog.Info("logged out")
}

// ForceLogout is the interceptor's teardown hook for rejected credentials.
func (m *Manager) ForceLogout() {
	if !m.IsAuthenticated() {
		return
	}
	slog.Warn("session torn down after authentication failure")
	m.Logout()
}

func (m *Manager) runTeardownHooks() {
	m.hookMu.Lock()
	hooks := make([]func(), len(m.teardownHooks))
	copy(hooks, m.teardownHooks)
	m.hookMu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}

func (m *Manager) fetchIdentity(ctx context.Context) (*model.SessionIdentity, error) {
	var identity model.SessionIdentity
	if err := m.api.GetJSON(ctx, "/api/v1/auth/me", &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// refreshIdentity updates the cached snapshot when the backend is reachable.
// Loss of connectivity is not loss of authentication: on a network failure the
// cached identity stands.
func (m *Manager) refreshIdentity(ctx context.Context) {
	identity, err := m.fetchIdentity(ctx)
	if err != nil {
		slog.Warn("profile refresh failed, keeping cached identity", "error", err)
		return
	}

	m.mu.Lock()
	credential := m.credential
	m.identity = identity
	m.mu.Unlock()

	if credential == "" {
		return
	}

	if err := m.store.Save(credential, identity); err != nil {
		slog.Error("failed to persist refreshed identity", "error", err)
	}
}

// identityFromToken reads claims out of the bearer token without verifying
// the signature. Verification is the server's job; this is only a fallback
// identity when the profile endpoint is unreachable and nothing is cached.
func identityFromToken(token string) *model.SessionIdentity {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil
	}

	identity := &model.SessionIdentity{ID: sub}
	identity.Username, _ = claims["username"].(string)
	identity.Email, _ = claims["email"].(string)
	identity.Role, _ = claims["role"].(string)
	return identity
}

func resultMessage(err error, fallback string) string {
	var classified *apierror.Error
	if errors.As(err, &classified) && classified.Message != "" {
		return classified.Message
	}
	return fallback
}
