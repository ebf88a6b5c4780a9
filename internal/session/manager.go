// Package session owns the client's authentication state.
//
// The Manager holds a models.Session (Anonymous or Authenticated) together with an epoch
// counter that advances on every transition. Workflows capture the epoch before sending a
// request and check it again before applying the response, so results that arrive after a
// logout or expiry are dropped instead of leaking into a different identity's view.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rewired-gh/brainscan/internal/api"
	"github.com/rewired-gh/brainscan/internal/logger"
	"github.com/rewired-gh/brainscan/internal/models"
	"github.com/rewired-gh/brainscan/internal/storage"
)

var (
	// ErrSessionExpired is returned when an authenticated call was rejected and the session cleared.
	ErrSessionExpired = errors.New("Session expired. Please login again.")
	// ErrNotAuthenticated is returned when an operation needs a session and there is none.
	ErrNotAuthenticated = errors.New("not logged in")
)

// Authenticator is the subset of the API client the manager uses.
type Authenticator interface {
	Login(ctx context.Context, creds api.Credentials) (*api.LoginResult, error)
	Register(ctx context.Context, profile api.Profile) (string, error)
	Logout(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (*models.User, error)
}

// Store persists the session between runs.
type Store interface {
	Save(token string, user models.User) error
	Load() (*storage.Record, error)
	Clear() error
}

// Manager gates every authenticated operation.
type Manager struct {
	api   Authenticator
	store Store

	mu      sync.RWMutex
	session models.Session
	epoch   uint64

	hookMu  sync.Mutex
	onAuth  []func(ctx context.Context)
	onClear []func()
}

// NewManager creates an anonymous manager.
func NewManager(a Authenticator, store Store) *Manager {
	return &Manager{
		api:     a,
		store:   store,
		session: models.AnonymousSession(),
	}
}

// OnAuthenticated registers fn to run after every successful login or verification.
func (m *Manager) OnAuthenticated(fn func(ctx context.Context)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onAuth = append(m.onAuth, fn)
}

// OnCleared registers fn to run after the session is cleared.
// Hooks drop any per-identity state (results, history, analytics).
func (m *Manager) OnCleared(fn func()) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onClear = append(m.onClear, fn)
}

// Snapshot returns the current session and its epoch.
func (m *Manager) Snapshot() (models.Session, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session, m.epoch
}

// Current reports whether the session captured at epoch is still the active, authenticated one.
func (m *Manager) Current(epoch uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch == epoch && m.session.IsAuthenticated()
}

// Restore loads a persisted session and re-validates it with the server.
func (m *Manager) Restore(ctx context.Context) error {
	rec, err := m.store.Load()
	if err != nil {
		logger.Warn("Failed to load persisted session: %v", err)
		m.Clear()
		return nil
	}
	if rec == nil {
		logger.Debug("No persisted session")
		return nil
	}
	logger.Debug("Restoring session for %s", rec.User.Username)
	return m.Verify(ctx, rec.Token, rec.User)
}

// Verify validates token with the server. On success the session becomes authenticated;
// on any failure, network errors included, the session is cleared.
func (m *Manager) Verify(ctx context.Context, token string, fallback models.User) error {
	user, err := m.api.Verify(ctx, token)
	if err != nil {
		logger.Info("Session verification failed: %v", err)
		m.Clear()
		return err
	}

	u := fallback
	if user != nil && user.Username != "" {
		u = mergeUser(fallback, *user)
	}
	return m.authenticate(ctx, token, u)
}

// Login authenticates with credentials. A failure leaves any existing session untouched and
// returns the server's message verbatim.
func (m *Manager) Login(ctx context.Context, creds api.Credentials) (*models.User, error) {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return nil, &api.ValidationError{Message: "Username and password are required"}
	}

	res, err := m.api.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := m.authenticate(ctx, res.Token, res.User); err != nil {
		return nil, err
	}
	logger.Info("Logged in as %s", res.User.Username)
	u := res.User
	return &u, nil
}

// Register creates an account without logging in. It returns the server's confirmation.
func (m *Manager) Register(ctx context.Context, profile api.Profile) (string, error) {
	required := []struct{ field, value string }{
		{"username", profile.Username},
		{"email", profile.Email},
		{"password", profile.Password},
		{"fullName", profile.FullName},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return "", &api.ValidationError{Field: r.field, Message: "is required"}
		}
	}

	msg, err := m.api.Register(ctx, profile)
	if err != nil {
		return "", err
	}
	logger.Info("Registered account %s", profile.Username)
	return msg, nil
}

// Logout notifies the server (best effort) and clears all local state.
func (m *Manager) Logout(ctx context.Context) {
	sess, _ := m.Snapshot()
	if sess.IsAuthenticated() {
		if err := m.api.Logout(ctx, sess.Token()); err != nil {
			logger.Warn("Logout notification failed: %v", err)
		}
	}
	m.Clear()
}

// Clear drops the session locally and in the store, then runs the clear hooks.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.session = models.AnonymousSession()
	m.epoch++
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		logger.Warn("Failed to clear persisted session: %v", err)
	}

	m.hookMu.Lock()
	hooks := append([]func(){}, m.onClear...)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Expire clears the session and returns ErrSessionExpired.
func (m *Manager) Expire() error {
	m.Clear()
	return ErrSessionExpired
}

// HandleAuthFailure turns an unauthorized error from a call made under epoch into an expiry.
// A 401 that belongs to an older session is reported as expired without touching the current one.
// Other errors are returned unchanged.
func (m *Manager) HandleAuthFailure(epoch uint64, err error) error {
	if !api.IsUnauthorized(err) {
		return err
	}
	if m.Current(epoch) {
		logger.Info("Authenticated call rejected, clearing session")
		return m.Expire()
	}
	return ErrSessionExpired
}

func (m *Manager) authenticate(ctx context.Context, token string, user models.User) error {
	sess, err := models.NewAuthenticated(token, user)
	if err != nil {
		return err
	}

	if err := m.store.Save(token, user); err != nil {
		logger.Warn("Failed to persist session: %v", err)
	}

	m.mu.Lock()
	m.session = sess
	m.epoch++
	m.mu.Unlock()

	m.hookMu.Lock()
	hooks := append([]func(context.Context){}, m.onAuth...)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

func mergeUser(base, fresh models.User) models.User {
	out := fresh
	if out.FullName == "" {
		out.FullName = base.FullName
	}
	if out.Email == "" {
		out.Email = base.Email
	}
	if out.ID == "" {
		out.ID = base.ID
	}
	if out.Role == "" {
		out.Role = base.Role
	}
	return out
}
