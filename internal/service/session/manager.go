// Package session owns the authenticated platform session of every bot
// identity. Callers obtain a Session through EnsureLive and must treat
// ErrNoLiveSession as a soft failure.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"fenixbot/internal/domain"
	"fenixbot/internal/platform"
)

var (
	ErrUnknownBot    = errors.New("unknown bot identity")
	ErrNoLiveSession = errors.New("bot has no live session")
	ErrBotDisabled   = errors.New("bot identity disabled")
	ErrStaleSession  = errors.New("session cookies are stale")
)

// Alerter notifies an operator about conditions that need manual action.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Session is a snapshot of one live login. Generation increases on every
// successful login so holders of older snapshots can be detected.
type Session struct {
	BotID      string
	Generation uint64
	Cookies    []*http.Cookie
	Client     *platform.Client
}

type bot struct {
	identity domain.BotIdentity
	client   *platform.Client

	// login serialises authentication attempts; mu guards the fields below.
	login sync.Mutex
	mu    sync.Mutex

	state         domain.SessionState
	generation    uint64
	cookies       []*http.Cookie
	cooldownUntil time.Time
	liveSince     time.Time
	lastError     string
}

type Manager struct {
	bots     map[string]*bot
	order    []string
	cooldown time.Duration
	alerter  Alerter
	logger   *zap.Logger
	now      func() time.Time
	onState  func(botID string, state domain.SessionState)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithAlerter(a Alerter) Option {
	return func(m *Manager) { m.alerter = a }
}

// WithStateHook registers a callback invoked on every session state change.
func WithStateHook(fn func(botID string, state domain.SessionState)) Option {
	return func(m *Manager) { m.onState = fn }
}

// NewManager builds the registry. clients must hold one platform client per
// identity, keyed by bot id.
func NewManager(identities []domain.BotIdentity, clients map[string]*platform.Client, cooldown time.Duration, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		bots:     make(map[string]*bot, len(identities)),
		cooldown: cooldown,
		logger:   logger.Named("session"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, id := range identities {
		client, ok := clients[id.ID]
		if !ok {
			return nil, fmt.Errorf("no platform client for bot %q", id.ID)
		}
		m.bots[id.ID] = &bot{identity: id, client: client, state: domain.SessionDisconnected}
		m.order = append(m.order, id.ID)
	}
	return m, nil
}

// BotIDs returns the configured bots in configuration order.
func (m *Manager) BotIDs() []string {
	return append([]string(nil), m.order...)
}

// EnsureLive returns the bot's live session, logging in when needed. During a
// rate-limit cooldown no login is attempted.
func (m *Manager) EnsureLive(ctx context.Context, botID string) (Session, error) {
	b, ok := m.bots[botID]
	if !ok {
		return Session{}, ErrUnknownBot
	}
	b.login.Lock()
	defer b.login.Unlock()

	b.mu.Lock()
	switch b.state {
	case domain.SessionDisabled:
		b.mu.Unlock()
		return Session{}, ErrBotDisabled
	case domain.SessionLive:
		s := b.snapshot()
		b.mu.Unlock()
		return s, nil
	case domain.SessionCooldown:
		if m.now().Before(b.cooldownUntil) {
			until := b.cooldownUntil
			b.mu.Unlock()
			return Session{}, fmt.Errorf("%w: cooling down until %s", ErrNoLiveSession, until.Format(time.RFC3339))
		}
	}
	b.mu.Unlock()
	m.setState(b, domain.SessionAuthenticating, "")

	code, err := platform.AuthCode(b.identity.SharedSecret, m.now())
	if err != nil {
		return Session{}, m.disable(ctx, b, fmt.Sprintf("shared secret unusable: %v", err))
	}
	res, err := b.client.Login(ctx, platform.Credentials{
		AccountName:   b.identity.AccountName,
		Password:      b.identity.Password,
		TwoFactorCode: code,
	})
	switch {
	case err == nil:
	case errors.Is(err, platform.ErrRateLimited):
		until := m.now().Add(m.cooldown)
		b.mu.Lock()
		b.cooldownUntil = until
		b.mu.Unlock()
		m.setState(b, domain.SessionCooldown, err.Error())
		m.logger.Warn("login rate limited, cooling down", zap.String("bot_id", botID), zap.Time("until", until))
		return Session{}, fmt.Errorf("%w: %v", ErrNoLiveSession, err)
	case errors.Is(err, platform.ErrInvalidCredentials):
		return Session{}, m.disable(ctx, b, err.Error())
	default:
		m.setState(b, domain.SessionDisconnected, err.Error())
		m.logger.Warn("login failed", zap.String("bot_id", botID), zap.Error(err))
		return Session{}, fmt.Errorf("%w: %v", ErrNoLiveSession, err)
	}

	b.mu.Lock()
	b.generation++
	b.cookies = res.Cookies
	b.liveSince = m.now()
	b.cooldownUntil = time.Time{}
	b.mu.Unlock()
	m.setState(b, domain.SessionLive, "")
	m.logger.Info("session live", zap.String("bot_id", botID))

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot(), nil
}

// Invalidate drops the session a caller observed as expired. Newer sessions
// are left alone.
func (m *Manager) Invalidate(s Session) {
	b, ok := m.bots[s.BotID]
	if !ok {
		return
	}
	b.mu.Lock()
	if b.state != domain.SessionLive || b.generation != s.Generation {
		b.mu.Unlock()
		return
	}
	b.cookies = nil
	b.mu.Unlock()
	m.setState(b, domain.SessionDisconnected, "session expired")
	m.logger.Info("session invalidated", zap.String("bot_id", s.BotID), zap.Uint64("generation", s.Generation))
}

// Valid reports whether s is still the bot's current live session.
func (m *Manager) Valid(s Session) bool {
	b, ok := m.bots[s.BotID]
	if !ok {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == domain.SessionLive && b.generation == s.Generation
}

// Statuses reports every bot's session state, sorted by bot id.
func (m *Manager) Statuses() []domain.BotStatus {
	out := make([]domain.BotStatus, 0, len(m.bots))
	for id, b := range m.bots {
		b.mu.Lock()
		st := domain.BotStatus{BotID: id, State: b.state, LastError: b.lastError}
		if b.state == domain.SessionCooldown {
			until := b.cooldownUntil
			st.CooldownUntil = &until
		}
		if b.state == domain.SessionLive {
			since := b.liveSince
			st.LiveSince = &since
		}
		b.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out
}

func (m *Manager) disable(ctx context.Context, b *bot, reason string) error {
	m.setState(b, domain.SessionDisabled, reason)
	m.logger.Error("bot disabled", zap.String("bot_id", b.identity.ID), zap.String("reason", reason))
	if m.alerter != nil {
		text := fmt.Sprintf("bot %s (%s) disabled: %s", b.identity.ID, b.identity.AccountName, reason)
		if err := m.alerter.Alert(ctx, text); err != nil {
			m.logger.Warn("operator alert failed", zap.String("bot_id", b.identity.ID), zap.Error(err))
		}
	}
	return ErrBotDisabled
}

func (m *Manager) setState(b *bot, state domain.SessionState, lastError string) {
	b.mu.Lock()
	b.state = state
	b.lastError = lastError
	b.mu.Unlock()
	if m.onState != nil {
		m.onState(b.identity.ID, state)
	}
}

// snapshot must be called with b.mu held.
func (b *bot) snapshot() Session {
	return Session{
		BotID:      b.identity.ID,
		Generation: b.generation,
		Cookies:    append([]*http.Cookie(nil), b.cookies...),
		Client:     b.client,
	}
}
