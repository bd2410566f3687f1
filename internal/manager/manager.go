package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-bots/internal/bus"
	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/responder"
	"github.com/vovakirdan/wirechat-bots/internal/session"
)

// ProfileStore persists bot profiles by username.
type ProfileStore interface {
	// GetProfile returns nil, nil when no profile is stored.
	GetProfile(ctx context.Context, username string) (*core.Profile, error)
	SaveProfile(ctx context.Context, username string, p core.Profile) error
}

// Config wires a Manager.
type Config struct {
	Deps            session.Deps
	Session         session.Config
	Responder       core.Responder
	Profiles        ProfileStore
	DefaultProvider core.Provider
	SchedulerOpts   []responder.Option
}

type entry struct {
	session     *session.Session
	scheduler   *responder.Scheduler
	unsubscribe func()
}

// Manager owns every bot session and its reply scheduler.
type Manager struct {
	cfg Config
	bus *bus.Bus
	log *zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty manager.
func New(cfg Config) *Manager {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = core.ProviderMock
	}
	return &Manager{
		cfg:     cfg,
		bus:     cfg.Deps.Bus,
		log:     cfg.Deps.Log,
		entries: make(map[string]*entry),
	}
}

// Create logs a bot in and registers it. A session that fails to log in is
// discarded and never registered. A nil profile means the stored profile, or
// the default one.
func (m *Manager) Create(ctx context.Context, username, password string, profile *core.Profile) (*session.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", core.ErrBadRequest)
	}
	p, err := m.resolveProfile(ctx, username, profile)
	if err != nil {
		return nil, err
	}

	s := session.New(m.cfg.Deps, m.cfg.Session, p)
	if err := s.Open(ctx, username, password); err != nil {
		_ = s.Close()
		return nil, err
	}

	sched := responder.NewScheduler(s, m.bus, m.cfg.Responder, m.log, m.cfg.SchedulerOpts...)
	unsubscribe := m.bus.Subscribe("scheduler:"+s.ID(), sched)

	m.mu.Lock()
	m.entries[s.ID()] = &entry{session: s, scheduler: sched, unsubscribe: unsubscribe}
	m.mu.Unlock()

	m.log.Info().Str("session_id", s.ID()).Str("bot", username).Str("state", s.State().String()).Msg("bot created")
	return s, nil
}

// Remove closes and forgets a session. Unknown ids succeed.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	e.scheduler.Stop()
	e.unsubscribe()
	if err := e.session.Close(); err != nil {
		m.log.Warn().Err(err).Str("session_id", id).Msg("session close reported an error")
	}
	m.log.Info().Str("session_id", id).Msg("bot removed")
	return nil
}

// Get returns a registered session.
func (m *Manager) Get(id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return e.session, nil
}

// List returns status snapshots of every session ordered by username.
func (m *Manager) List() []session.Status {
	m.mu.RLock()
	out := make([]session.Status, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.session.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetProfile updates a running bot's profile and persists it.
func (m *Manager) SetProfile(ctx context.Context, id string, p core.Profile) (core.Profile, error) {
	s, err := m.Get(id)
	if err != nil {
		return core.Profile{}, err
	}
	if err := p.Personality.Validate(); err != nil {
		return core.Profile{}, err
	}
	acc := s.Account()
	if p.Name == "" && acc != nil {
		p.Name = acc.Username
	}
	if p.Provider == "" {
		p.Provider = m.cfg.DefaultProvider
	}
	if m.cfg.Profiles != nil && acc != nil {
		if err := m.cfg.Profiles.SaveProfile(ctx, acc.Username, p); err != nil {
			return core.Profile{}, fmt.Errorf("save profile: %w", err)
		}
	}
	s.SetProfile(p)
	return p, nil
}

// Close removes every session concurrently.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error { return m.Remove(id) })
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("close sessions: %w", ctx.Err())
	}
}

func (m *Manager) resolveProfile(ctx context.Context, username string, profile *core.Profile) (core.Profile, error) {
	var p core.Profile
	switch {
	case profile != nil:
		p = *profile
	case m.cfg.Profiles != nil:
		stored, err := m.cfg.Profiles.GetProfile(ctx, username)
		if err != nil {
			return core.Profile{}, fmt.Errorf("load profile: %w", err)
		}
		if stored != nil {
			p = *stored
		} else {
			p = core.Profile{Personality: core.DefaultPersonality(), AutoReply: true}
		}
	default:
		p = core.Profile{Personality: core.DefaultPersonality(), AutoReply: true}
	}
	if p.Name == "" {
		p.Name = username
	}
	if p.Provider == "" {
		p.Provider = m.cfg.DefaultProvider
	}
	if err := p.Personality.Validate(); err != nil {
		return core.Profile{}, err
	}
	return p, nil
}
