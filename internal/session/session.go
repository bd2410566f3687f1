package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/bus"
	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/proto"
	"github.com/vovakirdan/wirechat-bots/internal/utils"
)

// leaveAnnounceTimeout bounds the presence leave published per room on Close.
const leaveAnnounceTimeout = 2 * time.Second

// Config tunes connection handling.
type Config struct {
	ConnectTimeout time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

// DefaultConfig returns the stock timeouts.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		ReconnectMin:   time.Second,
		ReconnectMax:   30 * time.Second,
	}
}

// Deps are the collaborators a session talks to.
type Deps struct {
	Auth      core.Authenticator
	Transport core.Transport
	Directory core.RoomDirectory
	Bus       *bus.Bus
	Log       *zerolog.Logger
}

// Session is one authenticated bot identity with a single real-time connection
// multiplexing all of its room memberships.
type Session struct {
	id   string
	deps Deps
	cfg  Config
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	state   core.ConnectionState
	account *core.Account
	conn    core.Conn
	ingress *bus.Ingress
	rooms   map[string]*Membership
	profile core.Profile
	closed  bool

	// joinMu serializes membership changes with resubscription after reconnect.
	joinMu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	wg sync.WaitGroup
}

// New creates a disconnected session with a fresh id.
func New(deps Deps, cfg Config, profile core.Profile) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = DefaultConfig().ReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	id := utils.NewSessionID()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       id,
		deps:     deps,
		cfg:      cfg,
		log:      deps.Log.With().Str("session_id", id).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		state:    core.StateDisconnected,
		rooms:    make(map[string]*Membership),
		profile:  profile,
		inflight: make(map[string]struct{}),
	}
}

// ID returns the immutable session id.
func (s *Session) ID() string { return s.id }

// State returns the current connection state.
func (s *Session) State() core.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Account returns the authenticated account, or nil before login.
func (s *Session) Account() *core.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return nil
	}
	acc := *s.account
	return &acc
}

// Profile returns the bot's reply profile.
func (s *Session) Profile() core.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// SetProfile replaces the bot's reply profile.
func (s *Session) SetProfile(p core.Profile) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

// Open authenticates and connects. A failed login leaves the session
// Disconnected; a failed connect leaves it usable in the degraded state and
// keeps retrying in the background.
func (s *Session) Open(ctx context.Context, username, password string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.ErrSessionClosed
	}
	if s.state != core.StateDisconnected || s.account != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: session already opened", core.ErrBadRequest)
	}
	s.state = core.StateAuthenticating
	s.mu.Unlock()

	account, err := s.deps.Auth.Authenticate(ctx, username, password)
	if err != nil {
		s.setState(core.StateDisconnected)
		if !errors.Is(err, core.ErrAuthFailed) {
			err = core.Wrap(core.ErrAuthFailed, err, "")
		}
		s.log.Warn().Err(err).Str("bot", username).Msg("login failed")
		return fmt.Errorf("login %s: %w", username, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.ErrSessionClosed
	}
	s.account = account
	s.ingress = s.deps.Bus.Ingress(s.id, account.ID)
	s.mu.Unlock()
	s.deps.Bus.RegisterAccount(account.ID)

	s.report("logged in")

	conn, err := s.connect(ctx, account)
	if err != nil {
		s.setState(core.StateDegraded)
		s.log.Warn().Err(err).Msg("real-time connect failed, continuing degraded")
		s.report("real-time unavailable, retrying in background")
		s.mu.Lock()
		if !s.closed {
			s.spawn(s.reconnect)
		}
		s.mu.Unlock()
		return nil
	}
	if !s.attach(conn) {
		_ = conn.Close()
		return core.ErrSessionClosed
	}
	s.report("connected")
	return nil
}

// Close releases the connection and every membership. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	account := s.account
	rooms := s.rooms
	s.conn = nil
	s.rooms = make(map[string]*Membership)
	s.state = core.StateDisconnected
	s.mu.Unlock()

	if conn != nil && len(rooms) > 0 {
		leaveCtx, cancel := context.WithTimeout(context.Background(), leaveAnnounceTimeout)
		for _, m := range rooms {
			s.announce(leaveCtx, conn, m, proto.PresenceLeave)
		}
		cancel()
	}

	s.cancel()
	// Wait out a join or resubscribe that raced with close.
	s.joinMu.Lock()
	s.joinMu.Unlock()

	s.inflightMu.Lock()
	s.inflight = make(map[string]struct{})
	s.inflightMu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if account != nil {
		s.deps.Bus.UnregisterAccount(account.ID)
	}
	s.wg.Wait()
	s.report("logged out")
	return err
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		ID:      s.id,
		State:   s.state,
		Profile: s.profile,
		Rooms:   make([]RoomStatus, 0, len(s.rooms)),
	}
	if s.account != nil {
		st.Username = s.account.Username
		st.AccountID = s.account.ID
	}
	for _, m := range s.rooms {
		st.Rooms = append(st.Rooms, RoomStatus{ID: m.room.ID, Name: m.room.Name, JoinedAt: m.joinedAt})
	}
	sort.Slice(st.Rooms, func(i, j int) bool {
		return st.Rooms[i].JoinedAt.Before(st.Rooms[j].JoinedAt)
	})
	return st
}

// Search looks rooms up by name. It works while degraded.
func (s *Session) Search(ctx context.Context, query string, limit int) ([]core.RoomInfo, error) {
	account, err := s.requireAccount()
	if err != nil {
		return nil, err
	}
	return s.deps.Directory.SearchByName(ctx, account, strings.TrimSpace(query), limit)
}

// JoinByIdentifier resolves a room by numeric id or by name (first match) and
// subscribes to it. Joining a room twice returns the existing membership.
func (s *Session) JoinByIdentifier(ctx context.Context, identifier string) (*Membership, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: empty room identifier", core.ErrBadRequest)
	}
	account, err := s.requireConnected()
	if err != nil {
		return nil, err
	}

	var room core.RoomInfo
	if utils.IsNumeric(identifier) {
		if m := s.membership(identifier); m != nil {
			return m, nil
		}
		info, err := s.deps.Directory.FetchByID(ctx, account, identifier)
		if err != nil {
			return nil, fmt.Errorf("fetch room %s: %w", identifier, err)
		}
		room = *info
	} else {
		found, err := s.deps.Directory.SearchByName(ctx, account, identifier, 1)
		if err != nil {
			return nil, fmt.Errorf("search room %q: %w", identifier, err)
		}
		if len(found) == 0 {
			return nil, core.Wrap(core.ErrRoomNotFound, nil, fmt.Sprintf("room %q not found", identifier))
		}
		room = found[0]
	}
	return s.join(ctx, room)
}

func (s *Session) join(ctx context.Context, room core.RoomInfo) (*Membership, error) {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, core.ErrSessionClosed
	}
	if m, ok := s.rooms[room.ID]; ok {
		s.mu.RUnlock()
		return m, nil
	}
	conn, state, ingress := s.conn, s.state, s.ingress
	s.mu.RUnlock()
	if state != core.StateConnected || conn == nil {
		return nil, core.ErrTransportUnavailable
	}

	m := s.newMembership(room, ingress)
	if err := s.subscribe(ctx, conn, m); err != nil {
		m.cancel()
		return nil, core.Wrap(core.ErrTransportUnavailable, err, fmt.Sprintf("subscribe room %s", room.ID))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		m.cancel()
		return nil, core.ErrSessionClosed
	}
	s.rooms[room.ID] = m
	s.mu.Unlock()

	s.announce(ctx, conn, m, proto.PresenceJoin)
	s.log.Info().Str("room_id", room.ID).Str("room", room.Name).Msg("joined room")
	s.report(fmt.Sprintf("joined room %s", room.Name))
	return m, nil
}

// Leave drops a membership. Transport unsubscribe failures are logged; the
// membership is removed locally regardless.
func (s *Session) Leave(ctx context.Context, roomID string) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.Lock()
	m, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return core.ErrNotMember
	}
	delete(s.rooms, roomID)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.announce(ctx, conn, m, proto.PresenceLeave)
	}
	m.cancel()
	if conn != nil {
		for _, kind := range []core.ChannelKind{core.ChannelChat, core.ChannelPresence} {
			if err := conn.Unsubscribe(m.channel, kind); err != nil {
				s.log.Warn().Err(err).Str("room_id", roomID).Str("channel", string(kind)).Msg("unsubscribe failed")
			}
		}
	}
	s.log.Info().Str("room_id", roomID).Msg("left room")
	s.report(fmt.Sprintf("left room %s", m.room.Name))
	return nil
}

// Publish sends text to a joined room.
func (s *Session) Publish(ctx context.Context, roomID, text string) error {
	s.mu.RLock()
	m, ok := s.rooms[roomID]
	conn, state, account := s.conn, s.state, s.account
	s.mu.RUnlock()

	if !ok {
		return core.ErrNotMember
	}
	if state != core.StateConnected || conn == nil {
		return core.ErrTransportUnavailable
	}

	raw, err := json.Marshal(proto.ChatPayload{
		ID:      uuid.NewString(),
		Message: text,
		Sender:  proto.Sender{ID: account.ID, Username: account.Username},
		TS:      time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode chat payload: %w", err)
	}
	if err := conn.Publish(ctx, m.channel, core.ChannelChat, raw); err != nil {
		return core.Wrap(core.ErrPublishFailed, err, "")
	}
	return nil
}

// MembershipContext returns the context of a live membership.
func (s *Session) MembershipContext(roomID string) (context.Context, bool) {
	m := s.membership(roomID)
	if m == nil {
		return nil, false
	}
	return m.ctx, true
}

// TryBeginResponse marks a message as being answered. It reports false when
// the message is already in flight.
func (s *Session) TryBeginResponse(messageID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[messageID]; busy {
		return false
	}
	s.inflight[messageID] = struct{}{}
	return true
}

// EndResponse clears a message from the in-flight set.
func (s *Session) EndResponse(messageID string) {
	s.inflightMu.Lock()
	delete(s.inflight, messageID)
	s.inflightMu.Unlock()
}

// InFlight returns how many messages are currently being answered.
func (s *Session) InFlight() int {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return len(s.inflight)
}

func (s *Session) membership(roomID string) *Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

func (s *Session) newMembership(room core.RoomInfo, ingress *bus.Ingress) *Membership {
	ctx, cancel := context.WithCancel(s.ctx)
	m := &Membership{
		room:     room,
		channel:  core.RoomChannel(room),
		joinedAt: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
	logger := s.log.With().Str("room_id", room.ID).Logger()
	m.handlers = map[core.ChannelKind]func([]byte){
		core.ChannelChat: func(raw []byte) {
			if _, _, err := ingress.Chat(room, raw); err != nil {
				logger.Debug().Err(err).Msg("dropping chat event")
			}
		},
		core.ChannelPresence: func(raw []byte) {
			if _, err := ingress.Presence(room, raw); err != nil {
				logger.Debug().Err(err).Msg("dropping presence event")
			}
		},
	}
	return m
}

// subscribe opens both channels of a membership on conn and starts pumping.
func (s *Session) subscribe(ctx context.Context, conn core.Conn, m *Membership) error {
	chat, err := conn.Subscribe(m.ctx, m.channel, core.ChannelChat)
	if err != nil {
		return fmt.Errorf("subscribe chat: %w", err)
	}
	presence, err := conn.Subscribe(m.ctx, m.channel, core.ChannelPresence)
	if err != nil {
		if uerr := conn.Unsubscribe(m.channel, core.ChannelChat); uerr != nil {
			s.log.Warn().Err(uerr).Str("room_id", m.room.ID).Msg("unsubscribe chat after failed presence subscribe")
		}
		return fmt.Errorf("subscribe presence: %w", err)
	}
	s.spawn(func() { m.pump(core.ChannelChat, chat) })
	s.spawn(func() { m.pump(core.ChannelPresence, presence) })
	return nil
}

// announce publishes the bot's own presence change. Servers that generate
// presence themselves ignore it. A leave is also applied to the local room
// state, since the membership stops listening before any echo arrives.
func (s *Session) announce(ctx context.Context, conn core.Conn, m *Membership, typ proto.PresenceType) {
	account := s.Account()
	if account == nil {
		return
	}
	raw, err := json.Marshal(proto.PresencePayload{Type: typ, UserID: account.ID, Username: account.Username})
	if err != nil {
		return
	}
	if err := conn.Publish(ctx, m.channel, core.ChannelPresence, raw); err != nil {
		s.log.Debug().Err(err).Str("room_id", m.room.ID).Msg("presence announce failed")
	}
	if typ == proto.PresenceLeave {
		m.handlers[core.ChannelPresence](raw)
	}
}

func (s *Session) requireAccount() (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, core.ErrSessionClosed
	}
	if s.account == nil {
		return nil, core.ErrAuthFailed
	}
	acc := *s.account
	return &acc, nil
}

func (s *Session) requireConnected() (*core.Account, error) {
	account, err := s.requireAccount()
	if err != nil {
		return nil, err
	}
	if s.State() != core.StateConnected {
		return nil, core.ErrTransportUnavailable
	}
	return account, nil
}

func (s *Session) setState(state core.ConnectionState) {
	s.mu.Lock()
	if !s.closed {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// report logs an operator-facing line and mirrors it on the bus.
func (s *Session) report(text string) {
	var name string
	if acc := s.Account(); acc != nil {
		name = acc.Username
	}
	s.log.Info().Str("bot", name).Msg(text)
	s.deps.Bus.Log(core.LogEntry{SessionID: s.id, Bot: name, Text: text})
}
