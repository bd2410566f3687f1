package session

import (
	"context"
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/schedule"
)

func (s *Session) connect(ctx context.Context, account *core.Account) (core.Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return s.deps.Transport.Connect(cctx, account)
}

// attach installs conn as the live connection and starts watching it.
func (s *Session) attach(conn core.Conn) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.conn = conn
	s.state = core.StateConnected
	s.spawn(func() { s.watch(conn) })
	s.mu.Unlock()
	return true
}

// watch waits for conn to drop and then moves the session to degraded and
// starts reconnecting.
func (s *Session) watch(conn core.Conn) {
	select {
	case <-s.ctx.Done():
		return
	case <-conn.Done():
	}

	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = core.StateDegraded
	s.mu.Unlock()

	_ = conn.Close()
	s.log.Warn().Msg("real-time connection lost")
	s.report("connection lost, reconnecting")
	s.reconnect()
}

// reconnect retries with exponential backoff until connected or closed.
func (s *Session) reconnect() {
	account := s.Account()
	if account == nil {
		return
	}
	backoff := schedule.Backoff{Min: s.cfg.ReconnectMin, Max: s.cfg.ReconnectMax}
	for {
		wait := backoff.Next()
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := s.connect(s.ctx, account)
		if err != nil {
			s.log.Debug().Err(err).Dur("waited", wait).Msg("reconnect failed")
			continue
		}
		if s.resume(conn) {
			s.report("reconnected")
		}
		return
	}
}

// resume attaches a fresh connection and resubscribes every membership with
// the handlers installed at join time.
func (s *Session) resume(conn core.Conn) bool {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.RLock()
	memberships := make([]*Membership, 0, len(s.rooms))
	for _, m := range s.rooms {
		memberships = append(memberships, m)
	}
	s.mu.RUnlock()

	for _, m := range memberships {
		if err := s.subscribe(s.ctx, conn, m); err != nil {
			s.log.Warn().Err(err).Str("room_id", m.room.ID).Msg("resubscribe failed")
		}
	}
	if !s.attach(conn) {
		_ = conn.Close()
		return false
	}
	return true
}
