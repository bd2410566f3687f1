package responder

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/schedule"
)

// DefaultHistoryLimit is how many recent room messages a responder sees.
const DefaultHistoryLimit = 10

// Bot is the part of a session the scheduler drives.
type Bot interface {
	ID() string
	State() core.ConnectionState
	Profile() core.Profile
	MembershipContext(roomID string) (context.Context, bool)
	TryBeginResponse(messageID string) bool
	EndResponse(messageID string)
	Publish(ctx context.Context, roomID, text string) error
}

// History gives access to recent room messages.
type History interface {
	History(roomID string, n int) []core.Message
}

// Scheduler observes room messages for one bot and answers user messages
// after a personality-dependent delay. A message is answered at most once
// while it is in flight.
type Scheduler struct {
	core.BaseObserver

	bot          Bot
	history      History
	responder    core.Responder
	log          zerolog.Logger
	historyLimit int
	jitter       func() time.Duration

	mu      sync.Mutex
	tasks   map[string]*schedule.Task
	stopped bool
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJitter overrides the random part of the reply delay.
func WithJitter(fn func() time.Duration) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.jitter = fn
		}
	}
}

// WithHistoryLimit overrides how many messages are passed to the responder.
func WithHistoryLimit(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// NewScheduler builds a scheduler for bot.
func NewScheduler(bot Bot, history History, responder core.Responder, logger *zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		bot:          bot,
		history:      history,
		responder:    responder,
		log:          logger.With().Str("session_id", bot.ID()).Str("component", "scheduler").Logger(),
		historyLimit: DefaultHistoryLimit,
		jitter:       RandomJitter,
		tasks:        make(map[string]*schedule.Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnMessage implements core.Observer.
func (s *Scheduler) OnMessage(msg core.Message) {
	if msg.Kind != core.MessageUser {
		return
	}
	profile := s.bot.Profile()
	if !profile.AutoReply {
		return
	}
	if s.bot.State() != core.StateConnected {
		return
	}
	roomCtx, ok := s.bot.MembershipContext(msg.RoomID)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if !s.bot.TryBeginResponse(msg.ID) {
		return
	}

	delay := ResponseDelay(profile.Personality.ResponseSpeed, s.jitter())
	task := schedule.After(roomCtx, delay, func(ctx context.Context) {
		s.respond(ctx, msg, profile)
	})
	s.tasks[msg.ID] = task
	s.log.Debug().Str("room_id", msg.RoomID).Str("message_id", msg.ID).Dur("delay", delay).Msg("reply scheduled")

	s.wg.Add(1)
	go s.finish(msg.ID, task)
}

// Pending returns the number of scheduled or running replies.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending reply and waits for running ones to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, task := range s.tasks {
		task.Cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) finish(messageID string, task *schedule.Task) {
	defer s.wg.Done()
	if !task.Wait() {
		s.log.Debug().Str("message_id", messageID).Msg("reply cancelled")
	}
	s.mu.Lock()
	if s.tasks[messageID] == task {
		delete(s.tasks, messageID)
	}
	s.mu.Unlock()
	s.bot.EndResponse(messageID)
}

func (s *Scheduler) respond(ctx context.Context, msg core.Message, profile core.Profile) {
	logger := s.log.With().Str("room_id", msg.RoomID).Str("message_id", msg.ID).Logger()

	reply, err := s.responder.GenerateReply(ctx, core.ReplyRequest{
		Personality: profile.Personality,
		History:     s.history.History(msg.RoomID, s.historyLimit),
		BotName:     profile.Name,
		Provider:    profile.Provider,
	})
	if err != nil {
		logger.Warn().Err(core.Wrap(core.ErrResponderFailed, err, "")).Msg("responder failed")
		return
	}
	if ctx.Err() != nil {
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		logger.Debug().Msg("responder returned empty reply")
		return
	}
	if err := s.bot.Publish(ctx, msg.RoomID, reply); err != nil {
		logger.Warn().Err(err).Msg("reply publish failed")
		return
	}
	logger.Info().Str("bot", profile.Name).Msg("replied")
}
