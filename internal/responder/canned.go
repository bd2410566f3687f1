package responder

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// DefaultReplies are what the canned responder says.
var DefaultReplies = []string{"lol that's funny", "idk", "cool", "what do you mean?", "nice outfit!"}

// Canned picks a random reply from a fixed list after a short simulated latency.
type Canned struct {
	Replies    []string
	MinLatency time.Duration
	MaxLatency time.Duration
}

// NewCanned returns a canned responder with 500-1000ms latency.
func NewCanned() *Canned {
	return &Canned{Replies: DefaultReplies, MinLatency: 500 * time.Millisecond, MaxLatency: time.Second}
}

// GenerateReply implements core.Responder.
func (c *Canned) GenerateReply(ctx context.Context, _ core.ReplyRequest) (string, error) {
	latency := c.MinLatency
	if span := c.MaxLatency - c.MinLatency; span > 0 {
		latency += rand.N(span)
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	replies := c.Replies
	if len(replies) == 0 {
		replies = DefaultReplies
	}
	return replies[rand.IntN(len(replies))], nil
}
