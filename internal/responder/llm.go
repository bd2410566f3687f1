package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bots/internal/core"
)

// LLMConfig tunes the model-backed responder.
type LLMConfig struct {
	Timeout      time.Duration
	HistoryLimit int
}

// LLM generates replies with a chat model: a system prompt built from the
// personality, the recent room history and a continuation instruction.
type LLM struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	timeout      time.Duration
	historyLimit int
	log          zerolog.Logger
}

// NewLLM compiles the prompt chain around chatModel.
func NewLLM(ctx context.Context, chatModel model.ChatModel, cfg LLMConfig, logger *zerolog.Logger) (*LLM, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile reply chain: %w", err)
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &LLM{
		chain:        runnable,
		timeout:      cfg.Timeout,
		historyLimit: historyLimit,
		log:          logger.With().Str("component", "llm").Logger(),
	}, nil
}

// GenerateReply implements core.Responder.
func (l *LLM) GenerateReply(ctx context.Context, req core.ReplyRequest) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := l.chain.Invoke(ctx, l.buildInput(req))
	if err != nil {
		return "", fmt.Errorf("run reply chain: %w", err)
	}
	reply := cleanReply(resp.Content, req.BotName)
	l.log.Debug().Str("bot", req.BotName).Int("length", len(reply)).Dur("took", time.Since(start)).Msg("generated reply")
	return reply, nil
}

func (l *LLM) buildInput(req core.ReplyRequest) map[string]any {
	return map[string]any{
		"system":  buildSystemPrompt(req.Personality, req.BotName),
		"history": buildHistory(req.History, req.BotName, l.historyLimit),
		"query": fmt.Sprintf("Continue the conversation as %s. Reply with a single, short chat message "+
			"and do not put your name in it.", req.BotName),
	}
}

func buildSystemPrompt(p core.Personality, botName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a chat room bot named %s. Your personality is strictly defined by these traits:\n", botName)
	fmt.Fprintf(&b, "- Style: %s\n", p.Style)
	fmt.Fprintf(&b, "- Humor (0-100): %d\n", p.Humor)
	fmt.Fprintf(&b, "- Aggressiveness (0-100): %d\n", p.Aggressiveness)
	fmt.Fprintf(&b, "- Creativity (0-100): %d\n", p.Creativity)
	fmt.Fprintf(&b, "- Behavior: %s\n", p.Behavior)
	fmt.Fprintf(&b, "- Mode: %s\n", p.Mode)
	fmt.Fprintf(&b, "- Language: %s\n", p.Language)
	b.WriteString("Stay in character and keep messages casual.")
	return b.String()
}

// buildHistory maps room messages to chat turns. The bot's own lines become
// assistant turns; everyone else is a user turn prefixed with the author.
func buildHistory(messages []core.Message, botName string, limit int) []*schema.Message {
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.Kind == core.MessageSystem:
			continue
		case msg.Kind == core.MessageBot && msg.Author == botName:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		default:
			history = append(history, schema.UserMessage(msg.Author+": "+msg.Text))
		}
	}
	return history
}

func cleanReply(content, botName string) string {
	reply := strings.TrimSpace(content)
	if botName != "" {
		reply = strings.TrimSpace(strings.TrimPrefix(reply, botName+":"))
	}
	return reply
}
