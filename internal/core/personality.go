package core

import "fmt"

// Provider selects the reply generator for a bot.
type Provider string

const (
	ProviderArk  Provider = "ark"
	ProviderMock Provider = "mock"
)

// Personality is passed through to the responder untouched,
// except ResponseSpeed which drives the reply delay.
type Personality struct {
	Style          string `json:"style" yaml:"style" mapstructure:"style"`
	ResponseSpeed  int    `json:"response_speed" yaml:"response_speed" mapstructure:"response_speed"`
	Aggressiveness int    `json:"aggressiveness" yaml:"aggressiveness" mapstructure:"aggressiveness"`
	Humor          int    `json:"humor" yaml:"humor" mapstructure:"humor"`
	Creativity     int    `json:"creativity" yaml:"creativity" mapstructure:"creativity"`
	Language       string `json:"language" yaml:"language" mapstructure:"language"`
	Behavior       string `json:"behavior" yaml:"behavior" mapstructure:"behavior"`
	Mode           string `json:"mode" yaml:"mode" mapstructure:"mode"`
}

// DefaultPersonality returns the stock friendly entertainer.
func DefaultPersonality() Personality {
	return Personality{
		Style:          "friendly",
		ResponseSpeed:  80,
		Aggressiveness: 10,
		Humor:          70,
		Creativity:     90,
		Language:       "English",
		Behavior:       "neutral",
		Mode:           "entertainer",
	}
}

// Validate checks trait ranges.
func (p Personality) Validate() error {
	traits := []struct {
		name  string
		value int
	}{
		{"response_speed", p.ResponseSpeed},
		{"aggressiveness", p.Aggressiveness},
		{"humor", p.Humor},
		{"creativity", p.Creativity},
	}
	for _, t := range traits {
		if t.value < 0 || t.value > 100 {
			return fmt.Errorf("%w: %s must be within 0..100, got %d", ErrBadRequest, t.name, t.value)
		}
	}
	return nil
}

// Profile is the per-bot configuration that drives automated replies.
type Profile struct {
	Name        string      `json:"name" yaml:"name" mapstructure:"name"`
	Personality Personality `json:"personality" yaml:"personality" mapstructure:"personality"`
	Provider    Provider    `json:"provider" yaml:"provider" mapstructure:"provider"`
	AutoReply   bool        `json:"auto_reply" yaml:"auto_reply" mapstructure:"auto_reply"`
}
