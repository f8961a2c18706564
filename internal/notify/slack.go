// Package notify posts out-of-band notices to the researchers running an
// experiment. Delivery is best-effort and asynchronous: a Slack outage
// must never stall a simulation.
package notify

import (
	"log/slog"

	"github.com/slack-go/slack"
)

// Slack posts messages to a researcher channel.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlack builds a notifier for the given bot token and channel. Both
// must be non-empty; deployments without Slack simply pass no notifier to
// the engine.
func NewSlack(token, channel string, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		client:  slack.New(token),
		channel: channel,
		logger:  logger,
	}
}

// Post sends text to the configured channel without blocking the caller.
func (s *Slack) Post(text string) {
	go func() {
		_, _, err := s.client.PostMessage(s.channel, slack.MsgOptionText(text, false))
		if err != nil {
			s.logger.Warn("slack post failed", "channel", s.channel, "error", err)
		}
	}()
}
