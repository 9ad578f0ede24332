package notify

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

// Slack posts task outcomes to a Slack channel.
type Slack struct {
	api     *slack.Client
	channel string
}

// NewSlack creates a Slack notifier for the given bot token and channel.
func NewSlack(token, channel string) *Slack {
	return &Slack{
		api:     slack.New(token),
		channel: channel,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, event *model.TaskEvent) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(outcomeText(event), false),
	)
	return err
}
