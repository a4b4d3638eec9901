// Package notify posts deployment outcome notifications to Slack. It is a
// best-effort integration: a disabled or failing notifier never affects
// pipeline or lifecycle outcomes, mirroring the reference platform's
// Notifier.IsEnabled guard pattern.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Outcome summarizes a Deployment's terminal state for a Slack post.
type Outcome struct {
	ProjectName  string
	DeploymentID int64
	Status       string // "live" or "failed"
	Domain       string // set when Status == "live"
	FailReason   string // set when Status == "failed"
}

// SlackNotifier posts deployment outcomes to a single configured channel.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier builds a notifier. If botToken is empty the notifier is a
// no-op, so deployments work without Slack configured.
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable client and channel.
func (n *SlackNotifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyOutcome posts a deployment's terminal status. Errors are logged, not
// returned, since a notification failure must never fail a deployment (§7
// IntegrationError policy).
func (n *SlackNotifier) NotifyOutcome(ctx context.Context, outcome Outcome) {
	if !n.IsEnabled() {
		return
	}

	text := formatOutcome(outcome)
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Warn("posting deployment outcome to slack",
			"deployment_id", outcome.DeploymentID, "error", err)
	}
}

func formatOutcome(o Outcome) string {
	switch o.Status {
	case "live":
		return fmt.Sprintf(":rocket: *%s* is live at https://%s (deployment #%d)", o.ProjectName, o.Domain, o.DeploymentID)
	case "failed":
		return fmt.Sprintf(":x: *%s* deployment #%d failed: %s", o.ProjectName, o.DeploymentID, o.FailReason)
	default:
		return fmt.Sprintf("*%s* deployment #%d: %s", o.ProjectName, o.DeploymentID, o.Status)
	}
}
