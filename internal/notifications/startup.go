package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/sirupsen/logrus"
)

const maxStartupFields = 20

// TriggerLister is the part of the scheduler the startup notice reads from.
type TriggerLister interface {
	ListTriggers() []types.TriggerSpec
	Next(key types.TriggerKey) time.Time
}

type StartupNotifier struct {
	triggers      TriggerLister
	slack         *SlackService
	logger        *logrus.Logger
	schedulerName string
	initialDelay  time.Duration
}

func NewStartupNotifier(triggers TriggerLister, slack *SlackService, logger *logrus.Logger, schedulerName string) *StartupNotifier {
	return &StartupNotifier{
		triggers:      triggers,
		slack:         slack,
		logger:        logger,
		schedulerName: schedulerName,
		initialDelay:  5 * time.Second,
	}
}

// NotifyStartup waits for the initial delay, then posts the armed triggers
// with their next fire times.
func (n *StartupNotifier) NotifyStartup(ctx context.Context) error {
	select {
	case <-time.After(n.initialDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	specs := n.triggers.ListTriggers()

	fields := make([]Field, 0, len(specs))
	for i, spec := range specs {
		if i == maxStartupFields {
			fields = append(fields, Field{
				Title: "More",
				Value: fmt.Sprintf("%d more triggers not shown", len(specs)-maxStartupFields),
			})
			break
		}

		next := "not scheduled"
		if t := n.triggers.Next(spec.Key()); !t.IsZero() {
			next = t.Format(time.RFC1123)
		}
		fields = append(fields, Field{
			Title: spec.Key().String(),
			Value: fmt.Sprintf("%s `%s` next: %s", spec.JobName, spec.CronExpression, next),
			Short: false,
		})
	}

	name := n.schedulerName
	if name == "" {
		name = "scheduler"
	}

	message := &SlackMessage{
		Text: fmt.Sprintf("🚀 %s started with %d triggers", name, len(specs)),
		Attachments: []Attachment{
			{
				Color:  "#36a64f",
				Fields: fields,
				Ts:     time.Now().Unix(),
			},
		},
	}

	if err := n.slack.SendSlackMessage(ctx, message); err != nil {
		return fmt.Errorf("failed to send startup notification: %w", err)
	}

	n.logger.WithField("triggers", len(specs)).Info("Startup notification sent")
	return nil
}
