package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/0xPuncker/batch-dispatcher/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const sendTimeout = 15 * time.Second

// NotificationService posts failed (and optionally skipped) executions to
// Slack. Messages are sent off the firing goroutine; Close waits for them.
type NotificationService struct {
	slackService  *SlackService
	logger        *logrus.Logger
	schedulerName string
	notifySkips   bool

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewNotificationService(slackService *SlackService, logger *logrus.Logger, schedulerName string) *NotificationService {
	return &NotificationService{
		slackService:  slackService,
		logger:        logger,
		schedulerName: schedulerName,
	}
}

func (s *NotificationService) WithSkipNotifications(enabled bool) *NotificationService {
	s.notifySkips = enabled
	return s
}

func (s *NotificationService) ExecutionStarted(types.Execution) {}

func (s *NotificationService) ExecutionFinished(exec types.Execution) {
	switch {
	case exec.Outcome == types.OutcomeFailed:
	case exec.Outcome == types.OutcomeSkipped && s.notifySkips:
	default:
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.WithField("job_name", exec.JobName).Debug("Notification service closed, dropping job notification")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	message := s.formatJobNotification(exec)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := s.slackService.SendSlackMessage(ctx, message); err != nil {
			s.logger.WithFields(logrus.Fields{
				"job_name": exec.JobName,
				"error":    err.Error(),
			}).Error("Failed to send job notification")
		}
	}()
}

// Close blocks until every pending notification has been sent. Executions
// finishing afterwards are not notified.
func (s *NotificationService) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *NotificationService) formatJobNotification(exec types.Execution) *SlackMessage {
	var color string
	var icon string

	switch exec.Outcome {
	case types.OutcomeSucceeded:
		color = "good"
		icon = "✅"
	case types.OutcomeFailed:
		color = "danger"
		icon = "❌"
	case types.OutcomeSkipped:
		color = "warning"
		icon = "⏭️"
	default:
		color = "#808080"
		icon = "ℹ️"
	}

	fields := []Field{
		{
			Title: "Job Name",
			Value: exec.JobName,
			Short: true,
		},
		{
			Title: "Status",
			Value: cases.Title(language.English).String(string(exec.Outcome)),
			Short: true,
		},
		{
			Title: "Trigger",
			Value: exec.Trigger.String(),
			Short: true,
		},
	}

	if exec.Duration > 0 {
		fields = append(fields, Field{
			Title: "Duration",
			Value: utils.FormatDuration(exec.Duration),
			Short: true,
		})
	}

	if exec.RunID != "" {
		fields = append(fields, Field{
			Title: "Run ID",
			Value: exec.RunID,
			Short: true,
		})
	}

	details := exec.Error
	if exec.Outcome == types.OutcomeSkipped {
		details = exec.SkipReason
	}
	if details != "" {
		fields = append(fields, Field{
			Title: "Details",
			Value: details,
			Short: false,
		})
	}

	footer := fmt.Sprintf("Fired at %s", exec.FiredAt.Format(time.RFC1123))
	if s.schedulerName != "" {
		footer = fmt.Sprintf("Scheduler: %s | %s", s.schedulerName, footer)
	}

	return &SlackMessage{
		Text: fmt.Sprintf("%s Job Status Update", icon),
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Footer: footer,
				Ts:     time.Now().Unix(),
			},
		},
	}
}
