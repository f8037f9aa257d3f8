// ABOUTME: Config-driven cron service submitting scheduled work to the agent loop
// ABOUTME: Jobs run as system-origin messages targeting a composite "channel:chat_id"

package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lanternlabs/lantern/internal/channels"
	"github.com/lanternlabs/lantern/internal/config"
)

// cronParser supports both standard (5-field) and extended (6-field with
// seconds) cron expressions, plus descriptors like @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

const submitTimeout = 10 * time.Second

// Service fires configured jobs into the agent loop on schedule. Each job
// is submitted on the system channel with a composite chat id so the
// response is routed to the job's declared conversation.
type Service struct {
	submitter channels.Submitter
	jobs      []config.CronJobConfig
	runner    *cron.Cron
	logger    *slog.Logger
}

// New creates the cron service. Pass nil logger for default.
func New(submitter channels.Submitter, jobs []config.CronJobConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		submitter: submitter,
		jobs:      jobs,
		runner:    cron.New(cron.WithParser(cronParser)),
		logger:    logger.With("component", "cron"),
	}
}

// Start registers every job and begins scheduling. A job with an invalid
// schedule fails the whole start; config validation should have caught it.
func (s *Service) Start() error {
	for _, job := range s.jobs {
		job := job
		if _, err := s.runner.AddFunc(job.Schedule, func() { s.runJob(job) }); err != nil {
			return fmt.Errorf("scheduling job %q: %w", job.Name, err)
		}
		s.logger.Info("job scheduled",
			"job", job.Name,
			"schedule", job.Schedule,
			"target", job.TargetChatID())
	}
	s.runner.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Service) Stop() {
	ctx := s.runner.Stop()
	<-ctx.Done()
	s.logger.Info("cron stopped")
}

// runJob submits one job's message. Failures are logged; the next firing
// tries again.
func (s *Service) runJob(job config.CronJobConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	err := s.submitter.Submit(ctx, channels.InboundMessage{
		Channel:   channels.SystemChannel,
		SenderID:  "cron:" + job.Name,
		ChatID:    job.TargetChatID(),
		Content:   job.Message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("job submit failed", "job", job.Name, "error", err)
		return
	}
	s.logger.Debug("job submitted", "job", job.Name)
}
