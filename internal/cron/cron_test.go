// ABOUTME: Tests for the cron service's job registration and submission
// ABOUTME: Uses a capturing submitter; runJob is exercised directly

package cron

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternlabs/lantern/internal/channels"
	"github.com/lanternlabs/lantern/internal/config"
)

type captureSubmitter struct {
	mu   sync.Mutex
	msgs []channels.InboundMessage
	err  error
}

func (s *captureSubmitter) Submit(_ context.Context, msg channels.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSubmitter) all() []channels.InboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]channels.InboundMessage(nil), s.msgs...)
}

func TestRunJob_SubmitsSystemMessage(t *testing.T) {
	submitter := &captureSubmitter{}
	svc := New(submitter, nil, nil)

	svc.runJob(config.CronJobConfig{
		Name:    "daily-briefing",
		Message: "Prepare the daily briefing.",
		Channel: "web",
		ChatID:  "briefings",
	})

	msgs := submitter.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, channels.SystemChannel, msgs[0].Channel)
	assert.Equal(t, "web:briefings", msgs[0].ChatID)
	assert.Equal(t, "cron:daily-briefing", msgs[0].SenderID)
	assert.Equal(t, "Prepare the daily briefing.", msgs[0].Content)
}

func TestRunJob_NoChannelLeavesChatIDBare(t *testing.T) {
	submitter := &captureSubmitter{}
	svc := New(submitter, nil, nil)

	svc.runJob(config.CronJobConfig{Name: "j", Message: "m", ChatID: "general"})

	msgs := submitter.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "general", msgs[0].ChatID)
}

func TestRunJob_SubmitFailureIsSwallowed(t *testing.T) {
	submitter := &captureSubmitter{err: assert.AnError}
	svc := New(submitter, nil, nil)

	// Must not panic; the next firing retries
	svc.runJob(config.CronJobConfig{Name: "j", Message: "m", ChatID: "c"})
	assert.Empty(t, submitter.all())
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	svc := New(&captureSubmitter{}, []config.CronJobConfig{
		{Name: "bad", Schedule: "not a schedule", Message: "m", ChatID: "c"},
	}, nil)

	err := svc.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestStartStop(t *testing.T) {
	svc := New(&captureSubmitter{}, []config.CronJobConfig{
		{Name: "hourly", Schedule: "@hourly", Message: "tick", Channel: "web", ChatID: "ops"},
		{Name: "seconds", Schedule: "*/30 * * * * *", Message: "tick", Channel: "web", ChatID: "ops"},
	}, nil)

	require.NoError(t, svc.Start())
	assert.Len(t, svc.runner.Entries(), 2)
	svc.Stop()
}
