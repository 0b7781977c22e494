package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

var _ Scheduler = (*Client)(nil)

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// createReportSchedule creates a new Temporal schedule for a wallet's stake report.
func (c *Client) createReportSchedule(ctx context.Context, wallet string, interval time.Duration) error {
	id := scheduleID(wallet)

	workflowAction := client.ScheduleWorkflowAction{
		ID:        "stake-report-run-" + wallet,
		Workflow:  StakeReportWorkflowName,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{StakeReportInput{Wallet: wallet}},
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"wallet":     wallet,
			"created_by": "solstake",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"wallet", wallet,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("stake report schedule created",
		"wallet", wallet,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// UpsertReportSchedule creates or updates the wallet's stake report schedule.
// If the schedule already exists, only its interval changes.
func (c *Client) UpsertReportSchedule(ctx context.Context, wallet string, interval time.Duration) error {
	id := scheduleID(wallet)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.createReportSchedule(ctx, wallet, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"wallet", wallet,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("stake report schedule updated",
		"wallet", wallet,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteReportSchedule deletes the Temporal schedule for a wallet.
func (c *Client) DeleteReportSchedule(ctx context.Context, wallet string) error {
	id := scheduleID(wallet)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"wallet", wallet,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("stake report schedule deleted",
		"wallet", wallet,
		"schedule_id", id,
	)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
