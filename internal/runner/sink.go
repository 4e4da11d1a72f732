package runner

import (
	"context"

	"taskcadence/internal/recurrence"
	logx "taskcadence/pkg/logx"
)

// Sink hands a newly recorded instance to task management. The instance is
// already recorded when CreateTask runs; a sink error is reported but the
// instance is not generated again.
type Sink interface {
	CreateTask(ctx context.Context, rule recurrence.Rule, inst recurrence.Instance) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rule recurrence.Rule, inst recurrence.Instance) error

func (f SinkFunc) CreateTask(ctx context.Context, rule recurrence.Rule, inst recurrence.Instance) error {
	return f(ctx, rule, inst)
}

// LogSink writes one log line per created task.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) CreateTask(_ context.Context, rule recurrence.Rule, inst recurrence.Instance) error {
	fields := []logx.Field{
		logx.String("rule", rule.ID),
		logx.String("title", rule.Template.Title),
		logx.String("occurrence", inst.OccurrenceDate.String()),
		logx.String("due", inst.DueDate.String()),
	}
	if inst.TargetDate != nil {
		fields = append(fields, logx.String("target", inst.TargetDate.String()))
	}
	if rule.Template.ClientID != "" {
		fields = append(fields, logx.String("client", rule.Template.ClientID))
	}
	if rule.Template.AssigneeID != "" {
		fields = append(fields, logx.String("assignee", rule.Template.AssigneeID))
	}
	s.Log.Info("task created", fields...)
	return nil
}
