package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/core/ports"
)

// eventSink publishes after commit. A failed publish is logged, the mutation stands.
type eventSink struct {
	pub ports.EventPublisher
}

func (s eventSink) publish(ctx context.Context, event domain.DocumentEvent) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishDocumentEvent(ctx, event); err != nil {
		slog.Warn("event_publish_failed",
			"type", string(event.Type),
			"case_id", event.CaseID,
			"instance_id", event.InstanceID,
			"template_id", event.TemplateID,
			"error", err,
		)
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordReplace(domain.ReplaceOutcome, error)     {}
func (noopRecorder) RecordClassify(error)                           {}
func (noopRecorder) RecordOverview(_ time.Duration, _ int, _ error) {}
