package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/infrastructure/resilience"
)

// Queue carries committed document events over a NATS subject.
type Queue struct {
	conn     *nats.Conn
	subject  string
	group    string
	executor *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	QueueGroup           string
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	group := options.QueueGroup
	if group == "" {
		group = "overview-workers"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("case-documents"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		group:    group,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDocumentEvent(ctx context.Context, event domain.DocumentEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resilience.WrapTemporary("nats publish "+string(event.Type), err, classifyNATSError)
	}
	return nil
}

// SubscribeDocumentEvents joins the queue group: each event reaches one member.
// It blocks until ctx is done, then drains the subscription.
func (q *Queue) SubscribeDocumentEvents(ctx context.Context, handler func(context.Context, domain.DocumentEvent) error) error {
	return q.subscribe(ctx, q.group, handler)
}

// WatchDocumentEvents subscribes outside any queue group, so every watching
// process sees every event. It blocks until ctx is done.
func (q *Queue) WatchDocumentEvents(ctx context.Context, handler func(context.Context, domain.DocumentEvent) error) error {
	return q.subscribe(ctx, "", handler)
}

func (q *Queue) subscribe(ctx context.Context, group string, handler func(context.Context, domain.DocumentEvent) error) error {
	onMsg := func(msg *nats.Msg) {
		handleMessage(ctx, msg, handler)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group == "" {
		sub, err = q.conn.Subscribe(q.subject, onMsg)
	} else {
		sub, err = q.conn.QueueSubscribe(q.subject, group, onMsg)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func handleMessage(ctx context.Context, msg *nats.Msg, handler func(context.Context, domain.DocumentEvent) error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	event, err := decodeEvent(msg.Data)
	if err != nil {
		slog.Error("event_decode_failed", "subject", msg.Subject, "error", err)
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, event); err != nil {
		slog.Error("event_handler_failed",
			"type", string(event.Type),
			"case_id", event.CaseID,
			"instance_id", event.InstanceID,
			"template_id", event.TemplateID,
			"error", err,
		)
	}
}

func encodeEvent(event domain.DocumentEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal document event: %w", err)
	}
	return payload, nil
}

func decodeEvent(data []byte) (domain.DocumentEvent, error) {
	var event domain.DocumentEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.DocumentEvent{}, fmt.Errorf("unmarshal document event: %w", err)
	}
	if event.Type == "" {
		return domain.DocumentEvent{}, errors.New("document event without type")
	}
	return event, nil
}
