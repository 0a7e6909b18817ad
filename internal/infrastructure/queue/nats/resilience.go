package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/case-documents/internal/infrastructure/resilience"
)

func classifyNATSError(err error) resilience.ErrorClassification {
	return resilience.Classify(err, brokerUnavailable, eventRejected)
}

// brokerUnavailable covers a connection that is down or mid-reconnect.
func brokerUnavailable(err error) bool {
	return errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrDisconnected)
}

// eventRejected covers document events the broker refuses whatever its health.
func eventRejected(err error) bool {
	return errors.Is(err, nats.ErrMaxPayload) ||
		errors.Is(err, nats.ErrBadSubject)
}
