// Package natsutil provides typed JSON publish/subscribe over NATS
// with OpenTelemetry trace propagation through message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// MsgIDHeader carries a unique id per published message.
const MsgIDHeader = "Nats-Msg-Id"

func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(MsgIDHeader, uuid.NewString())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	return msg, nil
}

// Publish encodes v as JSON and publishes it on subject.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe decodes each message on subject as T and calls handler with the
// sender's trace context. Malformed messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, log *slog.Logger, handler func(context.Context, T)) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Warn("natsutil: dropping malformed message", "subject", msg.Subject, "error", err)
			return
		}
		ctx := context.Background()
		if msg.Header != nil {
			ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
		}
		handler(ctx, v)
	})
}

// Event wraps a progress value with its source and time.
type Event[T any] struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
	Data   T         `json:"data"`
}

// Progress returns a callback that publishes each value as an Event on
// subject. Publish errors are logged; progress reporting never fails the
// caller. A nil nc yields a no-op.
func Progress[T any](ctx context.Context, nc *nats.Conn, subject, source string, log *slog.Logger) func(T) {
	if nc == nil {
		return func(T) {}
	}
	if log == nil {
		log = slog.Default()
	}
	return func(v T) {
		ev := Event[T]{ID: uuid.NewString(), Source: source, Time: time.Now().UTC(), Data: v}
		if err := Publish(ctx, nc, subject, ev); err != nil {
			log.Warn("natsutil: progress publish failed", "subject", subject, "error", err)
		}
	}
}
