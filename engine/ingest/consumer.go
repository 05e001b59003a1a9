package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// IngestSubject carries ingest requests.
	IngestSubject = "consolidator.ingest"
	// DLQSubject receives requests that kept failing.
	DLQSubject = "consolidator.ingest.dlq"
	// MaxRetries before a request goes to the DLQ.
	MaxRetries = 3
	// RetryHeader holds the number of attempts so far.
	RetryHeader = "X-Retry-Count"
)

// Request is the message body on IngestSubject.
type Request struct {
	Record  domain.Record `json:"record"`
	Options Options       `json:"options"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Request Request `json:"request"`
	Error   string  `json:"error"`
	Retries int     `json:"retries"`
}

// Writer writes one request. *Engine implements it.
type Writer interface {
	InsertOrUpdate(ctx context.Context, rec domain.Record, opts Options) Outcome
}

// ConsumerOpts configures StartConsumer.
type ConsumerOpts struct {
	Subject    string
	DLQSubject string
	MaxRetries int
	Logger     *slog.Logger
	OnOutcome  func(Request, Outcome)
}

// StartConsumer subscribes to ingest requests and writes each through w.
// Failed writes are re-published with an incremented retry header, then sent
// to the DLQ. Duplicate skips are successes.
func StartConsumer(nc *nats.Conn, w Writer, opts ConsumerOpts) (*nats.Subscription, error) {
	if opts.Subject == "" {
		opts.Subject = IngestSubject
	}
	if opts.DLQSubject == "" {
		opts.DLQSubject = DLQSubject
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = MaxRetries
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(opts.Subject, func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()
		if msg.Header != nil {
			ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
		}

		ctx, span := otel.Tracer("engine/ingest").Start(ctx, "ingest.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("messaging.destination", msg.Subject)),
		)
		defer span.End()

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(RetryHeader); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		out := w.InsertOrUpdate(ctx, req.Record, req.Options)
		if opts.OnOutcome != nil {
			opts.OnOutcome(req, out)
		}

		span.SetAttributes(attribute.String("ingest.action", string(out.Action)))
		if out.Action == OutcomeFailed {
			span.SetStatus(codes.Error, out.Reason)
			retries++
			log.Error("ingest: request failed",
				"error", out.Reason,
				"path", req.Record.Path,
				"retry", retries,
			)

			if retries >= opts.MaxRetries {
				data, _ := json.Marshal(dlqMessage{Request: req, Error: out.Reason, Retries: retries})
				if err := nc.Publish(opts.DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
			} else {
				retryMsg := nats.NewMsg(opts.Subject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set(RetryHeader, strconv.Itoa(retries))
				otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(retryMsg.Header))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
		} else {
			log.Info("ingest: done", "point_id", out.ID, "action", out.Action)
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
