package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gacha-admin/internal/domain/model"
	"gacha-admin/internal/metrics"

	kafkaGo "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// MessageWriter kafka-go Writer 的最小接口，测试替换
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error
	Close() error
}

// Producer 发送授权变更事件，带 OpenTelemetry 发送埋点
type Producer struct {
	Writer       MessageWriter
	Topic        string
	Origin       string // 本实例 id，消费端据此跳过自己发出的事件
	writeTimeout time.Duration
}

func NewProducer(cfg Config, origin string) *Producer {
	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafkaGo.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(w, cfg.Topic, origin, cfg.WriteTimeout)
}

func NewProducerWithWriter(w MessageWriter, topic, origin string, writeTimeout time.Duration) *Producer {
	if writeTimeout <= 0 {
		writeTimeout = 3 * time.Second
	}
	return &Producer{Writer: w, Topic: topic, Origin: origin, writeTimeout: writeTimeout}
}

func (p *Producer) startSpan(ctx context.Context) (context.Context, trace.Span) {
	tr := otel.GetTracerProvider().Tracer("kafka-producer")
	attrs := []attribute.KeyValue{
		semconv.MessagingSystem("kafka"),
		semconv.MessagingDestinationName(p.Topic),
		attribute.String("messaging.destination_kind", "topic"),
	}
	return tr.Start(ctx, "kafka.produce", trace.WithSpanKind(trace.SpanKindProducer), trace.WithAttributes(attrs...))
}

// injectHeaders W3C traceparent / baggage；已存在的 key 不覆盖
func injectHeaders(ctx context.Context, headers []kafkaGo.Header) []kafkaGo.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	existing := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		existing[h.Key] = struct{}{}
	}
	for k, v := range carrier {
		if _, ok := existing[k]; ok {
			continue
		}
		headers = append(headers, kafkaGo.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

// PublishPermissionEvent 按 admin id 分区，保证同一身份的事件有序
func (p *Producer) PublishPermissionEvent(ctx context.Context, ev model.PermissionEvent) error {
	if ev.Origin == "" {
		ev.Origin = p.Origin
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode permission event: %w", err)
	}
	ctx, span := p.startSpan(ctx)
	defer span.End()
	span.SetAttributes(attribute.String("event.type", string(ev.Type)), attribute.String("admin.id", ev.AdminID))

	headers := []kafkaGo.Header{
		{Key: "event_type", Value: []byte(ev.Type)},
		{Key: "origin", Value: []byte(ev.Origin)},
	}
	if ev.TraceID != "" {
		headers = append(headers, kafkaGo.Header{Key: "trace_id", Value: []byte(ev.TraceID)})
	}
	msg := kafkaGo.Message{Key: []byte(ev.AdminID), Value: value, Time: ev.At, Headers: injectHeaders(ctx, headers)}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()
	if err := p.Writer.WriteMessages(writeCtx, msg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		metrics.PermissionEvents.WithLabelValues("publish_error", string(ev.Type)).Inc()
		return fmt.Errorf("publish permission event: %w", err)
	}
	metrics.PermissionEvents.WithLabelValues("published", string(ev.Type)).Inc()
	return nil
}

func (p *Producer) Close() error { return p.Writer.Close() }
