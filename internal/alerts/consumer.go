package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"ops-gateway/internal/broadcast"
	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
)

// Sink archives alerts durably. Optional.
type Sink interface {
	RecordAlert(ctx context.Context, alert models.Alert) error
}

type Config struct {
	Broker  string
	Topic   string
	GroupID string
}

// Consumer reads service alerts off Kafka, keeps them in the in-memory
// log, fans them out to WebSocket subscribers, and escalates critical
// ones. Malformed or incomplete messages are logged and skipped, never
// retried.
type Consumer struct {
	reader     *kafka.Reader
	log        *Log
	hub        *broadcast.Hub
	sink       Sink
	notifier   *Notifier
	onCritical func(models.Alert)
	logger     *logging.Logger
}

type Option func(*Consumer)

// WithSink enables database archiving of consumed alerts.
func WithSink(sink Sink) Option {
	return func(c *Consumer) { c.sink = sink }
}

// WithNotifier enables Telegram notification for critical alerts.
func WithNotifier(n *Notifier) Option {
	return func(c *Consumer) { c.notifier = n }
}

// WithCriticalHandler sets the escalation hook invoked for each
// critical alert, typically to enqueue a remediation task.
func WithCriticalHandler(fn func(models.Alert)) Option {
	return func(c *Consumer) { c.onCritical = fn }
}

func NewConsumer(cfg Config, log *Log, hub *broadcast.Hub, logger *logging.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Broker},
			Topic:       cfg.Topic,
			GroupID:     cfg.GroupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    1 << 20,
		}),
		log:    log,
		hub:    hub,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka alert consumer started")
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				continue
			}
			c.handle(ctx, msg.Value)
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, raw []byte) {
	var in struct {
		AlertID   string `json:"alert_id"`
		Type      string `json:"type"`
		Severity  string `json:"severity"`
		Service   string `json:"service"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		c.logger.Errorf("Unmarshal alert failed: %v", err)
		return
	}
	if in.Type == "" || in.Message == "" {
		c.logger.Errorf("Invalid alert: missing type or message")
		return
	}

	severity := models.AlertSeverity(in.Severity)
	switch severity {
	case models.SeverityCritical, models.SeverityWarning, models.SeverityInfo:
	default:
		severity = models.SeverityInfo
	}

	alert := models.Alert{
		ID:        in.AlertID,
		Type:      in.Type,
		Severity:  severity,
		Service:   in.Service,
		Message:   in.Message,
		Timestamp: time.Now().UTC(),
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if in.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, in.Timestamp); err == nil {
			alert.Timestamp = ts
		}
	}

	c.log.Add(alert)
	c.hub.Publish("alerts", "alert.received", alert)

	if c.sink != nil {
		if err := c.sink.RecordAlert(ctx, alert); err != nil {
			c.logger.Errorf("Archive alert %s failed: %v", alert.ID, err)
		}
	}

	if severity == models.SeverityCritical {
		c.logger.Warnf("Critical alert %s for service %s: %s", alert.ID, alert.Service, alert.Message)
		if c.notifier != nil {
			if err := c.notifier.Notify(ctx, alert); err != nil {
				c.logger.Errorf("Notify alert %s failed: %v", alert.ID, err)
			}
		}
		if c.onCritical != nil {
			c.onCritical(alert)
		}
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Errorf("Close Kafka reader: %v", err)
	}
}
