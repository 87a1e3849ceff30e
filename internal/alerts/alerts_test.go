package alerts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ops-gateway/internal/broadcast"
	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
)

func TestLogRecentNewestFirst(t *testing.T) {
	log := NewLog(10)
	for i := 1; i <= 3; i++ {
		log.Add(models.Alert{ID: fmt.Sprintf("a%d", i)})
	}

	recent := log.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "a3", recent[0].ID)
	assert.Equal(t, "a1", recent[2].ID)
}

func TestLogEvictsOldest(t *testing.T) {
	log := NewLog(3)
	for i := 1; i <= 5; i++ {
		log.Add(models.Alert{ID: fmt.Sprintf("a%d", i)})
	}

	recent := log.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "a5", recent[0].ID)
	assert.Equal(t, "a3", recent[2].ID)
}

func TestLogLimit(t *testing.T) {
	log := NewLog(10)
	for i := 1; i <= 6; i++ {
		log.Add(models.Alert{ID: fmt.Sprintf("a%d", i)})
	}

	recent := log.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "a6", recent[0].ID)
	assert.Equal(t, "a5", recent[1].ID)
}

type sinkRecorder struct {
	alerts []models.Alert
}

func (s *sinkRecorder) RecordAlert(_ context.Context, alert models.Alert) error {
	s.alerts = append(s.alerts, alert)
	return nil
}

func newTestConsumer(t *testing.T, opts ...Option) (*Consumer, *Log) {
	t.Helper()
	log := NewLog(10)
	c := &Consumer{
		log:    log,
		hub:    broadcast.NewHub(logging.NewNop()),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, log
}

func TestHandleStoresAlert(t *testing.T) {
	c, log := newTestConsumer(t)

	c.handle(context.Background(), []byte(`{
		"alert_id": "a1",
		"type": "high_cpu",
		"severity": "warning",
		"service": "users",
		"message": "cpu above 90%",
		"timestamp": "2026-08-30T10:00:00Z"
	}`))

	recent := log.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "a1", recent[0].ID)
	assert.Equal(t, models.SeverityWarning, recent[0].Severity)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), recent[0].Timestamp)
}

func TestHandleFillsMissingFields(t *testing.T) {
	c, log := newTestConsumer(t)

	c.handle(context.Background(), []byte(`{"type": "disk_full", "message": "volume at 100%", "severity": "weird"}`))

	recent := log.Recent(0)
	require.Len(t, recent, 1)
	assert.NotEmpty(t, recent[0].ID)
	assert.Equal(t, models.SeverityInfo, recent[0].Severity, "unknown severity downgrades to info")
	assert.False(t, recent[0].Timestamp.IsZero())
}

func TestHandleSkipsInvalidMessages(t *testing.T) {
	c, log := newTestConsumer(t)

	c.handle(context.Background(), []byte(`not json`))
	c.handle(context.Background(), []byte(`{"severity": "critical"}`))

	assert.Empty(t, log.Recent(0))
}

func TestHandleEscalatesCritical(t *testing.T) {
	var escalated []models.Alert
	sink := &sinkRecorder{}
	c, _ := newTestConsumer(t,
		WithSink(sink),
		WithCriticalHandler(func(alert models.Alert) {
			escalated = append(escalated, alert)
		}),
	)

	c.handle(context.Background(), []byte(`{
		"alert_id": "a9",
		"type": "service_down",
		"severity": "critical",
		"service": "billing",
		"message": "no heartbeat"
	}`))
	c.handle(context.Background(), []byte(`{
		"type": "high_cpu",
		"severity": "warning",
		"message": "cpu above 90%"
	}`))

	require.Len(t, escalated, 1)
	assert.Equal(t, "billing", escalated[0].Service)
	assert.Len(t, sink.alerts, 2, "all valid alerts are archived")
}
