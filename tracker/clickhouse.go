package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"clicktrail/api/models"
	"clicktrail/api/observability"
)

// EventWriter persists warehouse rows; store.AnalyticsStore implements it.
type EventWriter interface {
	InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error
}

// ClickHouseSink mirrors every tracked event into the analytics_events table.
// Profile updates are not warehoused.
type ClickHouseSink struct {
	writer  EventWriter
	metrics *observability.Metrics
	rows    *batcher[models.AnalyticsEvent]
}

func NewClickHouseSink(w EventWriter, batchSize int, interval time.Duration, metrics *observability.Metrics, logger *slog.Logger) *ClickHouseSink {
	if batchSize <= 0 {
		batchSize = 500
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &ClickHouseSink{writer: w, metrics: metrics}
	s.rows = newBatcher("clickhouse", batchSize, batchSize*20, interval, func(ctx context.Context, rows []models.AnalyticsEvent) error {
		err := s.writer.InsertAnalyticsEvents(ctx, rows)
		s.metrics.Delivery(s.Name(), err)
		return err
	}, logger)
	return s
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Track(_ context.Context, rec Record) error {
	row, err := toAnalyticsEvent(rec)
	if err != nil {
		return err
	}
	if err := s.rows.add(row); err != nil {
		s.metrics.Dropped(s.Name(), err.Error())
		return fmt.Errorf("clickhouse: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Engage(context.Context, ProfileUpdate) error { return nil }

func (s *ClickHouseSink) Flush(ctx context.Context) error { return s.rows.flush(ctx) }

func (s *ClickHouseSink) Close(ctx context.Context) error { return s.rows.close(ctx) }

func toAnalyticsEvent(rec Record) (models.AnalyticsEvent, error) {
	data, err := json.Marshal(rec.Properties)
	if err != nil {
		return models.AnalyticsEvent{}, fmt.Errorf("failed to encode properties for %q: %w", rec.Name, err)
	}
	str := func(key string) string {
		s, _ := rec.Properties[key].(string)
		return s
	}

	row := models.AnalyticsEvent{
		EventID:   rec.InsertID,
		EventType: rec.Name,
		UserID:    rec.DistinctID,
		SessionID: str("session_id"),
		Timestamp: rec.Time.UTC(),
		PagePath:  str("page_path"),
		Referrer:  str("referrer"),
		UserAgent: str("user_agent"),
		IPAddress: str("ip"),
		Location:  str("timezone"),
		EventData: data,
	}
	if row.PagePath == "" {
		row.PagePath = str("page")
	}
	if d, ok := rec.Properties["duration_ms"].(int64); ok {
		row.DurationMs = d
	}
	return row, nil
}
