// api/store/analytics_store.go
package store

import (
	"context"
	"fmt"
	"log/slog"

	"clicktrail/api/database"
	"clicktrail/api/models"
)

// AnalyticsEventsSchema creates the warehouse table the ClickHouse sink
// writes to.
const AnalyticsEventsSchema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	event_id    String,
	event_type  LowCardinality(String),
	user_id     String,
	session_id  String,
	timestamp   DateTime64(3, 'UTC'),
	page_path   String,
	referrer    String,
	user_agent  String,
	ip_address  String,
	duration_ms Int64,
	location    String,
	event_data  String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (event_type, timestamp)`

type AnalyticsStore struct {
	DB     *database.ClickHouseClient
	logger *slog.Logger
}

func NewAnalyticsStore(chClient *database.ClickHouseClient, logger *slog.Logger) *AnalyticsStore {
	return &AnalyticsStore{
		DB:     chClient,
		logger: logger,
	}
}

// EnsureSchema creates analytics_events if it does not exist.
func (s *AnalyticsStore) EnsureSchema(ctx context.Context) error {
	if err := s.DB.Conn.Exec(ctx, AnalyticsEventsSchema); err != nil {
		return fmt.Errorf("failed to create analytics_events: %w", err)
	}
	return nil
}

// InsertAnalyticsEvents batch-inserts rows into analytics_events. Rows that
// fail to append are logged and skipped; the rest of the batch is still sent.
func (s *AnalyticsStore) InsertAnalyticsEvents(ctx context.Context, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Column order must match the analytics_events table schema.
	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, event_type, user_id, session_id, timestamp, page_path, referrer, user_agent,
			ip_address, duration_ms, location, event_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.EventID,
			event.EventType,
			event.UserID,
			event.SessionID,
			event.Timestamp,
			event.PagePath,
			event.Referrer,
			event.UserAgent,
			event.IPAddress,
			event.DurationMs,
			event.Location,
			string(event.EventData),
		)
		if err != nil {
			s.logger.Warn("dropping analytics event from batch", "event_id", event.EventID, "error", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.logger.Debug("inserted analytics events", "count", len(events))
	return nil
}
