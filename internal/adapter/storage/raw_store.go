// internal/adapter/storage/raw_store.go

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"medwarehouse/internal/domain/feed"
)

// RawStore persists collector and enricher output. Writes are
// upserts keyed by natural key, so reloading a partition overwrites
// rather than duplicates.
type RawStore struct {
	db *pgxpool.Pool
}

// NewRawStore creates a new raw store
func NewRawStore(db *pgxpool.Pool) *RawStore {
	return &RawStore{db: db}
}

// UpsertMessages writes a batch of raw messages keyed by
// (message_id, channel_name) and returns the number written.
func (s *RawStore) UpsertMessages(ctx context.Context, messages []feed.RawMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO raw.telegram_messages (
			message_id, channel_name, message_date, message_text,
			has_media, image_path, views, forwards
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id, channel_name) DO UPDATE
		SET
			message_date = $3,
			message_text = $4,
			has_media = $5,
			image_path = $6,
			views = $7,
			forwards = $8,
			loaded_at = CURRENT_TIMESTAMP
	`

	for _, m := range messages {
		_, err := tx.Exec(
			ctx,
			query,
			m.MessageID,
			m.ChannelName,
			m.MessageDate,
			m.MessageText,
			m.HasMedia,
			m.ImagePath,
			m.Views,
			m.Forwards,
		)
		if err != nil {
			return 0, fmt.Errorf("error upserting message %d/%s: %w", m.MessageID, m.ChannelName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("error committing messages: %w", err)
	}

	return len(messages), nil
}

// UpsertDetections writes a batch of detections keyed by
// (message_id, processed_at) and returns the number written.
func (s *RawStore) UpsertDetections(ctx context.Context, detections []feed.RawDetection) (int, error) {
	if len(detections) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO raw.yolo_detections (
			message_id, processed_at, channel_name, image_path,
			detection_count, detected_classes, image_category,
			confidence_score, has_person, has_product
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (message_id, processed_at) DO UPDATE
		SET
			channel_name = $3,
			image_path = $4,
			detection_count = $5,
			detected_classes = $6,
			image_category = $7,
			confidence_score = $8,
			has_person = $9,
			has_product = $10,
			loaded_at = CURRENT_TIMESTAMP
	`

	for _, d := range detections {
		_, err := tx.Exec(
			ctx,
			query,
			d.MessageID,
			d.ProcessedAt,
			d.ChannelName,
			d.ImagePath,
			d.DetectionCount,
			d.DetectedClasses,
			d.ImageCategory,
			d.ConfidenceScore,
			d.HasPerson,
			d.HasProduct,
		)
		if err != nil {
			return 0, fmt.Errorf("error upserting detection %d: %w", d.MessageID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("error committing detections: %w", err)
	}

	return len(detections), nil
}

// ListMessages returns every raw message, ordered by channel then
// message id so downstream aggregation is deterministic.
func (s *RawStore) ListMessages(ctx context.Context) ([]feed.RawMessage, error) {
	query := `
		SELECT message_id, channel_name, message_date, message_text,
		       has_media, image_path, views, forwards
		FROM raw.telegram_messages
		ORDER BY channel_name, message_id
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying raw messages: %w", err)
	}
	defer rows.Close()

	var messages []feed.RawMessage
	for rows.Next() {
		var m feed.RawMessage
		err := rows.Scan(
			&m.MessageID,
			&m.ChannelName,
			&m.MessageDate,
			&m.MessageText,
			&m.HasMedia,
			&m.ImagePath,
			&m.Views,
			&m.Forwards,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning raw message: %w", err)
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw messages: %w", err)
	}

	return messages, nil
}

// ListDetections returns every detection with at least one detected
// object, ordered by message id then processing time.
func (s *RawStore) ListDetections(ctx context.Context) ([]feed.RawDetection, error) {
	query := `
		SELECT message_id, processed_at, channel_name, image_path,
		       detection_count, detected_classes, image_category,
		       confidence_score, has_person, has_product
		FROM raw.yolo_detections
		WHERE detection_count > 0
		ORDER BY message_id, processed_at
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying raw detections: %w", err)
	}
	defer rows.Close()

	var detections []feed.RawDetection
	for rows.Next() {
		var d feed.RawDetection
		err := rows.Scan(
			&d.MessageID,
			&d.ProcessedAt,
			&d.ChannelName,
			&d.ImagePath,
			&d.DetectionCount,
			&d.DetectedClasses,
			&d.ImageCategory,
			&d.ConfidenceScore,
			&d.HasPerson,
			&d.HasProduct,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning raw detection: %w", err)
		}
		detections = append(detections, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw detections: %w", err)
	}

	return detections, nil
}

// PartitionLoaded reports whether a collector partition was already
// loaded, per the watermark log.
func (s *RawStore) PartitionLoaded(ctx context.Context, channel, date string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM ops.load_watermarks
			WHERE channel_name = $1 AND partition_date = $2
		)
	`

	var exists bool
	if err := s.db.QueryRow(ctx, query, channel, date).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking watermark: %w", err)
	}

	return exists, nil
}

// MarkPartitionLoaded advances the watermark for a partition.
func (s *RawStore) MarkPartitionLoaded(ctx context.Context, ref feed.PartitionRef) error {
	query := `
		INSERT INTO ops.load_watermarks (channel_name, partition_date, source_file)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_name, partition_date) DO UPDATE
		SET source_file = $3, loaded_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.Exec(ctx, query, ref.ChannelName, ref.Date, ref.SourceFile); err != nil {
		return fmt.Errorf("error recording watermark: %w", err)
	}

	return nil
}
