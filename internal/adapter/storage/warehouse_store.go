// internal/adapter/storage/warehouse_store.go

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"medwarehouse/internal/domain/warehouse"
)

// runLockKey identifies the pipeline in pg advisory-lock space. One key
// per pipeline serializes runs against the same mart tables.
const runLockKey = 72407001

// WarehouseStore materializes dimension and fact tables. Every Replace*
// method swaps the full table contents inside one transaction, so
// readers either see the previous materialization or the new one, never
// a half-written table.
type WarehouseStore struct {
	db *pgxpool.Pool
}

// NewWarehouseStore creates a new warehouse store
func NewWarehouseStore(db *pgxpool.Pool) *WarehouseStore {
	return &WarehouseStore{db: db}
}

func (s *WarehouseStore) replaceTable(ctx context.Context, table string, insert func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("error clearing %s: %w", table, err)
	}

	if err := insert(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing %s: %w", table, err)
	}

	return nil
}

// ReplaceChannelDimension rebuilds marts.dim_channels atomically.
func (s *WarehouseStore) ReplaceChannelDimension(ctx context.Context, channels []warehouse.ChannelRow) error {
	return s.replaceTable(ctx, "marts.dim_channels", func(tx pgx.Tx) error {
		query := `
			INSERT INTO marts.dim_channels (
				channel_key, channel_name, channel_type,
				first_post_date, last_post_date,
				total_posts, total_views, avg_views,
				total_forwards, avg_forwards,
				avg_message_length, posts_with_images,
				activity_level, loaded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		for _, c := range channels {
			_, err := tx.Exec(
				ctx,
				query,
				c.ChannelKey,
				c.ChannelName,
				c.ChannelType,
				c.FirstPostDate,
				c.LastPostDate,
				c.TotalPosts,
				c.TotalViews,
				c.AvgViews,
				c.TotalForwards,
				c.AvgForwards,
				c.AvgMessageLength,
				c.PostsWithImages,
				c.ActivityLevel,
				c.LoadedAt,
			)
			if err != nil {
				return fmt.Errorf("error inserting channel %s: %w", c.ChannelName, err)
			}
		}
		return nil
	})
}

// ReplaceDateDimension rebuilds marts.dim_dates atomically.
func (s *WarehouseStore) ReplaceDateDimension(ctx context.Context, dates []warehouse.DateRow) error {
	return s.replaceTable(ctx, "marts.dim_dates", func(tx pgx.Tx) error {
		query := `
			INSERT INTO marts.dim_dates (
				date_key, full_date, year, quarter, month, month_name,
				week_of_year, day_of_week, day_name, is_weekend, holiday
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))
		`
		for _, d := range dates {
			_, err := tx.Exec(
				ctx,
				query,
				d.DateKey,
				d.FullDate,
				d.Year,
				d.Quarter,
				d.Month,
				d.MonthName,
				d.WeekOfYear,
				d.DayOfWeek,
				d.DayName,
				d.IsWeekend,
				d.Holiday,
			)
			if err != nil {
				return fmt.Errorf("error inserting date %d: %w", d.DateKey, err)
			}
		}
		return nil
	})
}

// ReplaceMessageFacts rebuilds marts.fct_messages atomically.
func (s *WarehouseStore) ReplaceMessageFacts(ctx context.Context, facts []warehouse.MessageFact) error {
	return s.replaceTable(ctx, "marts.fct_messages", func(tx pgx.Tx) error {
		query := `
			INSERT INTO marts.fct_messages (
				message_id, channel_key, date_key, message_text,
				message_length, view_count, forward_count, has_image,
				forward_rate, hour_of_day, time_of_day, loaded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		for _, f := range facts {
			_, err := tx.Exec(
				ctx,
				query,
				f.MessageID,
				f.ChannelKey,
				f.DateKey,
				f.MessageText,
				f.MessageLength,
				f.ViewCount,
				f.ForwardCount,
				f.HasImage,
				f.ForwardRate,
				f.HourOfDay,
				f.TimeOfDay,
				f.LoadedAt,
			)
			if err != nil {
				return fmt.Errorf("error inserting message fact %d: %w", f.MessageID, err)
			}
		}
		return nil
	})
}

// ReplaceDetectionFacts rebuilds marts.fct_image_detections atomically.
func (s *WarehouseStore) ReplaceDetectionFacts(ctx context.Context, facts []warehouse.DetectionFact) error {
	return s.replaceTable(ctx, "marts.fct_image_detections", func(tx pgx.Tx) error {
		query := `
			INSERT INTO marts.fct_image_detections (
				detection_key, message_id, channel_key, date_key,
				image_path, detection_count, detected_classes,
				image_category, confidence_score, has_person, has_product,
				content_strategy, confidence_level, processed_at, loaded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`
		for _, f := range facts {
			_, err := tx.Exec(
				ctx,
				query,
				f.DetectionKey,
				f.MessageID,
				f.ChannelKey,
				f.DateKey,
				f.ImagePath,
				f.DetectionCount,
				f.DetectedClasses,
				f.ImageCategory,
				f.ConfidenceScore,
				f.HasPerson,
				f.HasProduct,
				f.ContentStrategy,
				f.ConfidenceLevel,
				f.ProcessedAt,
				f.LoadedAt,
			)
			if err != nil {
				return fmt.Errorf("error inserting detection fact %d: %w", f.DetectionKey, err)
			}
		}
		return nil
	})
}

// ChannelKeysByName returns the committed channel dimension keys keyed
// by channel name, for natural-key joins in the fact builder.
func (s *WarehouseStore) ChannelKeysByName(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT channel_name, channel_key FROM marts.dim_channels`)
	if err != nil {
		return nil, fmt.Errorf("error querying channel keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]int64)
	for rows.Next() {
		var name string
		var key int64
		if err := rows.Scan(&name, &key); err != nil {
			return nil, fmt.Errorf("error scanning channel key: %w", err)
		}
		keys[name] = key
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channel keys: %w", err)
	}

	return keys, nil
}

// DateKeys returns the set of committed date dimension keys.
func (s *WarehouseStore) DateKeys(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT date_key FROM marts.dim_dates`)
	if err != nil {
		return nil, fmt.Errorf("error querying date keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[int64]bool)
	for rows.Next() {
		var key int64
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("error scanning date key: %w", err)
		}
		keys[key] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating date keys: %w", err)
	}

	return keys, nil
}

// ListChannels returns the current channel dimension ordered by post
// volume, for the ops API.
func (s *WarehouseStore) ListChannels(ctx context.Context) ([]warehouse.ChannelRow, error) {
	query := `
		SELECT channel_key, channel_name, channel_type,
		       first_post_date, last_post_date,
		       total_posts, total_views, avg_views,
		       total_forwards, avg_forwards,
		       avg_message_length, posts_with_images,
		       activity_level, loaded_at
		FROM marts.dim_channels
		ORDER BY total_posts DESC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying channels: %w", err)
	}
	defer rows.Close()

	var channels []warehouse.ChannelRow
	for rows.Next() {
		var c warehouse.ChannelRow
		err := rows.Scan(
			&c.ChannelKey,
			&c.ChannelName,
			&c.ChannelType,
			&c.FirstPostDate,
			&c.LastPostDate,
			&c.TotalPosts,
			&c.TotalViews,
			&c.AvgViews,
			&c.TotalForwards,
			&c.AvgForwards,
			&c.AvgMessageLength,
			&c.PostsWithImages,
			&c.ActivityLevel,
			&c.LoadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning channel: %w", err)
		}
		channels = append(channels, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channels: %w", err)
	}

	return channels, nil
}

// SaveRunSummary persists a run summary, overwriting any earlier record
// for the same run id.
func (s *WarehouseStore) SaveRunSummary(ctx context.Context, summary warehouse.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("error marshaling run summary: %w", err)
	}

	query := `
		INSERT INTO ops.pipeline_runs (run_id, trigger, status, started_at, finished_at, summary)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE
		SET status = $3, finished_at = $5, summary = $6
	`

	_, err = s.db.Exec(
		ctx,
		query,
		summary.RunID,
		summary.Trigger,
		summary.Status,
		summary.StartedAt,
		summary.FinishedAt,
		payload,
	)
	if err != nil {
		return fmt.Errorf("error saving run summary: %w", err)
	}

	return nil
}

// ListRuns returns the most recent run summaries, newest first.
func (s *WarehouseStore) ListRuns(ctx context.Context, limit int) ([]warehouse.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		ctx,
		`SELECT summary FROM ops.pipeline_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer rows.Close()

	var runs []warehouse.RunSummary
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("error scanning run: %w", err)
		}

		var summary warehouse.RunSummary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return nil, fmt.Errorf("error unmarshaling run summary: %w", err)
		}
		runs = append(runs, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// GetRun returns one run summary by id, or pgx.ErrNoRows.
func (s *WarehouseStore) GetRun(ctx context.Context, runID string) (*warehouse.RunSummary, error) {
	var payload []byte
	err := s.db.QueryRow(
		ctx,
		`SELECT summary FROM ops.pipeline_runs WHERE run_id = $1`,
		runID,
	).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("error querying run %s: %w", runID, err)
	}

	var summary warehouse.RunSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, fmt.Errorf("error unmarshaling run summary: %w", err)
	}

	return &summary, nil
}

// AcquireRunLock takes the pipeline-wide advisory lock. It fails fast
// with warehouse.ErrRunInProgress when another run holds it, including
// a run owned by another process. The returned release
// function must be called on every exit path; the lock's connection is
// pinned until then.
func (s *WarehouseStore) AcquireRunLock(ctx context.Context) (func(), error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("error acquiring lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("error taking run lock: %w", err)
	}

	if !locked {
		conn.Release()
		return nil, warehouse.ErrRunInProgress
	}

	release := func() {
		// Unlock on a background context so a cancelled run still
		// releases the lock.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, runLockKey)
		conn.Release()
	}

	return release, nil
}
