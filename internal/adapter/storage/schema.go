// internal/adapter/storage/schema.go

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// schemaDDL creates every schema and table the pipeline touches. All
// statements are idempotent so startup can run them unconditionally.
const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS raw;
CREATE SCHEMA IF NOT EXISTS marts;
CREATE SCHEMA IF NOT EXISTS ops;

CREATE TABLE IF NOT EXISTS raw.telegram_messages (
	message_id    BIGINT NOT NULL,
	channel_name  VARCHAR(255) NOT NULL,
	message_date  TIMESTAMPTZ NOT NULL,
	message_text  TEXT,
	has_media     BOOLEAN NOT NULL DEFAULT FALSE,
	image_path    VARCHAR(500),
	views         INTEGER NOT NULL DEFAULT 0,
	forwards      INTEGER NOT NULL DEFAULT 0,
	loaded_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (message_id, channel_name)
);

CREATE INDEX IF NOT EXISTS idx_raw_messages_channel_date
	ON raw.telegram_messages (channel_name, message_date);

CREATE TABLE IF NOT EXISTS raw.yolo_detections (
	message_id       BIGINT NOT NULL,
	processed_at     TIMESTAMPTZ NOT NULL,
	channel_name     VARCHAR(255),
	image_path       VARCHAR(500),
	detection_count  INTEGER NOT NULL,
	detected_classes TEXT,
	image_category   VARCHAR(50),
	confidence_score DOUBLE PRECISION,
	has_person       BOOLEAN NOT NULL DEFAULT FALSE,
	has_product      BOOLEAN NOT NULL DEFAULT FALSE,
	loaded_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (message_id, processed_at)
);

CREATE INDEX IF NOT EXISTS idx_raw_detections_category
	ON raw.yolo_detections (image_category);

CREATE TABLE IF NOT EXISTS marts.dim_channels (
	channel_key        BIGINT PRIMARY KEY,
	channel_name       VARCHAR(255) NOT NULL,
	channel_type       VARCHAR(50) NOT NULL,
	first_post_date    DATE,
	last_post_date     DATE,
	total_posts        INTEGER,
	total_views        BIGINT,
	avg_views          DOUBLE PRECISION,
	total_forwards     BIGINT,
	avg_forwards       DOUBLE PRECISION,
	avg_message_length DOUBLE PRECISION,
	posts_with_images  INTEGER,
	activity_level     VARCHAR(50),
	loaded_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS marts.dim_dates (
	date_key     BIGINT PRIMARY KEY,
	full_date    DATE NOT NULL UNIQUE,
	year         INTEGER NOT NULL,
	quarter      INTEGER NOT NULL,
	month        INTEGER NOT NULL,
	month_name   VARCHAR(20) NOT NULL,
	week_of_year INTEGER NOT NULL,
	day_of_week  INTEGER NOT NULL,
	day_name     VARCHAR(20) NOT NULL,
	is_weekend   BOOLEAN NOT NULL,
	holiday      VARCHAR(50)
);

CREATE TABLE IF NOT EXISTS marts.fct_messages (
	message_id     BIGINT PRIMARY KEY,
	channel_key    BIGINT,
	date_key       BIGINT,
	message_text   TEXT,
	message_length INTEGER,
	view_count     INTEGER,
	forward_count  INTEGER,
	has_image      BOOLEAN,
	forward_rate   DOUBLE PRECISION,
	hour_of_day    INTEGER,
	time_of_day    VARCHAR(20),
	loaded_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fct_messages_channel
	ON marts.fct_messages (channel_key);

CREATE TABLE IF NOT EXISTS marts.fct_image_detections (
	detection_key    BIGINT PRIMARY KEY,
	message_id       BIGINT NOT NULL,
	channel_key      BIGINT NOT NULL,
	date_key         BIGINT NOT NULL,
	image_path       VARCHAR(500),
	detection_count  INTEGER,
	detected_classes TEXT,
	image_category   VARCHAR(50),
	confidence_score DOUBLE PRECISION,
	has_person       BOOLEAN,
	has_product      BOOLEAN,
	content_strategy VARCHAR(100),
	confidence_level VARCHAR(50),
	processed_at     TIMESTAMPTZ,
	loaded_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fct_detections_category
	ON marts.fct_image_detections (image_category);

CREATE TABLE IF NOT EXISTS ops.load_watermarks (
	channel_name   VARCHAR(255) NOT NULL,
	partition_date DATE NOT NULL,
	source_file    VARCHAR(500),
	loaded_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (channel_name, partition_date)
);

CREATE TABLE IF NOT EXISTS ops.pipeline_runs (
	run_id      UUID PRIMARY KEY,
	trigger     VARCHAR(50) NOT NULL,
	status      VARCHAR(20) NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	summary     JSONB NOT NULL
);
`

// EnsureSchema creates the raw, marts and ops schemas if missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("error creating warehouse schema: %w", err)
	}
	return nil
}
