// internal/service/pipeline/loader.go

package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"medwarehouse/internal/domain/feed"
)

// Collector enumerates and reads collector output partitions.
type Collector interface {
	Partitions(ctx context.Context) ([]feed.PartitionRef, error)
	ReadPartition(ctx context.Context, ref feed.PartitionRef) (feed.MessageBatch, error)
}

// Enricher reads image-classification output.
type Enricher interface {
	Detections(ctx context.Context) ([]feed.RawDetection, error)
}

// RawStore is the raw-layer persistence the loader depends on.
type RawStore interface {
	UpsertMessages(ctx context.Context, messages []feed.RawMessage) (int, error)
	UpsertDetections(ctx context.Context, detections []feed.RawDetection) (int, error)
	PartitionLoaded(ctx context.Context, channel, date string) (bool, error)
	MarkPartitionLoaded(ctx context.Context, ref feed.PartitionRef) error
}

// LoaderConfig tunes loader behavior.
type LoaderConfig struct {
	// MaxTextLength truncates message text beyond this many runes.
	// Zero disables truncation.
	MaxTextLength int

	// FullRefresh reloads every partition, ignoring watermarks.
	FullRefresh bool
}

// Loader moves collector and enricher output into the raw store. Loads
// are idempotent: records are upserted by natural key and partitions
// already loaded are skipped unless a full refresh is requested.
type Loader struct {
	collector Collector
	enricher  Enricher
	store     RawStore
	config    LoaderConfig
	logger    *logrus.Logger
}

// NewLoader creates a new loader
func NewLoader(collector Collector, enricher Enricher, store RawStore, config LoaderConfig, logger *logrus.Logger) *Loader {
	return &Loader{
		collector: collector,
		enricher:  enricher,
		store:     store,
		config:    config,
		logger:    logger,
	}
}

// Load ingests every pending partition and all detection output,
// returning the number of records written. A malformed record is
// dropped and logged; it never aborts the rest of its batch.
func (l *Loader) Load(ctx context.Context) (int64, error) {
	var total int64

	loaded, err := l.loadMessages(ctx)
	if err != nil {
		return total, err
	}
	total += loaded

	loaded, err = l.loadDetections(ctx)
	if err != nil {
		return total, err
	}
	total += loaded

	return total, nil
}

func (l *Loader) loadMessages(ctx context.Context) (int64, error) {
	refs, err := l.collector.Partitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("error listing partitions: %w", err)
	}

	var total int64
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		if !l.config.FullRefresh {
			done, err := l.store.PartitionLoaded(ctx, ref.ChannelName, ref.Date)
			if err != nil {
				return total, err
			}
			if done {
				continue
			}
		}

		batch, err := l.collector.ReadPartition(ctx, ref)
		if err != nil {
			return total, err
		}

		messages := make([]feed.RawMessage, 0, len(batch.Messages))
		for _, m := range batch.Messages {
			if err := m.Validate(); err != nil {
				l.logger.WithFields(logrus.Fields{
					"channel": ref.ChannelName,
					"date":    ref.Date,
					"error":   err.Error(),
				}).Warn("Dropping invalid message record")
				continue
			}
			m.MessageText = truncate(m.MessageText, l.config.MaxTextLength)
			messages = append(messages, m)
		}

		written, err := l.store.UpsertMessages(ctx, messages)
		if err != nil {
			return total, err
		}
		total += int64(written)

		if err := l.store.MarkPartitionLoaded(ctx, ref); err != nil {
			return total, err
		}

		l.logger.WithFields(logrus.Fields{
			"channel":  ref.ChannelName,
			"date":     ref.Date,
			"messages": written,
			"dropped":  len(batch.Messages) - written,
		}).Info("Loaded message partition")
	}

	return total, nil
}

func (l *Loader) loadDetections(ctx context.Context) (int64, error) {
	detections, err := l.enricher.Detections(ctx)
	if err != nil {
		return 0, fmt.Errorf("error reading detections: %w", err)
	}

	valid := make([]feed.RawDetection, 0, len(detections))
	for _, d := range detections {
		if err := d.Validate(); err != nil {
			l.logger.WithFields(logrus.Fields{
				"message_id": d.MessageID,
				"error":      err.Error(),
			}).Warn("Dropping invalid detection record")
			continue
		}
		if d.DetectionCount <= 0 {
			continue
		}
		valid = append(valid, d)
	}

	written, err := l.store.UpsertDetections(ctx, valid)
	if err != nil {
		return 0, err
	}

	if written > 0 {
		l.logger.WithField("detections", written).Info("Loaded image detections")
	}

	return int64(written), nil
}

// truncate limits a string to max runes, preserving valid UTF-8.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
