// internal/service/pipeline/dimensions.go

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"medwarehouse/internal/domain/feed"
	"medwarehouse/internal/domain/warehouse"
)

// RawReader exposes the raw layer to the transformation builders.
type RawReader interface {
	ListMessages(ctx context.Context) ([]feed.RawMessage, error)
	ListDetections(ctx context.Context) ([]feed.RawDetection, error)
}

// DimensionStore persists dimension materializations.
type DimensionStore interface {
	ReplaceChannelDimension(ctx context.Context, channels []warehouse.ChannelRow) error
	ReplaceDateDimension(ctx context.Context, dates []warehouse.DateRow) error
}

// DimensionConfig tunes dimension derivation.
type DimensionConfig struct {
	Rules             []warehouse.ClassificationRule
	HighActivityMin   int
	MediumActivityMin int
	DateHorizonStart  time.Time
	DateHorizonEnd    time.Time
}

// DimensionBuilder derives the channel and date dimensions from the raw
// layer. Building is deterministic: the same raw contents produce the
// same rows in the same order, so a rebuild after a crash converges on
// identical state.
type DimensionBuilder struct {
	raw    RawReader
	store  DimensionStore
	config DimensionConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewDimensionBuilder creates a new dimension builder
func NewDimensionBuilder(raw RawReader, store DimensionStore, config DimensionConfig, logger *logrus.Logger) *DimensionBuilder {
	return &DimensionBuilder{
		raw:    raw,
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Build materializes both dimensions and returns the number of rows
// written.
func (b *DimensionBuilder) Build(ctx context.Context) (int64, error) {
	channels, err := b.buildChannels(ctx)
	if err != nil {
		return 0, err
	}

	if err := b.store.ReplaceChannelDimension(ctx, channels); err != nil {
		return 0, err
	}

	dates := warehouse.GenerateDateDimension(b.config.DateHorizonStart, b.config.DateHorizonEnd)
	if err := b.store.ReplaceDateDimension(ctx, dates); err != nil {
		return int64(len(channels)), err
	}

	b.logger.WithFields(logrus.Fields{
		"channels": len(channels),
		"dates":    len(dates),
	}).Info("Built dimensions")

	return int64(len(channels) + len(dates)), nil
}

type channelAggregate struct {
	name       string
	firstPost  time.Time
	lastPost   time.Time
	posts      int
	views      int64
	forwards   int64
	textLength int64
	withImages int
}

func (b *DimensionBuilder) buildChannels(ctx context.Context) ([]warehouse.ChannelRow, error) {
	messages, err := b.raw.ListMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading raw messages: %w", err)
	}

	aggregates := make(map[string]*channelAggregate)
	for _, m := range messages {
		agg, ok := aggregates[m.ChannelName]
		if !ok {
			agg = &channelAggregate{
				name:      m.ChannelName,
				firstPost: m.MessageDate,
				lastPost:  m.MessageDate,
			}
			aggregates[m.ChannelName] = agg
		}

		if m.MessageDate.Before(agg.firstPost) {
			agg.firstPost = m.MessageDate
		}
		if m.MessageDate.After(agg.lastPost) {
			agg.lastPost = m.MessageDate
		}

		agg.posts++
		agg.views += int64(m.Views)
		agg.forwards += int64(m.Forwards)
		agg.textLength += int64(len([]rune(m.MessageText)))
		if m.HasMedia {
			agg.withImages++
		}
	}

	loadedAt := b.now().UTC()
	rows := make([]warehouse.ChannelRow, 0, len(aggregates))
	for _, agg := range aggregates {
		posts := float64(agg.posts)
		rows = append(rows, warehouse.ChannelRow{
			ChannelKey:       warehouse.ChannelKey(agg.name),
			ChannelName:      agg.name,
			ChannelType:      warehouse.ClassifyChannel(agg.name, b.config.Rules),
			FirstPostDate:    agg.firstPost,
			LastPostDate:     agg.lastPost,
			TotalPosts:       agg.posts,
			TotalViews:       agg.views,
			AvgViews:         float64(agg.views) / posts,
			TotalForwards:    agg.forwards,
			AvgForwards:      float64(agg.forwards) / posts,
			AvgMessageLength: float64(agg.textLength) / posts,
			PostsWithImages:  agg.withImages,
			ActivityLevel:    warehouse.ActivityLevel(agg.posts, b.config.MediumActivityMin, b.config.HighActivityMin),
			LoadedAt:         loadedAt,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ChannelKey < rows[j].ChannelKey
	})

	return rows, nil
}
