// internal/service/pipeline/facts.go

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"medwarehouse/internal/domain/warehouse"
)

// FactStore persists fact materializations and exposes the committed
// dimension keys for natural-key joins.
type FactStore interface {
	ChannelKeysByName(ctx context.Context) (map[string]int64, error)
	DateKeys(ctx context.Context) (map[int64]bool, error)
	ReplaceMessageFacts(ctx context.Context, facts []warehouse.MessageFact) error
	ReplaceDetectionFacts(ctx context.Context, facts []warehouse.DetectionFact) error
}

// FactBuilder derives the message and detection fact tables from the
// raw layer, joining against dimensions already committed by the
// dimension builder. A fact whose dimension row is missing keeps its
// measures: message facts carry null keys, detection facts carry the
// unknown-key sentinel.
type FactBuilder struct {
	raw    RawReader
	store  FactStore
	logger *logrus.Logger
	now    func() time.Time
}

// NewFactBuilder creates a new fact builder
func NewFactBuilder(raw RawReader, store FactStore, logger *logrus.Logger) *FactBuilder {
	return &FactBuilder{
		raw:    raw,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Build materializes both fact tables and returns the number of rows
// written.
func (b *FactBuilder) Build(ctx context.Context) (int64, error) {
	channelKeys, err := b.store.ChannelKeysByName(ctx)
	if err != nil {
		return 0, err
	}

	dateKeys, err := b.store.DateKeys(ctx)
	if err != nil {
		return 0, err
	}

	messageFacts, factKeys, err := b.buildMessageFacts(ctx, channelKeys, dateKeys)
	if err != nil {
		return 0, err
	}

	if err := b.store.ReplaceMessageFacts(ctx, messageFacts); err != nil {
		return 0, err
	}

	detectionFacts, err := b.buildDetectionFacts(ctx, factKeys)
	if err != nil {
		return int64(len(messageFacts)), err
	}

	if err := b.store.ReplaceDetectionFacts(ctx, detectionFacts); err != nil {
		return int64(len(messageFacts)), err
	}

	b.logger.WithFields(logrus.Fields{
		"message_facts":   len(messageFacts),
		"detection_facts": len(detectionFacts),
	}).Info("Built facts")

	return int64(len(messageFacts) + len(detectionFacts)), nil
}

// factKeys holds the resolved dimension keys of one message fact so
// detection facts can inherit them.
type factKeys struct {
	channelKey int64
	dateKey    int64
}

func (b *FactBuilder) buildMessageFacts(ctx context.Context, channelKeys map[string]int64, dateKeys map[int64]bool) ([]warehouse.MessageFact, map[int64]factKeys, error) {
	messages, err := b.raw.ListMessages(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading raw messages: %w", err)
	}

	loadedAt := b.now().UTC()
	facts := make([]warehouse.MessageFact, 0, len(messages))
	keys := make(map[int64]factKeys, len(messages))

	for _, m := range messages {
		fact := warehouse.MessageFact{
			MessageID:     m.MessageID,
			MessageText:   m.MessageText,
			MessageLength: len([]rune(m.MessageText)),
			ViewCount:     m.Views,
			ForwardCount:  m.Forwards,
			HasImage:      m.HasMedia,
			ForwardRate:   warehouse.ForwardRate(m.Views, m.Forwards),
			HourOfDay:     m.MessageDate.Hour(),
			TimeOfDay:     warehouse.TimeOfDay(m.MessageDate.Hour()),
			LoadedAt:      loadedAt,
		}

		resolved := factKeys{
			channelKey: warehouse.UnknownKey,
			dateKey:    warehouse.UnknownKey,
		}

		if key, ok := channelKeys[m.ChannelName]; ok {
			fact.ChannelKey = &key
			resolved.channelKey = key
		} else {
			b.logger.WithFields(logrus.Fields{
				"message_id": m.MessageID,
				"channel":    m.ChannelName,
			}).Warn("Message references an unknown channel")
		}

		if dateKey := warehouse.DateKey(m.MessageDate); dateKeys[dateKey] {
			key := dateKey
			fact.DateKey = &key
			resolved.dateKey = dateKey
		} else {
			b.logger.WithFields(logrus.Fields{
				"message_id": m.MessageID,
				"date":       m.MessageDate.Format("2006-01-02"),
			}).Warn("Message date outside the calendar horizon")
		}

		facts = append(facts, fact)
		keys[m.MessageID] = resolved
	}

	sort.Slice(facts, func(i, j int) bool {
		return facts[i].MessageID < facts[j].MessageID
	})

	return facts, keys, nil
}

func (b *FactBuilder) buildDetectionFacts(ctx context.Context, messageKeys map[int64]factKeys) ([]warehouse.DetectionFact, error) {
	detections, err := b.raw.ListDetections(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading raw detections: %w", err)
	}

	loadedAt := b.now().UTC()
	facts := make([]warehouse.DetectionFact, 0, len(detections))

	for _, d := range detections {
		fact := warehouse.DetectionFact{
			DetectionKey:    warehouse.DetectionKey(d.MessageID, d.ProcessedAt),
			MessageID:       d.MessageID,
			ChannelKey:      warehouse.UnknownKey,
			DateKey:         warehouse.UnknownKey,
			ImagePath:       d.ImagePath,
			DetectionCount:  d.DetectionCount,
			DetectedClasses: d.DetectedClasses,
			ImageCategory:   d.ImageCategory,
			ConfidenceScore: d.ConfidenceScore,
			HasPerson:       d.HasPerson,
			HasProduct:      d.HasProduct,
			ContentStrategy: warehouse.ContentStrategy(d.ImageCategory),
			ConfidenceLevel: warehouse.ConfidenceLevel(d.ConfidenceScore),
			ProcessedAt:     d.ProcessedAt,
			LoadedAt:        loadedAt,
		}

		if keys, ok := messageKeys[d.MessageID]; ok {
			fact.ChannelKey = keys.channelKey
			fact.DateKey = keys.dateKey
		} else {
			b.logger.WithField("message_id", d.MessageID).
				Warn("Detection references a message with no fact row")
		}

		facts = append(facts, fact)
	}

	sort.Slice(facts, func(i, j int) bool {
		return facts[i].DetectionKey < facts[j].DetectionKey
	})

	return facts, nil
}
