package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medwarehouse/internal/domain/feed"
)

func loaderFixture(config LoaderConfig) (*Loader, *fakeCollector, *fakeEnricher, *fakeRawStore) {
	collector := &fakeCollector{batches: make(map[string]feed.MessageBatch)}
	enricher := &fakeEnricher{}
	store := newFakeRawStore()
	return NewLoader(collector, enricher, store, config, testLogger()), collector, enricher, store
}

func addPartition(collector *fakeCollector, channel, date string, messages ...feed.RawMessage) {
	source := date + "/" + channel + ".json"
	collector.refs = append(collector.refs, feed.PartitionRef{
		ChannelName: channel,
		Date:        date,
		SourceFile:  source,
	})
	collector.batches[source] = feed.MessageBatch{
		Channel:      channel,
		Date:         date,
		MessageCount: len(messages),
		Messages:     messages,
	}
}

func TestLoaderLoadsPartitions(t *testing.T) {
	loader, collector, _, store := loaderFixture(LoaderConfig{})
	at := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	addPartition(collector, "tikvahpharma", "2024-07-01",
		testMessage(1, "tikvahpharma", at),
		testMessage(2, "tikvahpharma", at),
	)

	total, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), total)
	assert.Len(t, store.messages, 2)
	assert.True(t, store.watermarks["tikvahpharma/2024-07-01"])
}

func TestLoaderDropsInvalidRecords(t *testing.T) {
	loader, collector, _, store := loaderFixture(LoaderConfig{})
	at := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	addPartition(collector, "tikvahpharma", "2024-07-01",
		testMessage(1, "tikvahpharma", at),
		feed.RawMessage{MessageID: 0, ChannelName: "tikvahpharma", MessageDate: at},
		feed.RawMessage{MessageID: 3, ChannelName: "tikvahpharma"},
	)

	total, err := loader.Load(context.Background())
	require.NoError(t, err, "invalid records must not abort the batch")

	assert.Equal(t, int64(1), total)
	assert.Len(t, store.messages, 1)
	assert.True(t, store.watermarks["tikvahpharma/2024-07-01"],
		"partition counts as loaded even with drops")
}

func TestLoaderSkipsLoadedPartitions(t *testing.T) {
	loader, collector, _, store := loaderFixture(LoaderConfig{})
	at := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	addPartition(collector, "tikvahpharma", "2024-07-01", testMessage(1, "tikvahpharma", at))
	store.watermarks["tikvahpharma/2024-07-01"] = true

	total, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), total)
	assert.Empty(t, store.messages)
}

func TestLoaderFullRefreshIgnoresWatermarks(t *testing.T) {
	loader, collector, _, store := loaderFixture(LoaderConfig{FullRefresh: true})
	at := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	addPartition(collector, "tikvahpharma", "2024-07-01", testMessage(1, "tikvahpharma", at))
	store.watermarks["tikvahpharma/2024-07-01"] = true

	total, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), total)
	assert.Len(t, store.messages, 1)
}

func TestLoaderReloadIsIdempotent(t *testing.T) {
	loader, collector, _, store := loaderFixture(LoaderConfig{FullRefresh: true})
	at := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	addPartition(collector, "tikvahpharma", "2024-07-01", testMessage(1, "tikvahpharma", at))

	_, err := loader.Load(context.Background())
	require.NoError(t, err)
	_, err = loader.Load(context.Background())
	require.NoError(t, err)

	assert.Len(t, store.messages, 1, "reload must overwrite, not duplicate")
}

func TestLoaderTruncatesLongText(t *testing.T) {
	loader, collector, _, store := loaderFixture(LoaderConfig{MaxTextLength: 10})
	at := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	msg := testMessage(1, "tikvahpharma", at)
	msg.MessageText = strings.Repeat("x", 50)
	addPartition(collector, "tikvahpharma", "2024-07-01", msg)

	_, err := loader.Load(context.Background())
	require.NoError(t, err)

	stored := store.messages["1/tikvahpharma"]
	assert.Len(t, stored.MessageText, 10)
}

func TestLoaderFiltersEmptyDetections(t *testing.T) {
	loader, _, enricher, store := loaderFixture(LoaderConfig{})
	at := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	enricher.detections = []feed.RawDetection{
		{MessageID: 1, DetectionCount: 2, ConfidenceScore: 0.9, ProcessedAt: at},
		{MessageID: 2, DetectionCount: 0, ProcessedAt: at},
		{MessageID: 3, DetectionCount: 1, ConfidenceScore: 1.5, ProcessedAt: at},
	}

	total, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), total, "empty and invalid detections are dropped")
	assert.Len(t, store.detections, 1)
}

func TestLoaderStopsOnCancelledContext(t *testing.T) {
	loader, collector, _, _ := loaderFixture(LoaderConfig{})
	at := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	addPartition(collector, "tikvahpharma", "2024-07-01", testMessage(1, "tikvahpharma", at))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loader.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
