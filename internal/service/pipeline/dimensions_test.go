package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medwarehouse/internal/domain/feed"
	"medwarehouse/internal/domain/warehouse"
)

func dimensionFixture(raw *fakeRawStore) (*DimensionBuilder, *fakeWarehouseStore) {
	store := &fakeWarehouseStore{}
	builder := NewDimensionBuilder(raw, store, DimensionConfig{
		Rules: []warehouse.ClassificationRule{
			{ChannelType: "pharmaceutical", Keywords: []string{"pharma"}},
			{ChannelType: "cosmetics", Keywords: []string{"cosmetic"}},
		},
		HighActivityMin:   1000,
		MediumActivityMin: 100,
		DateHorizonStart:  time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		DateHorizonEnd:    time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC),
	}, testLogger())
	return builder, store
}

func TestDimensionBuilderAggregatesChannels(t *testing.T) {
	raw := newFakeRawStore()
	first := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	last := time.Date(2024, 7, 3, 18, 0, 0, 0, time.UTC)

	m1 := testMessage(1, "tikvahpharma", first)
	m1.Views, m1.Forwards, m1.HasMedia = 100, 10, true
	m1.MessageText = "abcd"
	m2 := testMessage(2, "tikvahpharma", last)
	m2.Views, m2.Forwards = 300, 30
	m2.MessageText = "abcdef"
	m3 := testMessage(3, "lobelia4cosmetics", first)
	_, err := raw.UpsertMessages(context.Background(), []feed.RawMessage{m1, m2, m3})
	require.NoError(t, err)

	builder, store := dimensionFixture(raw)
	rows, err := builder.Build(context.Background())
	require.NoError(t, err)

	require.Len(t, store.channels, 2)
	assert.Equal(t, int64(2+10), rows, "channel rows plus date rows")

	var pharma *warehouse.ChannelRow
	for i := range store.channels {
		if store.channels[i].ChannelName == "tikvahpharma" {
			pharma = &store.channels[i]
		}
	}
	require.NotNil(t, pharma)

	assert.Equal(t, warehouse.ChannelKey("tikvahpharma"), pharma.ChannelKey)
	assert.Equal(t, "pharmaceutical", pharma.ChannelType)
	assert.Equal(t, first, pharma.FirstPostDate)
	assert.Equal(t, last, pharma.LastPostDate)
	assert.Equal(t, 2, pharma.TotalPosts)
	assert.Equal(t, int64(400), pharma.TotalViews)
	assert.Equal(t, 200.0, pharma.AvgViews)
	assert.Equal(t, int64(40), pharma.TotalForwards)
	assert.Equal(t, 20.0, pharma.AvgForwards)
	assert.Equal(t, 5.0, pharma.AvgMessageLength)
	assert.Equal(t, 1, pharma.PostsWithImages)
	assert.Equal(t, "Low Activity", pharma.ActivityLevel)
}

func TestDimensionBuilderDeterministicOrder(t *testing.T) {
	raw := newFakeRawStore()
	at := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	_, err := raw.UpsertMessages(context.Background(), []feed.RawMessage{
		testMessage(1, "zeta", at),
		testMessage(2, "alpha", at),
		testMessage(3, "mid", at),
	})
	require.NoError(t, err)

	builder, store := dimensionFixture(raw)
	_, err = builder.Build(context.Background())
	require.NoError(t, err)

	firstOrder := make([]int64, 0, len(store.channels))
	for _, c := range store.channels {
		firstOrder = append(firstOrder, c.ChannelKey)
	}

	// Map iteration order varies between runs; output order must not.
	for i := 0; i < 5; i++ {
		_, err = builder.Build(context.Background())
		require.NoError(t, err)
		for j, c := range store.channels {
			assert.Equal(t, firstOrder[j], c.ChannelKey)
		}
	}
}

func TestDimensionBuilderGeneratesDates(t *testing.T) {
	builder, store := dimensionFixture(newFakeRawStore())

	rows, err := builder.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(10), rows)
	assert.Empty(t, store.channels)
	require.Len(t, store.dates, 10)
	assert.Equal(t, int64(20240701), store.dates[0].DateKey)
	assert.Equal(t, int64(20240710), store.dates[9].DateKey)
}
