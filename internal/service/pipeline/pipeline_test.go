package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"medwarehouse/internal/domain/feed"
	"medwarehouse/internal/domain/warehouse"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeCollector serves canned partitions and batches.
type fakeCollector struct {
	refs    []feed.PartitionRef
	batches map[string]feed.MessageBatch
	readErr error
}

func (f *fakeCollector) Partitions(ctx context.Context) ([]feed.PartitionRef, error) {
	return f.refs, nil
}

func (f *fakeCollector) ReadPartition(ctx context.Context, ref feed.PartitionRef) (feed.MessageBatch, error) {
	if f.readErr != nil {
		return feed.MessageBatch{}, f.readErr
	}
	batch, ok := f.batches[ref.SourceFile]
	if !ok {
		return feed.MessageBatch{}, fmt.Errorf("no batch for %s", ref.SourceFile)
	}
	return batch, nil
}

// fakeEnricher serves canned detections.
type fakeEnricher struct {
	detections []feed.RawDetection
	err        error
}

func (f *fakeEnricher) Detections(ctx context.Context) ([]feed.RawDetection, error) {
	return f.detections, f.err
}

// fakeRawStore is an in-memory raw layer implementing both the loader's
// RawStore and the builders' RawReader.
type fakeRawStore struct {
	messages   map[string]feed.RawMessage
	detections map[string]feed.RawDetection
	watermarks map[string]bool
	upsertErr  error
}

func newFakeRawStore() *fakeRawStore {
	return &fakeRawStore{
		messages:   make(map[string]feed.RawMessage),
		detections: make(map[string]feed.RawDetection),
		watermarks: make(map[string]bool),
	}
}

func (f *fakeRawStore) UpsertMessages(ctx context.Context, messages []feed.RawMessage) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	for _, m := range messages {
		f.messages[fmt.Sprintf("%d/%s", m.MessageID, m.ChannelName)] = m
	}
	return len(messages), nil
}

func (f *fakeRawStore) UpsertDetections(ctx context.Context, detections []feed.RawDetection) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	for _, d := range detections {
		f.detections[fmt.Sprintf("%d/%d", d.MessageID, d.ProcessedAt.UnixNano())] = d
	}
	return len(detections), nil
}

func (f *fakeRawStore) PartitionLoaded(ctx context.Context, channel, date string) (bool, error) {
	return f.watermarks[channel+"/"+date], nil
}

func (f *fakeRawStore) MarkPartitionLoaded(ctx context.Context, ref feed.PartitionRef) error {
	f.watermarks[ref.ChannelName+"/"+ref.Date] = true
	return nil
}

func (f *fakeRawStore) ListMessages(ctx context.Context) ([]feed.RawMessage, error) {
	var out []feed.RawMessage
	for _, m := range f.messages {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeRawStore) ListDetections(ctx context.Context) ([]feed.RawDetection, error) {
	var out []feed.RawDetection
	for _, d := range f.detections {
		if d.DetectionCount > 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

// fakeWarehouseStore is an in-memory mart layer implementing
// DimensionStore and FactStore.
type fakeWarehouseStore struct {
	channels        []warehouse.ChannelRow
	dates           []warehouse.DateRow
	messageFacts    []warehouse.MessageFact
	detectionFacts  []warehouse.DetectionFact
	channelReplaces int
	factReplaces    int
	replaceErr      error
}

func (f *fakeWarehouseStore) ReplaceChannelDimension(ctx context.Context, channels []warehouse.ChannelRow) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.channels = channels
	f.channelReplaces++
	return nil
}

func (f *fakeWarehouseStore) ReplaceDateDimension(ctx context.Context, dates []warehouse.DateRow) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.dates = dates
	return nil
}

func (f *fakeWarehouseStore) ChannelKeysByName(ctx context.Context) (map[string]int64, error) {
	keys := make(map[string]int64)
	for _, c := range f.channels {
		keys[c.ChannelName] = c.ChannelKey
	}
	return keys, nil
}

func (f *fakeWarehouseStore) DateKeys(ctx context.Context) (map[int64]bool, error) {
	keys := make(map[int64]bool)
	for _, d := range f.dates {
		keys[d.DateKey] = true
	}
	return keys, nil
}

func (f *fakeWarehouseStore) ReplaceMessageFacts(ctx context.Context, facts []warehouse.MessageFact) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.messageFacts = facts
	f.factReplaces++
	return nil
}

func (f *fakeWarehouseStore) ReplaceDetectionFacts(ctx context.Context, facts []warehouse.DetectionFact) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.detectionFacts = facts
	return nil
}

// fakeRunStore records run summaries and arbitrates a fake lock. It is
// mutex guarded because StartAsync exercises it from another goroutine.
type fakeRunStore struct {
	mu        sync.Mutex
	summaries []warehouse.RunSummary
	lockErr   error
	saveErr   error
	locked    bool
}

func (f *fakeRunStore) SaveRunSummary(ctx context.Context, summary warehouse.RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.summaries = append(f.summaries, summary)
	return nil
}

func (f *fakeRunStore) AcquireRunLock(ctx context.Context) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	if f.locked {
		return nil, warehouse.ErrRunInProgress
	}
	f.locked = true
	return func() {
		f.mu.Lock()
		f.locked = false
		f.mu.Unlock()
	}, nil
}

func (f *fakeRunStore) savedRuns() []warehouse.RunSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]warehouse.RunSummary, len(f.summaries))
	copy(out, f.summaries)
	return out
}

func (f *fakeRunStore) lockHeld() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked
}

func (f *fakeRunStore) setLocked(v bool) {
	f.mu.Lock()
	f.locked = v
	f.mu.Unlock()
}

func testMessage(id int64, channel string, at time.Time) feed.RawMessage {
	return feed.RawMessage{
		MessageID:   id,
		ChannelName: channel,
		MessageDate: at,
		MessageText: "test message",
		Views:       100,
		Forwards:    5,
	}
}
