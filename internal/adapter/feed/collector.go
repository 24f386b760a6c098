// internal/adapter/feed/collector.go

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	domain "medwarehouse/internal/domain/feed"
)

// FileCollector reads collector output from a directory tree of
// partitioned JSON files, one file per channel per day:
//
//	<root>/<YYYY-MM-DD>/<channel>.json
type FileCollector struct {
	root string
}

// NewFileCollector creates a collector over the given root directory.
func NewFileCollector(root string) *FileCollector {
	return &FileCollector{root: root}
}

// Partitions lists every (channel, day) partition present on disk,
// ordered by day then channel so repeated scans enumerate identically.
func (c *FileCollector) Partitions(ctx context.Context) ([]domain.PartitionRef, error) {
	days, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading partition root: %w", err)
	}

	var refs []domain.PartitionRef
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		if _, err := time.Parse("2006-01-02", day.Name()); err != nil {
			continue
		}

		files, err := os.ReadDir(filepath.Join(c.root, day.Name()))
		if err != nil {
			return nil, fmt.Errorf("error reading partition dir %s: %w", day.Name(), err)
		}

		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			refs = append(refs, domain.PartitionRef{
				ChannelName: strings.TrimSuffix(file.Name(), ".json"),
				Date:        day.Name(),
				SourceFile:  filepath.Join(c.root, day.Name(), file.Name()),
			})
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Date != refs[j].Date {
			return refs[i].Date < refs[j].Date
		}
		return refs[i].ChannelName < refs[j].ChannelName
	})

	return refs, nil
}

// ReadPartition parses one partition file into a message batch.
func (c *FileCollector) ReadPartition(ctx context.Context, ref domain.PartitionRef) (domain.MessageBatch, error) {
	data, err := os.ReadFile(ref.SourceFile)
	if err != nil {
		return domain.MessageBatch{}, fmt.Errorf("error reading partition %s: %w", ref.SourceFile, err)
	}

	var batch domain.MessageBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return domain.MessageBatch{}, fmt.Errorf("error parsing partition %s: %w", ref.SourceFile, err)
	}

	return batch, nil
}
