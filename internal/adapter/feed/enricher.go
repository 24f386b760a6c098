// internal/adapter/feed/enricher.go

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	domain "medwarehouse/internal/domain/feed"
)

// FileEnricher reads image-classification output from a directory of
// JSON files, each holding an array of detection records.
type FileEnricher struct {
	root string
}

// NewFileEnricher creates an enricher reader over the given directory.
func NewFileEnricher(root string) *FileEnricher {
	return &FileEnricher{root: root}
}

// Detections returns every detection record found under the root, in
// file-name order so repeated reads enumerate identically.
func (e *FileEnricher) Detections(ctx context.Context) ([]domain.RawDetection, error) {
	entries, err := os.ReadDir(e.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading detections dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var detections []domain.RawDetection
	for _, name := range names {
		path := filepath.Join(e.root, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading detections file %s: %w", path, err)
		}

		var batch []domain.RawDetection
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("error parsing detections file %s: %w", path, err)
		}

		detections = append(detections, batch...)
	}

	return detections, nil
}
