package feed

import (
	"fmt"
	"time"
)

// RawMessage is a single collected channel message, keyed by
// (MessageID, ChannelName).
type RawMessage struct {
	MessageID   int64     `json:"message_id"`
	ChannelName string    `json:"channel_name"`
	MessageDate time.Time `json:"message_date"`
	MessageText string    `json:"message_text"`
	HasMedia    bool      `json:"has_media"`
	ImagePath   *string   `json:"image_path"`
	Views       int       `json:"views"`
	Forwards    int       `json:"forwards"`
}

// Validate rejects records missing any required natural-key or
// timestamp field. Invalid records are dropped at load time, never
// written to the raw store.
func (m RawMessage) Validate() error {
	if m.MessageID == 0 {
		return fmt.Errorf("message id is required")
	}
	if m.ChannelName == "" {
		return fmt.Errorf("channel name is required")
	}
	if m.MessageDate.IsZero() {
		return fmt.Errorf("message date is required")
	}
	return nil
}

// RawDetection is a single image-classification result, keyed by
// (MessageID, ProcessedAt).
type RawDetection struct {
	MessageID       int64     `json:"message_id"`
	ChannelName     string    `json:"channel_name"`
	ImagePath       string    `json:"image_path"`
	DetectionCount  int       `json:"detection_count"`
	DetectedClasses string    `json:"detected_classes"`
	ImageCategory   string    `json:"image_category"`
	ConfidenceScore float64   `json:"confidence_score"`
	HasPerson       bool      `json:"has_person"`
	HasProduct      bool      `json:"has_product"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Validate rejects malformed detection records. Detections with no
// detected objects are valid input but carry no signal; the loader
// filters them separately.
func (d RawDetection) Validate() error {
	if d.MessageID == 0 {
		return fmt.Errorf("message id is required")
	}
	if d.ProcessedAt.IsZero() {
		return fmt.Errorf("processing timestamp is required")
	}
	if d.ConfidenceScore < 0 || d.ConfidenceScore > 1 {
		return fmt.Errorf("confidence score %f outside [0,1]", d.ConfidenceScore)
	}
	return nil
}

// PartitionRef identifies one collector output partition: a single
// channel on a single calendar day.
type PartitionRef struct {
	ChannelName string
	Date        string // YYYY-MM-DD
	SourceFile  string
}

// MessageBatch is the parsed content of one collector partition.
type MessageBatch struct {
	Channel      string       `json:"channel"`
	Date         string       `json:"date"`
	MessageCount int          `json:"message_count"`
	Messages     []RawMessage `json:"messages"`
}
