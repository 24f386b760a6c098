package warehouse

import (
	"errors"
	"time"
)

// ErrRunInProgress is returned when a transformation run is requested
// while another run holds the pipeline lock.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// UnknownKey is the sentinel dimension key assigned when a detection's
// parent message fact has not been materialized yet. Distinct from a
// null key, which means the reference does not exist at all.
const UnknownKey int64 = -1

// ChannelRow is one row of the channel dimension.
type ChannelRow struct {
	ChannelKey       int64     `json:"channel_key"`
	ChannelName      string    `json:"channel_name"`
	ChannelType      string    `json:"channel_type"`
	FirstPostDate    time.Time `json:"first_post_date"`
	LastPostDate     time.Time `json:"last_post_date"`
	TotalPosts       int       `json:"total_posts"`
	TotalViews       int64     `json:"total_views"`
	AvgViews         float64   `json:"avg_views"`
	TotalForwards    int64     `json:"total_forwards"`
	AvgForwards      float64   `json:"avg_forwards"`
	AvgMessageLength float64   `json:"avg_message_length"`
	PostsWithImages  int       `json:"posts_with_images"`
	ActivityLevel    string    `json:"activity_level"`
	LoadedAt         time.Time `json:"loaded_at"`
}

// DateRow is one row of the calendar date dimension.
type DateRow struct {
	DateKey    int64     `json:"date_key"`
	FullDate   time.Time `json:"full_date"`
	Year       int       `json:"year"`
	Quarter    int       `json:"quarter"`
	Month      int       `json:"month"`
	MonthName  string    `json:"month_name"`
	WeekOfYear int       `json:"week_of_year"`
	DayOfWeek  int       `json:"day_of_week"`
	DayName    string    `json:"day_name"`
	IsWeekend  bool      `json:"is_weekend"`
	Holiday    string    `json:"holiday,omitempty"`
}

// MessageFact is one row of the message fact table. Dimension keys are
// nil when the referenced dimension row does not exist; the fact row is
// kept either way.
type MessageFact struct {
	MessageID     int64     `json:"message_id"`
	ChannelKey    *int64    `json:"channel_key"`
	DateKey       *int64    `json:"date_key"`
	MessageText   string    `json:"message_text"`
	MessageLength int       `json:"message_length"`
	ViewCount     int       `json:"view_count"`
	ForwardCount  int       `json:"forward_count"`
	HasImage      bool      `json:"has_image"`
	ForwardRate   float64   `json:"forward_rate"`
	HourOfDay     int       `json:"hour_of_day"`
	TimeOfDay     string    `json:"time_of_day"`
	LoadedAt      time.Time `json:"loaded_at"`
}

// DetectionFact is one row of the image detection fact table. Dimension
// keys are inherited from the parent message fact, or UnknownKey when
// the parent is absent.
type DetectionFact struct {
	DetectionKey    int64     `json:"detection_key"`
	MessageID       int64     `json:"message_id"`
	ChannelKey      int64     `json:"channel_key"`
	DateKey         int64     `json:"date_key"`
	ImagePath       string    `json:"image_path"`
	DetectionCount  int       `json:"detection_count"`
	DetectedClasses string    `json:"detected_classes"`
	ImageCategory   string    `json:"image_category"`
	ConfidenceScore float64   `json:"confidence_score"`
	HasPerson       bool      `json:"has_person"`
	HasProduct      bool      `json:"has_product"`
	ContentStrategy string    `json:"content_strategy"`
	ConfidenceLevel string    `json:"confidence_level"`
	ProcessedAt     time.Time `json:"processed_at"`
	LoadedAt        time.Time `json:"loaded_at"`
}

// StageStatus is the lifecycle state of one pipeline stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// StageResult records the outcome of one stage for the run summary.
type StageResult struct {
	Name         string      `json:"name"`
	Status       StageStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	RowsAffected int64       `json:"rows_affected"`
	Error        string      `json:"error,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
}

// RunSummary is the durable audit record of one pipeline run. It is
// persisted even when the run fails partway.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Trigger    string        `json:"trigger"`
	Status     string        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stages     []StageResult `json:"stages"`
}

// Stage looks up a stage result by name, or nil if the stage was never
// recorded.
func (s *RunSummary) Stage(name string) *StageResult {
	for i := range s.Stages {
		if s.Stages[i].Name == name {
			return &s.Stages[i]
		}
	}
	return nil
}
