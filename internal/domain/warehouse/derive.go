package warehouse

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
)

// ClassificationRule maps a set of name keywords to a channel type.
// Rules are evaluated in order; the first matching keyword wins.
type ClassificationRule struct {
	ChannelType string
	Keywords    []string
}

// ChannelKey derives the stable surrogate key for a channel from its
// natural name. The same name always hashes to the same key, which the
// fact builder relies on across successive dimension rebuilds.
func ChannelKey(channelName string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(channelName)))
	return int64(h.Sum64() & math.MaxInt64)
}

// DateKey encodes a calendar date as an 8-digit YYYYMMDD integer.
func DateKey(t time.Time) int64 {
	return int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day())
}

// DetectionKey derives the surrogate key for a detection fact from its
// natural key (message identifier, processing timestamp).
func DetectionKey(messageID int64, processedAt time.Time) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d", messageID, processedAt.UTC().UnixNano())
	return int64(h.Sum64() & math.MaxInt64)
}

// ClassifyChannel derives the channel type from its name. Matching is a
// case-insensitive substring search over the ordered rule list; a name
// matching keywords from several rules resolves to the first rule listed.
func ClassifyChannel(channelName string, rules []ClassificationRule) string {
	name := strings.ToLower(channelName)
	for _, rule := range rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(name, strings.ToLower(keyword)) {
				return rule.ChannelType
			}
		}
	}
	return "general"
}

// ActivityLevel buckets a channel's total post count into an ordinal
// tier. Posts above highMin are high, above mediumMin medium, the rest
// low.
func ActivityLevel(totalPosts, mediumMin, highMin int) string {
	switch {
	case totalPosts > highMin:
		return "High Activity"
	case totalPosts > mediumMin:
		return "Medium Activity"
	default:
		return "Low Activity"
	}
}

// ForwardRate computes forwards/views as a percentage rounded to two
// decimals. Messages with no views have a zero rate.
func ForwardRate(views, forwards int) float64 {
	if views <= 0 {
		return 0
	}
	rate := float64(forwards) / float64(views) * 100
	return math.Round(rate*100) / 100
}

// TimeOfDay buckets an hour of day into one of four fixed labels.
// Hours 6-12 are Morning, 13-18 Afternoon, 19-23 Evening, 0-5 Night.
func TimeOfDay(hour int) string {
	switch {
	case hour >= 6 && hour <= 12:
		return "Morning"
	case hour >= 13 && hour <= 18:
		return "Afternoon"
	case hour >= 19 && hour <= 23:
		return "Evening"
	default:
		return "Night"
	}
}

// ContentStrategy maps an image category to a content-strategy label.
func ContentStrategy(imageCategory string) string {
	switch imageCategory {
	case "promotional":
		return "Product Promotion"
	case "product_display":
		return "Product Showcase"
	case "lifestyle":
		return "Lifestyle Engagement"
	default:
		return "General Content"
	}
}

// ConfidenceLevel tiers a detection confidence score.
func ConfidenceLevel(score float64) string {
	switch {
	case score >= 0.8:
		return "High"
	case score >= 0.5:
		return "Medium"
	default:
		return "Low"
	}
}

// Fixed-date holidays stamped onto the date dimension.
var holidays = map[string]string{
	"01-01": "New Year's Day",
	"09-11": "Ethiopian New Year",
	"12-25": "Christmas Day",
}

// GenerateDateDimension produces one row per calendar day over
// [start, end] inclusive. Regeneration over the same horizon is
// idempotent: identical inputs yield identical rows.
func GenerateDateDimension(start, end time.Time) []DateRow {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var rows []DateRow
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		_, week := d.ISOWeek()
		weekday := int(d.Weekday())
		rows = append(rows, DateRow{
			DateKey:    DateKey(d),
			FullDate:   d,
			Year:       d.Year(),
			Quarter:    (int(d.Month())-1)/3 + 1,
			Month:      int(d.Month()),
			MonthName:  d.Month().String(),
			WeekOfYear: week,
			DayOfWeek:  weekday,
			DayName:    d.Weekday().String(),
			IsWeekend:  weekday == 0 || weekday == 6,
			Holiday:    holidays[d.Format("01-02")],
		})
	}
	return rows
}
