package model

import (
	"sort"
	"time"
)

// TimeLayout is the fixed second-resolution timestamp format used on the
// wire, in artifacts, and by the reference clock.
const TimeLayout = "2006-01-02 15:04:05"

// NotAvailable marks an estimate that could not be derived.
const NotAvailable = "N/A"

// Pair identifies one log artifact: a device and an event category.
type Pair struct {
	DeviceID string
	Category string
}

func (p Pair) String() string { return p.DeviceID + "_" + p.Category }

// Message is one parsed log line. ReferenceTime is nil when the line carried
// no reference-clock sample.
type Message struct {
	Content       string
	DeviceTime    time.Time
	ReferenceTime *time.Time
}

// HasReference reports whether the message embeds a reference timestamp.
func (m Message) HasReference() bool { return m.ReferenceTime != nil }

// LogBundle is the server-side record of one accepted artifact. It is never
// mutated after creation.
type LogBundle struct {
	ID        string
	DeviceID  string
	Category  string
	Digest    string
	Messages  []Message
	CreatedAt time.Time
}

// Pair returns the artifact identity of the bundle.
func (b LogBundle) Pair() Pair { return Pair{DeviceID: b.DeviceID, Category: b.Category} }

// Earliest returns the earliest device timestamp in the bundle, or the zero
// time for an empty bundle.
func (b LogBundle) Earliest() time.Time {
	var earliest time.Time
	for i, m := range b.Messages {
		if i == 0 || m.DeviceTime.Before(earliest) {
			earliest = m.DeviceTime
		}
	}
	return earliest
}

// EventRule maps a keyword found in message content to an event label.
type EventRule struct {
	Category string
	Keyword  string
	Label    string
}

// ClassifiedEvent collects every message in a report window that matched
// one rule, in chronological order.
type ClassifiedEvent struct {
	Label       string
	Keyword     string
	Matches     []string
	Occurrences []time.Time
}

// Estimate is the correlated "true" time of a message.
type Estimate struct {
	Time      time.Time
	Available bool
}

func (e Estimate) String() string {
	if !e.Available {
		return NotAvailable
	}
	return e.Time.Format(TimeLayout)
}

// TimelineEntry is one row of the merged chronological view.
type TimelineEntry struct {
	DeviceTime time.Time
	Content    string
	Category   string
	Estimated  Estimate
}

// SortMessages orders messages by device time, keeping the original order
// of equal timestamps.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].DeviceTime.Before(msgs[j].DeviceTime)
	})
}

// SortTimeline orders entries by device time, keeping the original order of
// equal timestamps.
func SortTimeline(entries []TimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].DeviceTime.Before(entries[j].DeviceTime)
	})
}
