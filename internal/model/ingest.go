package model

import "time"

// RawEvent carries one event observed by a device-side source before it is
// stamped and appended to its category's artifact.
type RawEvent struct {
	Source   string
	Category string
	Content  string
	At       time.Time
}
