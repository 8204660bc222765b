// Package source turns device-side activity into raw events for the agent.
package source

import "github.com/tinytelemetry/tracevault/internal/model"

// DefaultBuffer is the default channel buffer size of a source.
const DefaultBuffer = 4096

// Source is a stream of raw events (stdin, file activity).
type Source interface {
	Events() <-chan model.RawEvent
	Stop()
	Name() string
}
