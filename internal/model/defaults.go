package model

import "time"

// Shared defaults used by both the server and agent binaries.
const (
	DefaultRotateThreshold = 512 * 1024
	DefaultFlushTimeout    = 30 * time.Second
	DefaultClockTimeout    = 5 * time.Second
)

// Categories lists the event categories in report display order.
var Categories = []string{
	"AntiForensicLog",
	"CallingLog",
	"MessageLog",
	"BluetoothLog",
	"FileLog",
	"AppExecutionLog",
}
