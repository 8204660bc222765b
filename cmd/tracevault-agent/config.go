package main

import (
	"time"

	"github.com/tinytelemetry/tracevault/internal/model"
)

const (
	defaultRotateThreshold = model.DefaultRotateThreshold
	defaultFlushTimeout    = model.DefaultFlushTimeout
	defaultUploadTimeout   = 60 * time.Second
	defaultClockTimeout    = model.DefaultClockTimeout
	defaultRetryInterval   = 30 * time.Second
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
)

// agentConfig is the agent's runtime configuration.
type agentConfig struct {
	DeviceID        string        `mapstructure:"device-id"`
	SpoolDir        string        `mapstructure:"spool-dir"`
	RotateThreshold int64         `mapstructure:"rotate-threshold"`
	FlushTimeout    time.Duration `mapstructure:"flush-timeout"`
	RetryInterval   time.Duration `mapstructure:"retry-interval"`
	ServerURL       string        `mapstructure:"server-url"`
	UploadTimeout   time.Duration `mapstructure:"upload-timeout"`
	ClockTimeout    time.Duration `mapstructure:"clock-timeout"`
	OutboxDir       string        `mapstructure:"outbox-dir"`
	WatchPaths      []string      `mapstructure:"watch-paths"`
	Stdin           bool          `mapstructure:"stdin"`
	TCPAddr         string        `mapstructure:"tcp-addr"`
	LogLevel        string        `mapstructure:"log-level"`
	LogFormat       string        `mapstructure:"log-format"`
	ConfigPath      string        `mapstructure:"-"`
}
