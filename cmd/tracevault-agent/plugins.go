package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tinytelemetry/tracevault/internal/source"
)

// inputPlugin wires one event source into the agent.
type inputPlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (source.Source, error)
}

type inputPluginConfig struct {
	Stdin      bool
	TCPAddr    string
	WatchPaths []string
}

func buildInputPlugins(cfg inputPluginConfig) []inputPlugin {
	return []inputPlugin{
		stdinInputPlugin{enabled: cfg.Stdin},
		tcpInputPlugin{addr: cfg.TCPAddr},
		fileWatchPlugin{paths: cfg.WatchPaths},
	}
}

type stdinInputPlugin struct {
	enabled bool
}

func (p stdinInputPlugin) Name() string { return "stdin" }

// Enabled is true only when stdin is piped.
func (p stdinInputPlugin) Enabled() bool {
	if !p.enabled {
		return false
	}
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (source.Source, error) {
	return source.NewLineSource(ctx, os.Stdin), nil
}

type tcpInputPlugin struct {
	addr string
}

func (p tcpInputPlugin) Name() string  { return "tcp" }
func (p tcpInputPlugin) Enabled() bool { return p.addr != "" }

func (p tcpInputPlugin) Build(ctx context.Context) (source.Source, error) {
	src, err := source.NewTCPSource(ctx, p.addr)
	if err != nil {
		return nil, fmt.Errorf("start tcp source: %w", err)
	}
	return src, nil
}

type fileWatchPlugin struct {
	paths []string
}

func (p fileWatchPlugin) Name() string  { return "files" }
func (p fileWatchPlugin) Enabled() bool { return len(p.paths) > 0 }

func (p fileWatchPlugin) Build(ctx context.Context) (source.Source, error) {
	src, err := source.NewFileWatchSource(ctx, p.paths, 0)
	if err != nil {
		return nil, err
	}
	return src, nil
}
