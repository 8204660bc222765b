package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/tracevault/internal/artifact"
	"github.com/tinytelemetry/tracevault/internal/model"
)

// Build variables - set by ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/tracevault/agent.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("TraceVault Agent %s (%s)\n", version, commit)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runAgent(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (agentConfig, error) {
	var cfg agentConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	stateDir := filepath.Join(home, ".local", "state", "tracevault-agent")
	hostname, _ := os.Hostname()

	v := viper.New()
	v.SetEnvPrefix("TRACEVAULT_AGENT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("device-id", deviceIDFromHost(hostname))
	v.SetDefault("spool-dir", filepath.Join(stateDir, "spool"))
	v.SetDefault("rotate-threshold", defaultRotateThreshold)
	v.SetDefault("flush-timeout", defaultFlushTimeout)
	v.SetDefault("retry-interval", defaultRetryInterval)
	v.SetDefault("server-url", "")
	v.SetDefault("upload-timeout", defaultUploadTimeout)
	v.SetDefault("clock-timeout", defaultClockTimeout)
	v.SetDefault("outbox-dir", filepath.Join(stateDir, "outbox"))
	v.SetDefault("watch-paths", []string{})
	v.SetDefault("stdin", true)
	v.SetDefault("tcp-addr", "")
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "tracevault", "agent.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	return cfg, finishConfig(&cfg, home)
}

func finishConfig(cfg *agentConfig, home string) error {
	if err := artifact.ValidatePair(model.Pair{DeviceID: cfg.DeviceID, Category: "x"}); err != nil {
		return fmt.Errorf("invalid device-id %q: %w", cfg.DeviceID, err)
	}
	if cfg.RotateThreshold <= 0 {
		return fmt.Errorf("invalid rotate-threshold: %d", cfg.RotateThreshold)
	}
	if cfg.FlushTimeout <= 0 {
		return fmt.Errorf("invalid flush-timeout: %s", cfg.FlushTimeout)
	}
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")

	cfg.SpoolDir = expandHome(cfg.SpoolDir, home)
	cfg.OutboxDir = expandHome(cfg.OutboxDir, home)
	paths := cfg.WatchPaths[:0]
	for _, p := range cfg.WatchPaths {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, expandHome(p, home))
		}
	}
	cfg.WatchPaths = paths
	return nil
}

// deviceIDFromHost derives a device id from the host name. Separators that
// would break artifact names are replaced.
func deviceIDFromHost(hostname string) string {
	id := strings.NewReplacer("_", "-", "/", "-", "\\", "-").Replace(strings.TrimSpace(hostname))
	if id == "" {
		return "device"
	}
	return id
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
