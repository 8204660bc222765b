package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/tracevault/internal/backup"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath, verifySnapshot string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/tracevault/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.StringVar(&verifySnapshot, "verify-snapshot", "", "check a store snapshot against its sha256 sidecar and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("TraceVault - Evidence Server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	if verifySnapshot != "" {
		sum, err := backup.VerifySnapshot(verifySnapshot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Snapshot verification failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s  %s: OK\n", sum, filepath.Base(verifySnapshot))
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".local", "share", "tracevault")

	v := viper.New()
	v.SetEnvPrefix("TRACEVAULT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("port", defaultPort)
	v.SetDefault("db-path", filepath.Join(dataDir, "tracevault.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("archive-dir", filepath.Join(dataDir, "archive"))
	v.SetDefault("companion-dir", filepath.Join(dataDir, "live"))
	v.SetDefault("report-dir", filepath.Join(dataDir, "reports"))
	v.SetDefault("report-format", defaultReportFormat)
	v.SetDefault("reconstruction-dir", "")
	v.SetDefault("rules-path", "")
	v.SetDefault("clock-zone", defaultClockZone)
	v.SetDefault("max-upload-bytes", defaultMaxUpload)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(dataDir, "snapshots"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-s3-uri", "")
	v.SetDefault("backup-s3-endpoint", "")
	v.SetDefault("backup-s3-region", "")
	v.SetDefault("audit-interval", defaultAuditInterval)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "tracevault", "config.yml"))
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

// finishConfig validates cfg and fills derived fields.
func finishConfig(cfg *appConfig, home string) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max-upload-bytes: %d", cfg.MaxUploadBytes)
	}
	if cfg.BackupEnabled && cfg.BackupKeepLast < 0 {
		return fmt.Errorf("invalid backup-keep-last: %d", cfg.BackupKeepLast)
	}
	switch strings.ToLower(cfg.ReportFormat) {
	case "text", "txt", "yaml", "yml":
	default:
		return fmt.Errorf("invalid report-format: %q", cfg.ReportFormat)
	}

	loc, err := time.LoadLocation(cfg.ClockZone)
	if err != nil {
		return fmt.Errorf("invalid clock-zone %q: %w", cfg.ClockZone, err)
	}
	cfg.location = loc

	for _, p := range []*string{
		&cfg.DBPath, &cfg.ArchiveDir, &cfg.CompanionDir, &cfg.ReportDir,
		&cfg.ReconstructionDir, &cfg.RulesPath, &cfg.BackupLocalDir,
	} {
		*p = expandHome(*p, home)
	}

	if cfg.Addr == "" {
		cfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	return nil
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
