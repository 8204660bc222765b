package main

import "time"

const (
	defaultBindHost       = "0.0.0.0"
	defaultPort           = 8080
	defaultQueryTimeout   = 30 * time.Second
	defaultClockZone      = "UTC"
	defaultMaxUpload      = 32 << 20
	defaultReportFormat   = "text"
	defaultLogLevel       = "info"
	defaultLogFormat      = "console"
	defaultBackupInterval = 6 * time.Hour
	defaultBackupKeepLast = 24
	defaultAuditInterval  = time.Hour
)

// appConfig is the server's runtime configuration.
type appConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Addr              string        `mapstructure:"addr"`
	DBPath            string        `mapstructure:"db-path"`
	QueryTimeout      time.Duration `mapstructure:"query-timeout"`
	ArchiveDir        string        `mapstructure:"archive-dir"`
	CompanionDir      string        `mapstructure:"companion-dir"`
	ReportDir         string        `mapstructure:"report-dir"`
	ReportFormat      string        `mapstructure:"report-format"`
	ReconstructionDir string        `mapstructure:"reconstruction-dir"`
	RulesPath         string        `mapstructure:"rules-path"`
	ClockZone         string        `mapstructure:"clock-zone"`
	MaxUploadBytes    int64         `mapstructure:"max-upload-bytes"`
	LogLevel          string        `mapstructure:"log-level"`
	LogFormat         string        `mapstructure:"log-format"`
	BackupEnabled     bool          `mapstructure:"backup-enabled"`
	BackupInterval    time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir    string        `mapstructure:"backup-local-dir"`
	BackupKeepLast    int           `mapstructure:"backup-keep-last"`
	BackupS3URI       string        `mapstructure:"backup-s3-uri"`
	BackupS3Endpoint  string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region    string        `mapstructure:"backup-s3-region"`
	AuditInterval     time.Duration `mapstructure:"audit-interval"`
	ConfigPath        string        `mapstructure:"-"`

	location *time.Location
}
