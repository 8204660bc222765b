package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/tracevault/internal/audit"
	"github.com/tinytelemetry/tracevault/internal/backup"
	"github.com/tinytelemetry/tracevault/internal/classify"
	"github.com/tinytelemetry/tracevault/internal/companion"
	"github.com/tinytelemetry/tracevault/internal/duckdb"
	"github.com/tinytelemetry/tracevault/internal/httpserver"
	"github.com/tinytelemetry/tracevault/internal/ingest"
	"github.com/tinytelemetry/tracevault/internal/logging"
	"github.com/tinytelemetry/tracevault/internal/report"
)

// runServer starts the evidence server and blocks until a signal arrives.
func runServer(cfg appConfig) error {
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	rules, err := loadRules(cfg.RulesPath)
	if err != nil {
		return err
	}

	registry, err := companion.NewRegistry(cfg.CompanionDir)
	if err != nil {
		return fmt.Errorf("failed to open companion registry: %w", err)
	}
	archive, err := ingest.NewArchive(cfg.ArchiveDir)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	renderer, err := report.NewRenderer(cfg.ReportFormat)
	if err != nil {
		return err
	}
	sink, err := report.NewDirSink(cfg.ReportDir, renderer)
	if err != nil {
		return fmt.Errorf("failed to open report directory: %w", err)
	}
	opts := []report.Option{report.WithSink(sink)}
	if cfg.ReconstructionDir != "" {
		opts = append(opts, report.WithReconstructionDir(cfg.ReconstructionDir))
	}
	assembler, err := report.NewAssembler(store, rules, opts...)
	if err != nil {
		return err
	}

	auditor := audit.NewAuditor(store, cfg.AuditInterval)
	if auditor != nil {
		auditor.Start()
		defer auditor.Stop()
	}

	backupManager, err := backup.NewManager(store, backup.Config{
		Enabled:    cfg.BackupEnabled,
		Interval:   cfg.BackupInterval,
		LocalDir:   cfg.BackupLocalDir,
		KeepLast:   cfg.BackupKeepLast,
		S3URI:      cfg.BackupS3URI,
		S3Endpoint: cfg.BackupS3Endpoint,
		S3Region:   cfg.BackupS3Region,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		backupManager.Start()
		defer backupManager.Stop()
	}

	apiServer := httpserver.NewServer(cfg.Addr, httpserver.Deps{
		Store:          store,
		Ingest:         ingest.NewService(store, registry, archive),
		Reports:        assembler,
		Live:           registry,
		Audit:          auditor,
		ClockZone:      cfg.location,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg)
	logger.Info().Str("addr", cfg.Addr).Str("db_path", cfg.DBPath).Msg("server started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("errgroup exited with error")
	}

	signal.Stop(sigCh)
	return nil
}

func loadRules(path string) (*classify.RuleSet, error) {
	if path == "" {
		rules, err := classify.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load built-in rules: %w", err)
		}
		return rules, nil
	}
	rules, err := classify.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", path, err)
	}
	return rules, nil
}

func printStartupBanner(cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	row := func(on bool, label, value string) string {
		mark := dot
		if on {
			mark = check
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, value)
	}

	logo := cyan.Bold(true).Render(`
    ╔╦╗╦═╗╔═╗╔═╗╔═╗  ╦  ╦╔═╗╦ ╦╦ ╔╦╗
     ║ ╠╦╝╠═╣║  ║╣   ╚╗╔╝╠═╣║ ║║  ║
     ╩ ╩╚═╩ ╩╚═╝╚═╝   ╚╝ ╩ ╩╚═╝╩═╝╩`)

	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, row(true, "HTTP API", cyan.Render(cfg.Addr)))
	lines = append(lines, row(true, "Clock Zone", dim.Render(cfg.location.String())))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Evidence"), "")
	lines = append(lines, row(true, "Storage", dim.Render(shortenPath(cfg.DBPath))))
	lines = append(lines, row(true, "Archive", dim.Render(shortenPath(cfg.ArchiveDir))))
	lines = append(lines, row(true, "Reports", dim.Render(shortenPath(cfg.ReportDir)+" ("+cfg.ReportFormat+")")))
	if cfg.BackupEnabled {
		lines = append(lines, row(true, "Snapshots", dim.Render(shortenPath(cfg.BackupLocalDir))))
	} else {
		lines = append(lines, row(false, "Snapshots", dim.Render("disabled")))
	}
	if cfg.AuditInterval > 0 {
		lines = append(lines, row(true, "Audit", dim.Render("every "+cfg.AuditInterval.String())))
	} else {
		lines = append(lines, row(false, "Audit", dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, row(false, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
