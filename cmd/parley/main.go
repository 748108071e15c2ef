package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"parley/internal/attach"
	"parley/internal/chat"
	"parley/internal/config"
	"parley/internal/config/migrate"
	"parley/internal/drag"
	"parley/internal/fetch"
	"parley/internal/ledger"
	"parley/internal/logging"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	// Parse flags
	var (
		configDir   = flag.String("config-dir", "", "Override the config directory (default: ~/.parley)")
		scratchDir  = flag.String("scratch-dir", "", "Override the scratch directory for attachment temp files")
		versionFlag = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Parley version %s\n", Version)
		return
	}

	if dir := strings.TrimSpace(*configDir); dir != "" {
		os.Setenv("PARLEY_CONFIG_DIR", dir)
	}

	// Ensure config exists, bring older layouts up to date, then load
	if err := config.EnsureDefaultConfig(); err != nil {
		log.Fatalf("Failed to ensure default config: %v", err)
	}
	configPath := os.Getenv("PARLEY_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(config.GetConfigDir(), "config.yaml")
	}
	if err := migrate.MigrateConfig(configPath); err != nil {
		log.Fatalf("Failed to migrate config: %v", err)
	}
	cfg, err := config.LoadUserConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if dir := strings.TrimSpace(*scratchDir); dir != "" {
		cfg.ScratchDir = dir
	}

	// Set up logging through a rotating file under the config dir. The
	// terminal stays reserved for the prompt.
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(config.GetConfigDir(), "parley.log"),
		MaxSize:    10, // MiB
		MaxBackups: 3,
		MaxAge:     14, // days
	}
	logging.SetOutput(rotator)
	logger := logging.Logger

	// Crash recovery: a previous run that never marked a clean exit may
	// have left temp files behind.
	runState, err := config.LoadRunState()
	if err != nil {
		logging.ErrorLog("read run state: %v", err)
		runState = &config.RunState{}
	}
	if !runState.CleanExit {
		if scratch, err := attach.NewScratch(cfg.ScratchDir); err == nil {
			removed, errs := scratch.Sweep()
			if removed > 0 {
				logging.UserLog("Removed %d leftover temp file(s) from an unclean shutdown", removed)
			}
			for _, serr := range errs {
				logging.ErrorLog("startup sweep: %v", serr)
			}
		}
	}
	if err := runState.BeginRun(Version); err != nil {
		logging.ErrorLog("write run state: %v", err)
	}

	// Ingestion ledger. The pipeline runs without it if the database
	// cannot be opened.
	var led *ledger.Ledger
	var journal attach.JournalFunc
	if l, err := ledger.Open(cfg.LedgerPath); err != nil {
		logging.ErrorLog("open ledger %s: %v (journal disabled)", cfg.LedgerPath, err)
	} else {
		led = l
		journal = l.RecordJournal
	}

	coord, err := attach.NewCoordinator(attach.Options{
		MaxAttachments:   cfg.MaxAttachments,
		MaxTotalBytes:    cfg.MaxTotalSizeBytes(),
		MaxFileBytes:     cfg.MaxFileSizeBytes(),
		MaxImageBytes:    cfg.MaxImageSizeBytes(),
		MaxDragBytes:     cfg.MaxDragSizeBytes(),
		ScratchDir:       cfg.ScratchDir,
		SettleDelay:      cfg.SettleDelay(),
		StabilityRetries: cfg.StabilityRetries,
		Logger:           logger,
		LogJSON:          cfg.LogJSON,
		Journal:          journal,
	})
	if err != nil {
		log.Fatalf("Failed to init attachment pipeline: %v", err)
	}

	// Drop detection engine. PARLEY_NO_DRAG=1 keeps it off for headless
	// and CI runs.
	var eng *drag.Engine
	if os.Getenv("PARLEY_NO_DRAG") == "1" {
		logging.UserLog("PARLEY_NO_DRAG=1 set; drop detection disabled")
	} else {
		eng = drag.New(coord, drag.Options{
			WatchDirs:       cfg.WatchDirs,
			DetectionWindow: cfg.DetectionWindow(),
			PollInterval:    cfg.PollInterval(),
			Logger:          logger,
			LogJSON:         cfg.LogJSON,
		})
		coord.SetRawSink(eng.Feed)
		eng.Start()
	}

	fetcher := fetch.New(cfg.FetchTimeout(), cfg.FetchMaxSizeBytes())

	chatOpts := chat.Options{
		Fetcher:      fetcher,
		HistoryPath:  cfg.HistoryPath,
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	}
	if led != nil {
		chatOpts.Journal = led
	}
	client := chat.New(coord, chatOpts)
	coord.SetEventCallback(client.OnPipelineEvent)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	if err := client.Run(ctx); err != nil {
		logging.ErrorLog("repl: %v", err)
	}
	cancel()

	// Shutdown order matters: stop feeding the pipeline before the
	// registry clears, mark the run clean only after the sweep.
	if eng != nil {
		eng.Stop()
	}
	coord.Shutdown()
	if err := runState.MarkCleanExit(); err != nil {
		logging.ErrorLog("write run state: %v", err)
	}
	if led != nil {
		if err := led.Close(); err != nil {
			logging.ErrorLog("close ledger: %v", err)
		}
	}
	rotator.Close()
}
