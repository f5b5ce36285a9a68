package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/logging"
	"docqa/internal/telemetry"
	"docqa/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath  string
		recreate bool
		query    string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/docqa/config.yaml if not provided)")
	flag.BoolVar(&recreate, "recreate", false, "Drop and rebuild the collection even if it is already indexed")
	flag.StringVar(&query, "query", "", "Answer a single question on stdout instead of starting the TUI")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Println("Usage: docqa [--config=config.yaml] [--recreate] [--query=\"...\"] document.pdf")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfgPath, flag.Arg(0), recreate, query); err != nil {
		fmt.Fprintln(os.Stderr, "docqa:", err)
		if errors.Is(err, domain.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath, docPath string, recreate bool, query string) error {
	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}

	telemetryCfg := telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetryCfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.WithError(err).Warn("tracer shutdown failed")
		}
	}()
	shutdownMeter, err := telemetry.InitMeterProvider(ctx, telemetryCfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownMeter(context.Background()); err != nil {
			log.WithError(err).Warn("meter provider shutdown failed")
		}
	}()
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		return err
	}

	svc, err := buildService(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.WithError(err).Warn("close failed")
		}
	}()

	doc := domain.SourceDocument{Path: docPath}
	ingest := svc.IndexDocument
	if recreate {
		ingest = svc.ReindexDocument
	}
	report, err := ingest(ctx, doc)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", docPath, err)
	}
	log.WithFields(logrus.Fields{
		"run_id":     report.RunID,
		"collection": report.Collection,
		"state":      report.State,
		"chunks":     report.Chunks,
	}).Info("document ready")

	if query != "" {
		resp, err := svc.AnswerQuestion(ctx, query)
		if err != nil {
			return err
		}
		fmt.Println(resp.Answer)
		return nil
	}

	m := tui.New(ctx, svc, ingestSummary(docPath, report))
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func ingestSummary(docPath string, r *domain.IngestReport) string {
	if r.State == domain.StateSkippedAlreadyIndexed {
		return fmt.Sprintf("%s: collection %q already indexed", docPath, r.Collection)
	}
	return fmt.Sprintf("%s: indexed %d chunks into %q in %s", docPath, r.Chunks, r.Collection, r.Duration.Round(time.Millisecond))
}
