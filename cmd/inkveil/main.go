package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inkveil/inkveil/internal/audit"
	"github.com/inkveil/inkveil/internal/config"
	"github.com/inkveil/inkveil/internal/convert"
	"github.com/inkveil/inkveil/internal/pipeline"
	"github.com/inkveil/inkveil/internal/recognize"
	"github.com/inkveil/inkveil/internal/resolve"
	"github.com/inkveil/inkveil/internal/server"
	"github.com/inkveil/inkveil/internal/telemetry"
)

func main() {
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "inkveil.yaml", "Path to Inkveil config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	addr := cfg.Server.Addr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	ctx := context.Background()

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.Service,
		Version:  cfg.Telemetry.Version,
	})
	if err != nil {
		log.Fatalf("telemetry setup: %v", err)
	}
	defer tel.Shutdown(ctx)

	sinks, err := buildSinks(cfg.Audit.Sinks)
	if err != nil {
		log.Fatalf("audit setup: %v", err)
	}
	emitter := audit.NewEmitter(audit.EmitterConfig{
		QueueSize: cfg.Audit.QueueSize,
		Workers:   cfg.Audit.Workers,
	}, sinks)
	defer emitter.Close(ctx)

	adapter, err := buildAdapter(cfg.Recognizer)
	if err != nil {
		log.Fatalf("recognizer setup: %v", err)
	}

	var converter *convert.Client
	if cfg.Converter.URL != "" {
		converter = convert.NewClient(cfg.Converter.URL, time.Duration(cfg.Converter.TimeoutSeconds)*time.Second)
	}

	resolver := resolve.New()
	resolver.RescanLiterals = !cfg.Resolve.DisableRescan

	engine := pipeline.New(pipeline.Options{
		Adapter:     adapter,
		Resolver:    resolver,
		Converter:   converter,
		Emitter:     emitter,
		Telemetry:   tel,
		WorkdirRoot: cfg.Workdir.Root,
		MaxChunkLen: cfg.Chunking.MaxLen,
		Delimiters:  []rune(cfg.Chunking.Delimiters),
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: server.New(engine, cfg.Server.MaxUploadMB).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting Inkveil on %s...", addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}
}

func buildSinks(cfgs []config.SinkConfig) ([]audit.Sink, error) {
	var sinks []audit.Sink
	for _, sc := range cfgs {
		switch sc.Type {
		case "file_jsonl":
			s, err := audit.NewFileSink(sc.Path)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		case "webhook":
			s, err := audit.NewWebhookSink(sc.URL, sc.Headers, time.Duration(sc.TimeoutSeconds)*time.Second)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		}
	}
	return sinks, nil
}

func buildAdapter(cfg config.RecognizerConfig) (*recognize.ChunkedAdapter, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Type {
	case "http":
		rec := recognize.NewHTTP(cfg.URL, timeout, 0)
		a := recognize.NewChunkedAdapter(rec, timeout)
		a.SetMaxConcurrency(cfg.MaxConcurrency)
		return a, nil
	case "onnx":
		rec, err := recognize.LoadONNX(cfg.BundleDir, cfg.SequenceLen)
		if err != nil {
			return nil, err
		}
		a := recognize.NewChunkedAdapter(rec, timeout)
		a.SetMaxConcurrency(cfg.MaxConcurrency)
		return a, nil
	default:
		return nil, nil
	}
}
