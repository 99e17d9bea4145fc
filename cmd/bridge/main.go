package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/fpt/discord-zendesk-bridge/internal/bridge"
	"github.com/fpt/discord-zendesk-bridge/internal/config"
	"github.com/fpt/discord-zendesk-bridge/internal/discord"
	"github.com/fpt/discord-zendesk-bridge/internal/proxy"
	"github.com/fpt/discord-zendesk-bridge/internal/related"
	"github.com/fpt/discord-zendesk-bridge/internal/server"
	"github.com/fpt/discord-zendesk-bridge/internal/zendesk"
	pkgLogger "github.com/fpt/discord-zendesk-bridge/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to config file (.json, .yaml)")
	logLevel := pflag.String("log-level", "", "Log level (debug, info, warn, error); overrides config")
	addr := pflag.String("addr", "", "Listen address; overrides config and PORT")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	// Initialize logger
	out := os.Stdout
	pkgLogger.SetGlobalLoggerWithConsoleWriter(pkgLogger.LogLevel(cfg.LogLevel), out)
	logger := pkgLogger.NewLoggerWithFile(pkgLogger.LogLevel(cfg.LogLevel), out, cfg.LogFile)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Bridge error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *pkgLogger.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := bridge.NewMetrics(reg)

	client := zendesk.NewClient(cfg.Zendesk.HTTPTimeout.Std(), cfg.Attachment.FetchTimeout.Std())

	signer := proxy.NewSigner(cfg.Site, cfg.Attachment.Secret, cfg.Attachment.TokenTTL.Std())
	attachments := proxy.NewHandler(signer, cfg.Attachment.FetchTimeout.Std(), logger)
	if !signer.Signed() {
		logger.Warn("Attachment proxy URLs are unsigned; only chat CDN hosts are served. Set ATTACHMENT_SECRET to sign them")
	}

	translator := bridge.NewTranslator(bridge.TranslatorConfig{
		Placeholder: cfg.Threads.Placeholder,
		TagThreads:  cfg.Threads.TagThreads,
	}, signer)

	links := make([]bridge.Button, 0, len(cfg.Threads.Links))
	for _, l := range cfg.Threads.Links {
		links = append(links, bridge.Button{Label: l.Label, Emoji: l.Emoji, Style: bridge.ButtonLink, URL: l.URL})
	}

	sessionOpts := bridge.SessionOptions{
		Connect:        discord.NewConnector(logger),
		Translator:     translator,
		Fetcher:        client,
		Greeting:       cfg.Threads.Greeting,
		Links:          links,
		ResolveDelay:   cfg.Threads.ResolveDelay.Std(),
		ResolvedNotice: cfg.Threads.ResolvedNotice,
		Logger:         logger,
	}

	if cfg.Related.Enabled() {
		index, err := newRelatedIndex(cfg.Related, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := index.Close(); err != nil {
				logger.Warn("Failed to close related index", "error", err)
			}
		}()
		sessionOpts.Related = index
	}

	registry := bridge.NewRegistry(bridge.RegistryOptions{
		Session:   sessionOpts,
		Delivery:  bridge.NewDelivery(client, cfg.Zendesk.HTTPTimeout.Std(), metrics, logger),
		Validator: client,
		BufferCap: cfg.Delivery.BufferCap,
		Metrics:   metrics,
		Logger:    logger,
	})
	defer registry.Close()

	srv := server.New(server.Options{
		Config:      cfg,
		Tenants:     registry,
		Attachments: attachments,
		Registry:    reg,
		Logger:      logger,
	})

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoWithIntention(pkgLogger.IntentionConfig, "Bridge starting",
		"site", cfg.Site,
		"push", cfg.Integration.PushClientID != "",
		"webhook_signed", cfg.Zendesk.WebhookSecret != "",
		"related", cfg.Related.Enabled(),
	)

	if err := srv.Run(ctx, cfg.Addr); err != nil {
		return err
	}
	logger.Info("Shutting down")
	return nil
}

func newRelatedIndex(cfg config.RelatedConfig, logger *pkgLogger.Logger) (*related.Index, error) {
	embedder, err := related.NewEmbedder(cfg.Embedder, cfg.Model)
	if err != nil {
		return nil, err
	}
	store, err := related.NewQdrantStore(cfg.QdrantURL)
	if err != nil {
		return nil, err
	}
	return related.NewIndex(store, embedder, cfg.Dimensions, cfg.Limit, logger), nil
}
