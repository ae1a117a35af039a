// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conflux-foundation/conflux/hub"
	"github.com/conflux-foundation/conflux/lib/cache"
	"github.com/conflux-foundation/conflux/lib/clock"
	"github.com/conflux-foundation/conflux/lib/config"
	"github.com/conflux-foundation/conflux/lib/distribution"
	"github.com/conflux-foundation/conflux/lib/event"
	"github.com/conflux-foundation/conflux/lib/journal"
	"github.com/conflux-foundation/conflux/lib/peerset"
	"github.com/conflux-foundation/conflux/lib/secret"
	"github.com/conflux-foundation/conflux/lib/service"
	"github.com/conflux-foundation/conflux/lib/version"
	"github.com/conflux-foundation/conflux/transport"
)

const (
	// historyBuffer is the bus subscription buffer feeding the event
	// history ring. Appending is a mutex grab, so the consumer keeps
	// up; the buffer absorbs commit bursts.
	historyBuffer = 256

	// shutdownTimeout bounds hub teardown: pipeline queue drain plus
	// journal close.
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		logLevel    string
		logFormat   string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to conflux.yaml (default: $CONFLUX_CONFIG)")
	flag.StringVar(&socketPath, "socket", "", "control socket path (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&logFormat, "log-format", "", "log format: text, json (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("conflux-hub %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheme, err := cfg.ParseScheme()
	if err != nil {
		return err
	}
	clk := clock.Real()
	events := event.NewBus()

	jnl, err := openJournal(cfg, logger)
	if err != nil {
		return err
	}

	pipeline, roster, err := buildPipeline(cfg, clk, events, logger)
	if err != nil {
		if jnl != nil {
			jnl.Close()
		}
		return err
	}

	hubOptions := hub.Options{
		Scheme:   scheme,
		Clock:    clk,
		Logger:   logger,
		Events:   events,
		Pipeline: pipeline,
		Journal:  jnl,
	}
	if cfg.CacheCapacity > 0 {
		readCache, err := cache.New(cfg.CacheCapacity)
		if err != nil {
			return err
		}
		hubOptions.Cache = readCache
	}

	// The hub owns the journal from here: replay happens inside New,
	// and Close closes it.
	h, err := hub.New(hubOptions)
	if err != nil {
		if pipeline != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			pipeline.Close(closeCtx)
			cancel()
		}
		return fmt.Errorf("constructing hub: %w", err)
	}

	// The history ring backs the events action and viewer bootstrap.
	// The daemon owns it; the hub only publishes to the bus.
	history := event.NewHistory(event.DefaultHistorySize)
	historyEvents, cancelHistory := events.Subscribe(historyBuffer)
	defer cancelHistory()
	go func() {
		for ev := range historyEvents {
			history.Append(ev)
		}
	}()

	ingest := func(ctx context.Context, env distribution.Envelope) error {
		_, _, err := h.IngestRemote(ctx, env)
		return err
	}

	var tcpListener *transport.TCPListener
	if cfg.Listen.TCP != "" {
		tcpListener, err = transport.NewTCPListener(cfg.Listen.TCP, ingest, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := tcpListener.Serve(ctx); err != nil {
				logger.Error("tcp listener failed", "error", err)
			}
		}()
		logger.Info("tcp ingest listening", "addr", tcpListener.Addr())
	}

	var wsServer *http.Server
	if cfg.Listen.WebSocket != "" {
		wsServer = &http.Server{
			Addr:              cfg.Listen.WebSocket,
			Handler:           transport.WebSocketHandler(ingest, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("websocket listener failed", "error", err)
			}
		}()
		logger.Info("websocket ingest listening", "addr", cfg.Listen.WebSocket)
	}

	var rtcListener *transport.WebRTCListener
	if cfg.Listen.WebRTCSignal != "" {
		signaler, err := transport.NewFileSignaler(cfg.Listen.WebRTCSignal)
		if err != nil {
			return fmt.Errorf("webrtc signaling directory: %w", err)
		}
		rtcListener = transport.NewWebRTCListener(cfg.Name, signaler,
			transport.ICEConfigFromURLs(cfg.STUNServers), ingest, logger)
		go func() {
			if err := rtcListener.Serve(ctx); err != nil {
				logger.Error("webrtc listener failed", "error", err)
			}
		}()
		logger.Info("webrtc ingest answering", "dir", cfg.Listen.WebRTCSignal)
	}

	// Control socket.
	hubService := &HubService{
		hub:       h,
		history:   history,
		pipeline:  pipeline,
		cfg:       cfg,
		clock:     clk,
		startedAt: clk.Now(),
		roster:    roster,
		logger:    logger,
	}
	socketServer := service.NewSocketServer(cfg.SocketPath, logger)
	hubService.registerActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	// SIGHUP reloads the peer roster without a restart.
	if cfg.PeersFile != "" {
		hangup := make(chan os.Signal, 1)
		signal.Notify(hangup, syscall.SIGHUP)
		defer signal.Stop(hangup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hangup:
					if err := hubService.reloadRoster(); err != nil {
						logger.Error("roster reload failed", "error", err)
					}
				}
			}
		}()
	}

	enabledPeers := 0
	if roster != nil {
		enabledPeers = len(roster.Enabled())
	}
	logger.Info("hub running",
		"name", cfg.Name,
		"socket", cfg.SocketPath,
		"scheme", cfg.Scheme,
		"peers", enabledPeers,
		"journal", cfg.Journal.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}

	// Stop ingest before the hub goes down so no envelope lands in a
	// half-closed hub.
	if tcpListener != nil {
		tcpListener.Close()
	}
	if wsServer != nil {
		wsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := wsServer.Shutdown(wsCtx); err != nil {
			logger.Error("websocket shutdown", "error", err)
		}
		cancel()
	}
	if rtcListener != nil {
		rtcListener.Close()
	}

	// Compact on clean shutdown while the journal is still open;
	// h.Close closes it.
	if h.JournalNeedsCompaction() {
		if err := h.CompactJournal(); err != nil {
			logger.Error("journal compaction failed", "error", err)
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := h.Close(closeCtx); err != nil {
		logger.Error("hub close", "error", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(level, format string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: slogLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

// openJournal opens the configured journal, reading the sealing key
// first when at-rest encryption is on. Returns nil without error when
// the journal is disabled.
func openJournal(cfg *config.Config, logger *slog.Logger) (*journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}

	compression, err := config.ParseCompression(cfg.Journal.Compression)
	if err != nil {
		return nil, err
	}

	var key *secret.Buffer
	if cfg.Journal.Seal {
		key, err = secret.ReadFromPath(cfg.Journal.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading journal key: %w", err)
		}
	}

	jnl, err := journal.Open(journal.Options{
		Path:        cfg.JournalPath(),
		Compression: compression,
		Key:         key,
		Logger:      logger,
	})
	if err != nil {
		if key != nil {
			key.Close()
		}
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return jnl, nil
}

// buildPipeline constructs the distribution pipeline from the peer
// roster. A hub without a peers file is local-only: nil pipeline, nil
// roster, no error.
func buildPipeline(cfg *config.Config, clk clock.Clock, events *event.Bus, logger *slog.Logger) (*distribution.Pipeline, *peerset.Set, error) {
	if cfg.PeersFile == "" {
		return nil, nil, nil
	}

	roster, err := peerset.ReadFile(cfg.PeersFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading roster: %w", err)
	}

	compression, err := config.ParseCompression(cfg.Pipeline.Compression)
	if err != nil {
		return nil, nil, err
	}

	pipeline := distribution.New(distribution.Options{
		Origin:            cfg.Name,
		QueueSize:         cfg.Pipeline.QueueSize,
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		InitialBackoff:    cfg.Pipeline.InitialBackoff,
		MaxBackoff:        cfg.Pipeline.MaxBackoff,
		Compression:       compression,
		CompressThreshold: cfg.Pipeline.CompressThreshold,
		Clock:             clk,
		Logger:            logger,
		Events:            events,
	})

	for _, peer := range roster.Enabled() {
		link, err := buildLink(cfg, peer, logger)
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			pipeline.Close(closeCtx)
			cancel()
			return nil, nil, err
		}
		if link == nil {
			continue
		}
		if err := pipeline.AddPeer(link); err != nil {
			logger.Error("adding peer", "peer", peer.Name, "error", err)
		}
	}
	return pipeline, roster, nil
}

// buildLink constructs the transport link for one roster entry. Memory
// peers have no daemon-side counterpart; callers skip the nil link.
func buildLink(cfg *config.Config, peer peerset.Peer, logger *slog.Logger) (distribution.PeerLink, error) {
	switch peer.Kind {
	case peerset.KindTCP:
		return transport.NewTCPLink(peer.Name, peer.Addr, logger), nil
	case peerset.KindWebSocket:
		return transport.NewWebSocketLink(peer.Name, peer.Addr, logger), nil
	case peerset.KindWebRTC:
		signaler, err := transport.NewFileSignaler(peer.Addr)
		if err != nil {
			return nil, fmt.Errorf("signaling directory for peer %s: %w", peer.Name, err)
		}
		return transport.NewWebRTCLink(cfg.Name, peer.Name, signaler,
			transport.ICEConfigFromURLs(cfg.STUNServers), logger), nil
	case peerset.KindMemory:
		logger.Warn("memory peers only work inside one process; skipping", "peer", peer.Name)
		return nil, nil
	}
	return nil, fmt.Errorf("unknown peer kind %q", peer.Kind)
}
