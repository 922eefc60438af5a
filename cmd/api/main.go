package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/unipath/unipath/realtime/internal/backing"
	"github.com/unipath/unipath/realtime/internal/config"
	"github.com/unipath/unipath/realtime/internal/handler"
	chatHandler "github.com/unipath/unipath/realtime/internal/handler/chat"
	streamHandler "github.com/unipath/unipath/realtime/internal/handler/stream"
	wsHandler "github.com/unipath/unipath/realtime/internal/handler/ws"
	"github.com/unipath/unipath/realtime/internal/service/assistant"
	"github.com/unipath/unipath/realtime/internal/service/outbound"
	"github.com/unipath/unipath/realtime/internal/service/presence"
	"github.com/unipath/unipath/realtime/internal/service/syncer"
	"github.com/unipath/unipath/realtime/internal/service/thread"
	"github.com/unipath/unipath/realtime/internal/service/unread"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Watermark persistence: Pebble when a path is configured, otherwise a
	// volatile in-memory store.
	var watermarks unread.Store
	if cfg.Sync.WatermarkDBPath != "" {
		pebbleStore, err := unread.OpenPebbleStore(cfg.Sync.WatermarkDBPath)
		if err != nil {
			log.Fatalf("failed to open watermark store: %v", err)
		}
		watermarks = pebbleStore
		log.Printf("watermark store opened at %s", cfg.Sync.WatermarkDBPath)
	} else {
		watermarks = unread.NewMemoryStore()
		log.Println("WATERMARK_DB_PATH not set, unread watermarks will not survive restarts")
	}
	defer watermarks.Close()

	// The shared realtime client is opened once here; conversation
	// subscriptions are logical sub-channels against it.
	var feed backing.Feed
	if cfg.Feed.Enabled() {
		natsFeed, err := backing.NewNatsFeed(cfg.Feed.NatsURL, cfg.Feed.StreamName)
		if err != nil {
			log.Fatalf("failed to connect realtime feed: %v", err)
		}
		feed = natsFeed
		log.Printf("realtime feed connected at %s", cfg.Feed.NatsURL)
	} else {
		feed = backing.NewMemoryFeed()
		log.Println("NATS_URL not set, running on the in-memory feed")
	}
	defer feed.Close()

	client := backing.NewClient(backing.NewMemoryStore(), feed)

	threads := thread.NewStore()
	ledger := unread.NewLedger(watermarks)
	tracker := presence.NewTracker(cfg.Sync.TypingTTL, cfg.Sync.PresenceTTL)

	sync := syncer.New(cfg.Sync.ViewerID, client, threads, ledger, tracker, syncer.Options{
		HistoryLimit: cfg.Sync.HistoryLimit,
	})
	defer sync.Close()

	composer := outbound.NewComposer(client, threads, cfg.Sync.ViewerID, cfg.Sync.AckTimeout)
	emitter := presence.NewEmitter(client, cfg.Sync.ViewerID, cfg.Sync.TypingTTL)

	assistantClient := assistant.NewClient(assistant.Config{
		BaseURL:   cfg.Assistant.BaseURL,
		APIKey:    cfg.Assistant.APIKey,
		Model:     cfg.Assistant.Model,
		Streaming: cfg.Assistant.Streaming,
		Timeout:   cfg.Assistant.Timeout,
	})
	if assistantClient.Enabled() {
		log.Println("assistant service configured")
	} else {
		log.Println("ASSISTANT_BASE_URL not set, assistant replies will use the local fallback")
	}

	router := handler.NewRouter(
		chatHandler.New(sync, composer, emitter),
		streamHandler.New(assistantClient, client, threads, cfg.Sync.ViewerID, cfg.Sync.HistoryLimit),
		wsHandler.New(sync),
	)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("unipath realtime engine listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
