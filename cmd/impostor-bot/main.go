package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/impostorpay/impostor-bot/internal/config"
	"github.com/impostorpay/impostor-bot/internal/dedupe"
	"github.com/impostorpay/impostor-bot/internal/game"
	"github.com/impostorpay/impostor-bot/internal/gm"
	"github.com/impostorpay/impostor-bot/internal/msgcat"
	"github.com/impostorpay/impostor-bot/internal/obslog"
	"github.com/impostorpay/impostor-bot/internal/payment"
	"github.com/impostorpay/impostor-bot/internal/router"
	"github.com/impostorpay/impostor-bot/internal/store"
	"github.com/impostorpay/impostor-bot/internal/waha"
	"github.com/impostorpay/impostor-bot/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer obslog.Sync()

	ctx := context.Background()

	st, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres_connect_failed", zap.Error(err))
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema_init_failed", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis_url_invalid", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}
	deduper := dedupe.New(rdb, logger)

	var master gm.GameMaster
	if cfg.GeminiAPIKey != "" {
		g, err := gm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Fatal("gemini_init_failed", zap.Error(err))
		}
		master = g
	} else {
		logger.Warn("gemini_key_missing_using_mock")
		master = gm.NewMock()
	}

	cat, err := msgcat.New(os.Getenv("MESSAGES_DIR"))
	if err != nil {
		logger.Fatal("msgcat_init_failed", zap.Error(err))
	}

	wahaClient := waha.NewClient(cfg.WAHABaseURL, cfg.WAHAAPIKey, cfg.WAHASession)
	egress := waha.NewEgress(wahaClient, cfg.DryRun, logger)

	notifyURL := ""
	if cfg.PublicBaseURL != "" {
		notifyURL = cfg.PublicBaseURL + "/webhook/mp"
	}
	provider := payment.NewMercadoPago(cfg.MPBaseURL, cfg.MPAccessToken, notifyURL)
	payments := payment.NewService(st, provider, logger)

	engine := game.NewEngine(st, payments, game.Config{
		EntryFee:   cfg.EntryFeeCentavos,
		MinPlayers: cfg.MinPlayers,
	}, logger)

	rt := router.New(st, engine, master, cat, egress, router.Config{
		EntryFee:   cfg.EntryFeeCentavos,
		MinPlayers: cfg.MinPlayers,
	}, logger)

	allowed := make(map[string]bool, len(cfg.AllowedChats))
	for _, c := range cfg.AllowedChats {
		allowed[c] = true
	}
	srv := webhook.New(rt, engine, payments, deduper, webhook.Config{
		AdminToken:   cfg.AdminToken,
		AllowedChats: allowed,
	}, logger)

	var socket *waha.EventSocket
	if cfg.IngestMode == "ws" {
		if cfg.WAHAWSURL == "" {
			logger.Fatal("ws_ingest_requires_waha_ws_url")
		}
		socket = waha.NewEventSocket(cfg.WAHAWSURL, cfg.WAHAAPIKey, 10, time.Second)
		socket.OnEvent(func(ev *waha.Event) {
			if ev.Event != "message" {
				return
			}
			msg := ev.Payload
			if msg.FromMe || msg.Body == "" {
				return
			}
			if len(allowed) > 0 && !allowed[msg.From] {
				return
			}
			if !deduper.FirstSeen(context.Background(), msg.ID) {
				return
			}
			go func() {
				hctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				rt.Handle(hctx, msg)
			}()
		})
		socket.OnStateChange(func(state waha.WSState) {
			logger.Info("ws_state", zap.String("state", string(state)))
		})
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := socket.Connect(cctx)
		cancel()
		if err != nil {
			logger.Fatal("ws_connect_failed", zap.Error(err))
		}
	}

	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(cfg.ListenAddr); err != nil {
			logger.Fatal("http_serve_failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting_down")

	if socket != nil {
		_ = socket.Close(context.Background())
	}
	_ = srv.Shutdown()
}
