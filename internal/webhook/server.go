// Package webhook exposes the bot's HTTP surface: WAHA message webhooks,
// Mercado Pago settlement notifications, a health probe and a
// token-guarded manual start.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/impostorpay/impostor-bot/internal/dedupe"
	"github.com/impostorpay/impostor-bot/internal/game"
	"github.com/impostorpay/impostor-bot/internal/payment"
	"github.com/impostorpay/impostor-bot/internal/router"
	"github.com/impostorpay/impostor-bot/internal/waha"
)

const handleTimeout = 30 * time.Second

type Config struct {
	AdminToken   string
	AllowedChats map[string]bool // empty means all chats
}

// Server accepts the two inbound entry points, chat messages and
// settlement callbacks, and hands them to the router and payment service.
type Server struct {
	router   *router.Router
	engine   *game.Engine
	payments *payment.Service
	deduper  *dedupe.Deduper
	cfg      Config
	logger   *zap.Logger
	srv      *fasthttp.Server
}

func New(rt *router.Router, engine *game.Engine, payments *payment.Service, deduper *dedupe.Deduper, cfg Config, logger *zap.Logger) *Server {
	s := &Server{
		router:   rt,
		engine:   engine,
		payments: payments,
		deduper:  deduper,
		cfg:      cfg,
		logger:   logger,
	}
	s.srv = &fasthttp.Server{
		Handler:            s.handle,
		Name:               "impostor-bot",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

func (s *Server) Shutdown() error { return s.srv.Shutdown() }

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case path == "/healthz" && method == fasthttp.MethodGet:
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case path == "/webhook" && method == fasthttp.MethodPost:
		s.handleWAHA(ctx)
	case path == "/webhook/mp" && method == fasthttp.MethodPost:
		s.handleSettlement(ctx)
	case path == "/admin/start" && method == fasthttp.MethodPost:
		s.handleAdminStart(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

// handleWAHA always acks with 200: WAHA retries non-2xx deliveries and a
// retried message would just be dropped by the deduper anyway. Processing
// happens off the request goroutine so slow turns never stall the ack.
func (s *Server) handleWAHA(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)

	var ev waha.Event
	if err := json.Unmarshal(ctx.PostBody(), &ev); err != nil {
		s.logger.Warn("webhook_bad_payload", zap.Error(err))
		return
	}
	if ev.Event != "message" {
		return
	}
	msg := ev.Payload
	if msg.FromMe || msg.Body == "" {
		return
	}
	if len(s.cfg.AllowedChats) > 0 && !s.cfg.AllowedChats[msg.From] {
		return
	}

	bg := context.Background()
	if !s.deduper.FirstSeen(bg, msg.ID) {
		s.logger.Debug("message_duplicate", zap.String("message_id", msg.ID))
		return
	}
	go func() {
		hctx, cancel := context.WithTimeout(bg, handleTimeout)
		defer cancel()
		s.router.Handle(hctx, msg)
	}()
}

type mpNotification struct {
	Type string `json:"type"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// handleSettlement moves the referenced transaction to COMPLETED and, if
// that filled the last seat, starts the match. Unknown and replayed ids
// ack 200 so the provider stops retrying; internal failures 500 so it
// retries later.
func (s *Server) handleSettlement(ctx *fasthttp.RequestCtx) {
	var note mpNotification
	if err := json.Unmarshal(ctx.PostBody(), &note); err == nil && note.Type != "" && note.Type != "payment" {
		ctx.SetStatusCode(fasthttp.StatusOK)
		return
	}
	externalID := note.Data.ID.String()
	if externalID == "" {
		externalID = string(ctx.QueryArgs().Peek("id"))
	}
	if externalID == "" {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	bctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	tx, applied, err := s.payments.Settle(bctx, externalID)
	if err != nil {
		s.logger.Error("settlement_failed", zap.String("external_id", externalID), zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	if tx == nil || !applied {
		return
	}

	s.router.NotifySettlement(bctx, tx)
	report, err := s.engine.MaybeStartOnSettlement(bctx, tx.MatchID)
	if err != nil {
		s.logger.Error("auto_start_failed", zap.String("match_id", tx.MatchID), zap.Error(err))
		return
	}
	if report != nil {
		s.router.AnnounceStart(bctx, report)
	}
}

type adminStartRequest struct {
	MatchID string `json:"match_id"`
}

func (s *Server) handleAdminStart(ctx *fasthttp.RequestCtx) {
	if s.cfg.AdminToken == "" {
		ctx.SetStatusCode(fasthttp.StatusForbidden)
		return
	}
	token := ctx.Request.Header.Peek("X-Admin-Token")
	if subtle.ConstantTimeCompare(token, []byte(s.cfg.AdminToken)) != 1 {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		return
	}

	var req adminStartRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.MatchID == "" {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}

	bctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	report, err := s.engine.StartGame(bctx, req.MatchID)
	switch {
	case errors.Is(err, game.ErrMatchNotFound):
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	case errors.Is(err, game.ErrAlreadyStarted), errors.Is(err, game.ErrNotEnoughPlayers):
		ctx.SetStatusCode(fasthttp.StatusConflict)
		ctx.SetBodyString(err.Error())
		return
	case err != nil:
		s.logger.Error("admin_start_failed", zap.String("match_id", req.MatchID), zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	s.router.AnnounceStart(bctx, report)
	ctx.SetStatusCode(fasthttp.StatusOK)
	_ = json.NewEncoder(ctx).Encode(map[string]any{
		"match_id": report.MatchID,
		"players":  report.Players,
	})
}
