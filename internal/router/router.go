// Package router is the conversation brain: one inbound message in, at
// most one routed engine call and one reply out. Registration debts
// pre-empt whatever the classifier thought the message meant.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/impostorpay/impostor-bot/internal/domain"
	"github.com/impostorpay/impostor-bot/internal/game"
	"github.com/impostorpay/impostor-bot/internal/gm"
	"github.com/impostorpay/impostor-bot/internal/msgcat"
	"github.com/impostorpay/impostor-bot/internal/payment"
	"github.com/impostorpay/impostor-bot/internal/store"
	"github.com/impostorpay/impostor-bot/internal/waha"
	"github.com/impostorpay/impostor-bot/pkg/gamedto"
)

type Config struct {
	EntryFee   int64
	MinPlayers int
}

// Router wires transport, classifier, engine and copy catalog together.
type Router struct {
	store  store.Store
	engine *game.Engine
	master gm.GameMaster
	cat    *msgcat.Catalog
	egress waha.Egress
	cfg    Config
	logger *zap.Logger
}

func New(st store.Store, engine *game.Engine, master gm.GameMaster, cat *msgcat.Catalog, egress waha.Egress, cfg Config, logger *zap.Logger) *Router {
	if cfg.EntryFee <= 0 {
		cfg.EntryFee = 1500
	}
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = 3
	}
	return &Router{store: st, engine: engine, master: master, cat: cat, egress: egress, cfg: cfg, logger: logger}
}

// Handle processes one inbound chat message end to end. Any failure
// degrades to a generic acknowledgement; the player never sees an error.
func (r *Router) Handle(ctx context.Context, msg waha.Message) {
	if msg.FromMe || strings.TrimSpace(msg.Body) == "" {
		return
	}
	chatID := waha.ChatIDFor(msg.From)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handle_panic", zap.Any("panic", rec), zap.String("chat", chatID))
			r.say(ctx, chatID, "errors.generic", nil)
		}
	}()

	if err := r.route(ctx, chatID, msg); err != nil {
		r.logger.Error("handle_failed", zap.Error(err), zap.String("chat", chatID))
		r.say(ctx, chatID, "errors.generic", nil)
	}
}

func (r *Router) route(ctx context.Context, chatID string, msg waha.Message) error {
	phone := waha.PhoneFromJID(msg.From)
	name := msg.SenderName()
	body := strings.TrimSpace(msg.Body)

	snap, err := BuildContext(ctx, r.store, phone)
	if err != nil {
		return err
	}
	intent := r.master.Classify(ctx, body, snap.Situation)

	// Registration interceptor: while a key or its confirmation is owed,
	// the classifier is only consulted for data/confirmed, never for kind.
	if snap.Participant != nil {
		switch snap.Participant.Status {
		case domain.ParticipantPendingPix:
			return r.handlePendingPix(ctx, chatID, phone, snap, intent)
		case domain.ParticipantConfirmingPix:
			return r.handleConfirmingPix(ctx, chatID, phone, snap, intent)
		}
	}

	switch intent.Kind {
	case gamedto.KindNewGame:
		return r.handleNewGame(ctx, chatID, phone, name)
	case gamedto.KindGameAction:
		return r.handleGameAction(ctx, chatID, phone, name, snap, intent)
	default:
		r.sendText(ctx, chatID, r.master.Narrate(ctx, snap.Situation+" | player said: "+body))
		return nil
	}
}

func (r *Router) handlePendingPix(ctx context.Context, chatID, phone string, snap *Snapshot, intent *gamedto.Intent) error {
	key := strings.TrimSpace(intent.Data)
	if intent.Kind != gamedto.KindDataEntry || key == "" {
		r.say(ctx, chatID, "registration.ask_pix", map[string]any{"Amount": formatCentavos(r.cfg.EntryFee)})
		return nil
	}
	p, err := r.engine.SubmitKey(ctx, phone, snap.Participant.MatchID, key)
	if err != nil {
		return err
	}
	r.say(ctx, chatID, "registration.confirm_echo", map[string]any{"Key": p.ScratchKey})
	return nil
}

func (r *Router) handleConfirmingPix(ctx context.Context, chatID, phone string, snap *Snapshot, intent *gamedto.Intent) error {
	if intent.Kind != gamedto.KindConfirmation || intent.Confirmed == nil {
		r.say(ctx, chatID, "registration.confirm_echo", map[string]any{"Key": snap.Participant.ScratchKey})
		return nil
	}
	pay, err := r.engine.ConfirmKey(ctx, phone, snap.Participant.MatchID, *intent.Confirmed)
	if errors.Is(err, game.ErrNothingToConfirm) {
		r.say(ctx, chatID, "registration.nothing_pending", nil)
		return nil
	}
	if err != nil {
		return err
	}
	if pay == nil {
		r.say(ctx, chatID, "registration.declined", nil)
		return nil
	}
	r.presentPayment(ctx, chatID, pay)
	return nil
}

func (r *Router) handleNewGame(ctx context.Context, chatID, phone, name string) error {
	match, err := r.engine.CreateMatch(ctx, phone, name)
	if err != nil {
		return err
	}
	r.say(ctx, chatID, "match.created", map[string]any{
		"Code":       match.Code,
		"MinPlayers": r.cfg.MinPlayers,
	})
	return nil
}

func (r *Router) handleGameAction(ctx context.Context, chatID, phone, name string, snap *Snapshot, intent *gamedto.Intent) error {
	switch intent.Action {
	case gamedto.ActionJoin:
		return r.handleJoin(ctx, chatID, phone, name, snap, intent)
	case gamedto.ActionVote:
		return r.handleVote(ctx, chatID, phone, snap, intent)
	case gamedto.ActionGuess:
		return r.handleGuess(ctx, chatID, phone, snap, intent)
	default:
		r.say(ctx, chatID, "game.no_active", nil)
		return nil
	}
}

func (r *Router) handleJoin(ctx context.Context, chatID, phone, name string, snap *Snapshot, intent *gamedto.Intent) error {
	code := strings.ToUpper(strings.TrimSpace(intent.Target))

	var (
		p   *domain.Participant
		err error
	)
	switch {
	case code != "":
		p, err = r.engine.JoinByCode(ctx, code, phone, name)
	case snap.OpenMatch != nil:
		p, err = r.engine.Join(ctx, snap.OpenMatch.ID, phone, name)
	default:
		r.say(ctx, chatID, "match.code_required", nil)
		return nil
	}
	switch {
	case errors.Is(err, game.ErrMatchNotFound):
		r.say(ctx, chatID, "match.not_found", map[string]any{"Code": code})
		return nil
	case errors.Is(err, game.ErrMatchNotJoinable):
		r.say(ctx, chatID, "match.not_joinable", nil)
		return nil
	case err != nil:
		return err
	}

	switch p.Status {
	case domain.ParticipantPendingPix:
		r.say(ctx, chatID, "registration.ask_pix", map[string]any{"Amount": formatCentavos(r.cfg.EntryFee)})
	case domain.ParticipantConfirmingPix:
		r.say(ctx, chatID, "registration.confirm_echo", map[string]any{"Key": p.ScratchKey})
	case domain.ParticipantReady:
		pay, err := r.engine.IssuePaymentForReady(ctx, phone, p.MatchID)
		if err != nil {
			return err
		}
		r.presentPayment(ctx, chatID, pay)
	}
	return nil
}

func (r *Router) handleVote(ctx context.Context, chatID, phone string, snap *Snapshot, intent *gamedto.Intent) error {
	if snap.Match == nil {
		r.say(ctx, chatID, "game.no_active", nil)
		return nil
	}
	if snap.Match.Status != domain.MatchActive && snap.Match.Status != domain.MatchVoting {
		r.say(ctx, chatID, "game.not_in_progress", nil)
		return nil
	}
	voter, err := r.store.UserByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if voter == nil {
		r.say(ctx, chatID, "game.no_active", nil)
		return nil
	}
	targetName, err := r.engine.ProcessVote(ctx, snap.Match.ID, voter.ID, intent.Target)
	if errors.Is(err, game.ErrNoSuchPlayer) {
		r.say(ctx, chatID, "game.vote_no_target", nil)
		return nil
	}
	if err != nil {
		return err
	}
	r.say(ctx, chatID, "game.vote_recorded", map[string]any{"Voter": voter.Name, "Target": targetName})
	return nil
}

func (r *Router) handleGuess(ctx context.Context, chatID, phone string, snap *Snapshot, intent *gamedto.Intent) error {
	if snap.Match == nil {
		r.say(ctx, chatID, "game.no_active", nil)
		return nil
	}
	guesser, err := r.store.UserByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if guesser == nil {
		r.say(ctx, chatID, "game.no_active", nil)
		return nil
	}
	won, err := r.engine.ProcessGuess(ctx, snap.Match.ID, guesser.ID, intent.Target)
	switch {
	case errors.Is(err, game.ErrNoActiveGame):
		r.say(ctx, chatID, "game.no_active", nil)
		return nil
	case errors.Is(err, game.ErrGameNotInProgress):
		r.say(ctx, chatID, "game.not_in_progress", nil)
		return nil
	case err != nil:
		return err
	}
	if !won {
		r.say(ctx, chatID, "game.guess_wrong", map[string]any{"Guess": intent.Target})
		return nil
	}
	r.say(ctx, chatID, "match.finished", map[string]any{
		"Name": guesser.Name,
		"Word": snap.Match.SecretWord,
		"Pot":  formatCentavos(snap.Match.Pot),
	})
	return nil
}

// presentPayment delivers the copia-e-cola as its own message so it can
// be long-pressed and copied, then the QR as an image.
func (r *Router) presentPayment(ctx context.Context, chatID string, pay *gamedto.Payment) {
	r.say(ctx, chatID, "payment.present", map[string]any{"Amount": formatCentavos(pay.Amount)})
	r.sendText(ctx, chatID, pay.CopiaCola)

	qr := pay.QRBase64
	if qr == "" {
		if png, err := payment.QRPNGBase64(pay.CopiaCola); err == nil {
			qr = png
		}
	}
	if qr != "" {
		if err := r.egress.SendImage(ctx, chatID, qr, "Pix QR"); err != nil {
			r.logger.Warn("qr_send_failed", zap.Error(err), zap.String("chat", chatID))
		}
	}
	if pay.Fallback {
		r.say(ctx, chatID, "payment.fallback_notice", nil)
	}
}

// AnnounceStart hands each player their secret role in a direct message.
func (r *Router) AnnounceStart(ctx context.Context, report *gamedto.StartReport) {
	match, err := r.store.MatchByID(ctx, report.MatchID)
	pot := int64(0)
	if err == nil && match != nil {
		pot = match.Pot
	}
	for _, h := range report.HandOuts {
		dm := waha.ChatIDFor(h.Phone)
		r.say(ctx, dm, "game.started", map[string]any{
			"Count": report.Players,
			"Pot":   formatCentavos(pot),
		})
		if h.Impostor {
			r.say(ctx, dm, "game.impostor_handout", nil)
		} else {
			r.say(ctx, dm, "game.word_handout", map[string]any{"Word": report.SecretWord})
		}
	}
}

// NotifySettlement tells the match that a payment landed and how many are
// still outstanding.
func (r *Router) NotifySettlement(ctx context.Context, tx *domain.Transaction) {
	payer, err := r.store.UserByID(ctx, tx.UserID)
	if err != nil || payer == nil {
		return
	}
	roster, err := r.store.Roster(ctx, tx.MatchID)
	if err != nil {
		return
	}
	paid, err := r.store.CountCompletedEntryFees(ctx, tx.MatchID)
	if err != nil {
		return
	}
	ready := 0
	for _, m := range roster {
		if m.Participant.Status == domain.ParticipantReady {
			ready++
		}
	}
	missing := ready - paid
	if missing < 0 {
		missing = 0
	}
	for _, m := range roster {
		r.say(ctx, waha.ChatIDFor(m.User.Phone), "payment.settled", map[string]any{
			"Name":    payer.Name,
			"Missing": missing,
		})
	}
}

func (r *Router) say(ctx context.Context, chatID, key string, data map[string]any) {
	text, err := r.cat.Render(key, data)
	if err != nil {
		r.logger.Error("render_failed", zap.String("key", key), zap.Error(err))
		text, err = r.cat.Render("errors.generic", nil)
		if err != nil {
			return
		}
	}
	r.sendText(ctx, chatID, text)
}

func (r *Router) sendText(ctx context.Context, chatID, text string) {
	if err := r.egress.SendText(ctx, chatID, text); err != nil {
		r.logger.Warn("send_failed", zap.Error(err), zap.String("chat", chatID))
	}
}

func formatCentavos(v int64) string {
	if v < 0 {
		v = 0
	}
	return fmt.Sprintf("R$ %d,%02d", v/100, v%100)
}
