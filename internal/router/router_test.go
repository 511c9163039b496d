package router

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/impostorpay/impostor-bot/internal/domain"
	"github.com/impostorpay/impostor-bot/internal/game"
	"github.com/impostorpay/impostor-bot/internal/gm"
	"github.com/impostorpay/impostor-bot/internal/msgcat"
	"github.com/impostorpay/impostor-bot/internal/store"
	"github.com/impostorpay/impostor-bot/internal/waha"
	"github.com/impostorpay/impostor-bot/pkg/gamedto"
)

type capturedSend struct {
	chatID string
	text   string
	image  bool
}

type captureEgress struct {
	sends []capturedSend
}

func (c *captureEgress) SendText(_ context.Context, chatID, text string) error {
	c.sends = append(c.sends, capturedSend{chatID: chatID, text: text})
	return nil
}

func (c *captureEgress) SendImage(_ context.Context, chatID, _, _ string) error {
	c.sends = append(c.sends, capturedSend{chatID: chatID, image: true})
	return nil
}

func (c *captureEgress) textsFor(chatID string) []string {
	var out []string
	for _, s := range c.sends {
		if s.chatID == chatID && !s.image {
			out = append(out, s.text)
		}
	}
	return out
}

func (c *captureEgress) reset() { c.sends = nil }

type scriptedGateway struct{}

func (scriptedGateway) CreateEntryFee(_ context.Context, user *domain.User, _ string, amount int64) (*gamedto.Payment, error) {
	return &gamedto.Payment{
		CopiaCola:     "copia-" + user.Phone,
		TransactionID: "tx-" + user.Phone,
		Amount:        amount,
	}, nil
}

type harness struct {
	router *Router
	store  *store.Memory
	engine *game.Engine
	egress *captureEgress
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	engine := game.NewEngine(st, scriptedGateway{}, game.Config{EntryFee: 1500, MinPlayers: 3}, zap.NewNop())
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	eg := &captureEgress{}
	rt := New(st, engine, gm.NewMock(), cat, eg, Config{EntryFee: 1500, MinPlayers: 3}, zap.NewNop())
	return &harness{router: rt, store: st, engine: engine, egress: eg}
}

func msgFrom(phone, body string) waha.Message {
	return waha.Message{
		ID:   "msg-" + phone + "-" + body,
		From: phone + "@c.us",
		Body: body,
		Data: waha.MessageData{NotifyName: "Player " + phone[len(phone)-2:]},
	}
}

func (h *harness) handle(t *testing.T, phone, body string) {
	t.Helper()
	h.router.Handle(context.Background(), msgFrom(phone, body))
}

func TestNewGameCreatesMatch(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "5511999990001", "bora jogar impostor?")

	texts := h.egress.textsFor("5511999990001@c.us")
	if len(texts) != 1 {
		t.Fatalf("replies = %d, want 1", len(texts))
	}
	if !strings.Contains(texts[0], "Partida criada") {
		t.Fatalf("reply %q does not announce the match", texts[0])
	}

	match, err := h.store.FindOpenMatch(context.Background())
	if err != nil || match == nil {
		t.Fatalf("no open match after create: %v", err)
	}
	if !strings.Contains(texts[0], match.Code) {
		t.Fatalf("reply %q missing code %s", texts[0], match.Code)
	}
}

// A PENDING_PIX participant talking about anything else is re-prompted
// for the key; the classified intent is ignored and nothing changes.
func TestPendingPixInterceptsOtherIntents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.handle(t, "5511999990001", "bora jogar")
	match, _ := h.store.FindOpenMatch(ctx)
	if _, err := h.engine.Join(ctx, match.ID, "5511999990002", "Beto"); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.egress.reset()

	// "bora jogar" would classify as NEW_GAME, but the key is owed.
	h.handle(t, "5511999990002", "bora jogar")

	texts := h.egress.textsFor("5511999990002@c.us")
	if len(texts) != 1 || !strings.Contains(texts[0], "chave pix") {
		t.Fatalf("expected key re-prompt, got %v", texts)
	}

	user, _ := h.store.UserByPhone(ctx, "5511999990002")
	p, _ := h.store.Participant(ctx, match.ID, user.ID)
	if p.Status != domain.ParticipantPendingPix {
		t.Fatalf("status changed to %s", p.Status)
	}
	if p2, _, _ := h.store.ActiveParticipantByPhone(ctx, "5511999990002"); p2 == nil {
		t.Fatalf("participant lost")
	}
}

func TestPendingPixAcceptsKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.handle(t, "5511999990001", "bora jogar")
	match, _ := h.store.FindOpenMatch(ctx)
	if _, err := h.engine.Join(ctx, match.ID, "5511999990002", "Beto"); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.egress.reset()

	h.handle(t, "5511999990002", "beto@pix.example")

	texts := h.egress.textsFor("5511999990002@c.us")
	if len(texts) != 1 || !strings.Contains(texts[0], "beto@pix.example") {
		t.Fatalf("expected confirmation echo, got %v", texts)
	}

	user, _ := h.store.UserByPhone(ctx, "5511999990002")
	p, _ := h.store.Participant(ctx, match.ID, user.ID)
	if p.Status != domain.ParticipantConfirmingPix || p.ScratchKey != "beto@pix.example" {
		t.Fatalf("after key: status=%s scratch=%q", p.Status, p.ScratchKey)
	}
}

// Confirming the echoed key flips the participant READY and the reply
// presents a payment code.
func TestConfirmYesIssuesPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.handle(t, "5511999990001", "bora jogar")
	match, _ := h.store.FindOpenMatch(ctx)
	if _, err := h.engine.Join(ctx, match.ID, "5511999990002", "Beto"); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.handle(t, "5511999990002", "beto@pix.example")
	h.egress.reset()

	h.handle(t, "5511999990002", "sim")

	user, _ := h.store.UserByPhone(ctx, "5511999990002")
	p, _ := h.store.Participant(ctx, match.ID, user.ID)
	if p.Status != domain.ParticipantReady {
		t.Fatalf("status = %s, want READY", p.Status)
	}
	if user.PixKey != "beto@pix.example" {
		t.Fatalf("pix key = %q", user.PixKey)
	}

	texts := h.egress.textsFor("5511999990002@c.us")
	joined := strings.Join(texts, "\n")
	if !strings.Contains(joined, "copia-5511999990002") {
		t.Fatalf("no payment code in replies: %v", texts)
	}
}

func TestConfirmNoReverts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.handle(t, "5511999990001", "bora jogar")
	match, _ := h.store.FindOpenMatch(ctx)
	if _, err := h.engine.Join(ctx, match.ID, "5511999990002", "Beto"); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.handle(t, "5511999990002", "beto@pix.example")
	h.egress.reset()

	h.handle(t, "5511999990002", "nao")

	user, _ := h.store.UserByPhone(ctx, "5511999990002")
	p, _ := h.store.Participant(ctx, match.ID, user.ID)
	if p.Status != domain.ParticipantPendingPix || p.ScratchKey != "" {
		t.Fatalf("after decline: status=%s scratch=%q", p.Status, p.ScratchKey)
	}
	texts := h.egress.textsFor("5511999990002@c.us")
	if len(texts) != 1 || !strings.Contains(texts[0], "descartada") {
		t.Fatalf("expected discard notice, got %v", texts)
	}
}

func TestJoinByCodeViaMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.handle(t, "5511999990001", "bora jogar")
	match, _ := h.store.FindOpenMatch(ctx)
	h.egress.reset()

	h.handle(t, "5511999990002", strings.ToLower(match.Code))

	user, _ := h.store.UserByPhone(ctx, "5511999990002")
	if user == nil {
		t.Fatalf("joiner user not created")
	}
	p, _ := h.store.Participant(ctx, match.ID, user.ID)
	if p == nil || p.Status != domain.ParticipantPendingPix {
		t.Fatalf("joiner participant = %+v", p)
	}
	texts := h.egress.textsFor("5511999990002@c.us")
	if len(texts) != 1 || !strings.Contains(texts[0], "chave pix") {
		t.Fatalf("expected key prompt after join, got %v", texts)
	}
}

// The winning guess, in a different case, finishes the match and
// announces the guesser as winner.
func TestWinningGuessFinishesMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.handle(t, "5511999990001", "bora jogar")
	match, _ := h.store.FindOpenMatch(ctx)
	for _, phone := range []string{"5511999990002", "5511999990003"} {
		if _, err := h.engine.Join(ctx, match.ID, phone, "P"+phone); err != nil {
			t.Fatalf("join: %v", err)
		}
		if _, err := h.engine.SubmitKey(ctx, phone, match.ID, phone+"@pix.example"); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := h.engine.ConfirmKey(ctx, phone, match.ID, true); err != nil {
			t.Fatalf("confirm: %v", err)
		}
	}
	if _, err := h.engine.StartGame(ctx, match.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	started, _ := h.store.MatchByID(ctx, match.ID)
	h.egress.reset()

	h.handle(t, "5511999990002", "a palavra é "+strings.ToUpper(started.SecretWord))

	finished, _ := h.store.MatchByID(ctx, match.ID)
	if finished.Status != domain.MatchFinished {
		t.Fatalf("status = %s, want FINISHED", finished.Status)
	}
	texts := h.egress.textsFor("5511999990002@c.us")
	if len(texts) != 1 || !strings.Contains(texts[0], "Fim de jogo") {
		t.Fatalf("expected finish announcement, got %v", texts)
	}
}

func TestGameActionWithoutMatch(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "5511999990007", "voto em ana")

	texts := h.egress.textsFor("5511999990007@c.us")
	if len(texts) != 1 || !strings.Contains(texts[0], "nenhuma partida") {
		t.Fatalf("expected no-active-game reply, got %v", texts)
	}
}

func TestSocialFallsThroughToNarration(t *testing.T) {
	h := newHarness(t)
	h.handle(t, "5511999990001", "e aí, tudo certo?")

	texts := h.egress.textsFor("5511999990001@c.us")
	if len(texts) != 1 || texts[0] != gm.NarratorFiller {
		t.Fatalf("expected narrator filler, got %v", texts)
	}
}

func TestBuildContextPriorities(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	snap, err := BuildContext(ctx, h.store, "5511999990001")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if snap.Situation != "no active game" {
		t.Fatalf("situation = %q", snap.Situation)
	}

	match, err := h.engine.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Creator is READY inside a live match.
	snap, _ = BuildContext(ctx, h.store, "5511999990001")
	if !strings.Contains(snap.Situation, match.Code) {
		t.Fatalf("situation %q missing match code", snap.Situation)
	}

	// Stranger sees the open match.
	snap, _ = BuildContext(ctx, h.store, "5511999990009")
	if snap.Situation != "a match is waiting to be joined" {
		t.Fatalf("situation = %q", snap.Situation)
	}
	if snap.OpenMatch == nil || snap.OpenMatch.ID != match.ID {
		t.Fatalf("open match not surfaced")
	}

	// A pending joiner owes the key.
	if _, err := h.engine.Join(ctx, match.ID, "5511999990002", "Beto"); err != nil {
		t.Fatalf("join: %v", err)
	}
	snap, _ = BuildContext(ctx, h.store, "5511999990002")
	if snap.Situation != "awaiting payment key" {
		t.Fatalf("situation = %q", snap.Situation)
	}

	// After submitting, the scratch value is echoed in the situation.
	if _, err := h.engine.SubmitKey(ctx, "5511999990002", match.ID, "beto@pix.example"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap, _ = BuildContext(ctx, h.store, "5511999990002")
	if !strings.Contains(snap.Situation, "beto@pix.example") {
		t.Fatalf("situation %q missing scratch key", snap.Situation)
	}
}
