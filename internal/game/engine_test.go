package game

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/impostorpay/impostor-bot/internal/domain"
	"github.com/impostorpay/impostor-bot/internal/store"
	"github.com/impostorpay/impostor-bot/pkg/gamedto"
)

type fakeGateway struct {
	calls int
}

func (g *fakeGateway) CreateEntryFee(_ context.Context, user *domain.User, matchID string, amount int64) (*gamedto.Payment, error) {
	g.calls++
	return &gamedto.Payment{
		CopiaCola:     "copia-" + user.ID,
		TransactionID: "tx-" + user.ID,
		Amount:        amount,
	}, nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *fakeGateway) {
	t.Helper()
	st := store.NewMemory()
	gw := &fakeGateway{}
	e := NewEngine(st, gw, Config{EntryFee: 1500, MinPlayers: 3}, zap.NewNop())
	return e, st, gw
}

// readyPlayer joins phone into the match and walks it through key
// submission and confirmation so the participant ends up READY.
func readyPlayer(t *testing.T, e *Engine, matchID, phone, name string) {
	t.Helper()
	ctx := context.Background()
	p, err := e.Join(ctx, matchID, phone, name)
	if err != nil {
		t.Fatalf("join %s: %v", phone, err)
	}
	if p.Status == domain.ParticipantReady {
		return
	}
	if _, err := e.SubmitKey(ctx, phone, matchID, phone+"@pix.example"); err != nil {
		t.Fatalf("submit key %s: %v", phone, err)
	}
	if _, err := e.ConfirmKey(ctx, phone, matchID, true); err != nil {
		t.Fatalf("confirm key %s: %v", phone, err)
	}
}

func TestGenerateCodeShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != domain.CodeLength {
			t.Fatalf("code %q: want length %d", code, domain.CodeLength)
		}
		for _, c := range code {
			if !strings.ContainsRune(domain.CodeAlphabet, c) {
				t.Fatalf("code %q: %q not in alphabet", code, c)
			}
		}
	}
}

func TestCreateMatchNewUser(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if match.Status != domain.MatchWaitingPayment {
		t.Fatalf("status = %s, want WAITING_PAYMENT", match.Status)
	}
	if len(match.Code) != 6 {
		t.Fatalf("code %q: want 6 chars", match.Code)
	}

	user, err := st.UserByPhone(ctx, "5511999990001")
	if err != nil || user == nil {
		t.Fatalf("creator user missing: %v", err)
	}
	p, err := st.Participant(ctx, match.ID, user.ID)
	if err != nil || p == nil {
		t.Fatalf("creator participant missing: %v", err)
	}
	if p.Status != domain.ParticipantReady {
		t.Fatalf("creator status = %s, want READY", p.Status)
	}
}

func TestCreateMatchReturnsExisting(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second create made a new match %s, want %s", second.ID, first.ID)
	}
}

func TestJoinIdempotent(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p1, err := e.Join(ctx, match.ID, "5511999990002", "Beto")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p1.Status != domain.ParticipantPendingPix {
		t.Fatalf("new joiner status = %s, want PENDING_PIX", p1.Status)
	}
	p2, err := e.Join(ctx, match.ID, "5511999990002", "Beto")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if p2.ID != p1.ID {
		t.Fatalf("rejoin created participant %s, want %s", p2.ID, p1.ID)
	}

	roster, err := st.Roster(ctx, match.ID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(roster))
	}
}

func TestJoinWithStoredKeyStartsReady(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	m1, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	readyPlayer(t, e, m1.ID, "5511999990002", "Beto")

	m2, err := e.CreateMatch(ctx, "5511999990009", "Caio")
	if err != nil {
		t.Fatalf("second match: %v", err)
	}
	p, err := e.Join(ctx, m2.ID, "5511999990002", "Beto")
	if err != nil {
		t.Fatalf("join second: %v", err)
	}
	if p.Status != domain.ParticipantReady {
		t.Fatalf("status = %s, want READY for user with stored key", p.Status)
	}
}

func TestJoinByCodeCaseInsensitive(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.JoinByCode(ctx, strings.ToLower(match.Code), "5511999990002", "Beto"); err != nil {
		t.Fatalf("join by lowercased code: %v", err)
	}
	if _, err := e.JoinByCode(ctx, "ZZZZZZ", "5511999990003", "Caio"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("unknown code err = %v, want ErrMatchNotFound", err)
	}
}

func TestConfirmKeyFlow(t *testing.T) {
	e, st, gw := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Join(ctx, match.ID, "5511999990002", "Beto"); err != nil {
		t.Fatalf("join: %v", err)
	}

	p, err := e.SubmitKey(ctx, "5511999990002", match.ID, "beto@pix.example")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p.Status != domain.ParticipantConfirmingPix || p.ScratchKey != "beto@pix.example" {
		t.Fatalf("after submit: status=%s scratch=%q", p.Status, p.ScratchKey)
	}

	pay, err := e.ConfirmKey(ctx, "5511999990002", match.ID, true)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if pay == nil || pay.CopiaCola == "" {
		t.Fatalf("confirm returned no payment: %+v", pay)
	}
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}

	user, err := st.UserByPhone(ctx, "5511999990002")
	if err != nil || user == nil {
		t.Fatalf("user: %v", err)
	}
	if user.PixKey != "beto@pix.example" {
		t.Fatalf("pix key = %q, want persisted value", user.PixKey)
	}
	got, err := st.Participant(ctx, match.ID, user.ID)
	if err != nil || got == nil {
		t.Fatalf("participant: %v", err)
	}
	if got.Status != domain.ParticipantReady || got.ScratchKey != "" {
		t.Fatalf("after confirm: status=%s scratch=%q", got.Status, got.ScratchKey)
	}
}

func TestConfirmKeyDeclineReverts(t *testing.T) {
	e, st, gw := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Join(ctx, match.ID, "5511999990002", "Beto"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := e.SubmitKey(ctx, "5511999990002", match.ID, "typo@pix"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	pay, err := e.ConfirmKey(ctx, "5511999990002", match.ID, false)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if pay != nil {
		t.Fatalf("decline returned a payment")
	}
	if gw.calls != 0 {
		t.Fatalf("gateway called on decline")
	}

	user, _ := st.UserByPhone(ctx, "5511999990002")
	p, _ := st.Participant(ctx, match.ID, user.ID)
	if p.Status != domain.ParticipantPendingPix || p.ScratchKey != "" {
		t.Fatalf("after decline: status=%s scratch=%q", p.Status, p.ScratchKey)
	}
}

func TestConfirmKeyWithoutScratch(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Join(ctx, match.ID, "5511999990002", "Beto"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := e.ConfirmKey(ctx, "5511999990002", match.ID, true); !errors.Is(err, ErrNothingToConfirm) {
		t.Fatalf("err = %v, want ErrNothingToConfirm", err)
	}
}

func TestEntryFeeIdempotentPerUserMatch(t *testing.T) {
	e, st, gw := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	readyPlayer(t, e, match.ID, "5511999990002", "Beto")
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}

	user, _ := st.UserByPhone(ctx, "5511999990002")
	tx := &domain.Transaction{
		ID:      "tx-pending",
		UserID:  user.ID,
		MatchID: match.ID,
		Type:    domain.TransactionEntryFee,
		Status:  domain.TransactionPending,
		Amount:  1500,
	}
	if err := st.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("seed tx: %v", err)
	}

	pay, err := e.IssuePaymentForReady(ctx, "5511999990002", match.ID)
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if pay.TransactionID != "tx-pending" {
		t.Fatalf("reissue tx = %s, want existing pending", pay.TransactionID)
	}
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d after reissue, want 1", gw.calls)
	}
}

func TestStartGameQuorum(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	readyPlayer(t, e, match.ID, "5511999990002", "Beto")

	if _, err := e.StartGame(ctx, match.ID); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("start with 2 ready: err = %v, want ErrNotEnoughPlayers", err)
	}

	readyPlayer(t, e, match.ID, "5511999990003", "Caio")
	report, err := e.StartGame(ctx, match.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if report.Players != 3 {
		t.Fatalf("players = %d, want 3", report.Players)
	}

	impostors := 0
	for _, h := range report.HandOuts {
		if h.Impostor {
			impostors++
		}
	}
	if impostors != 1 {
		t.Fatalf("impostors = %d, want exactly 1", impostors)
	}

	found := false
	for _, w := range Vocabulary() {
		if w == report.SecretWord {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("secret word %q not in vocabulary", report.SecretWord)
	}

	if _, err := e.StartGame(ctx, match.ID); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("restart err = %v, want ErrAlreadyStarted", err)
	}
}

func TestMaybeStartOnSettlement(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	phones := []string{"5511999990001", "5511999990002", "5511999990003"}
	readyPlayer(t, e, match.ID, phones[1], "Beto")
	readyPlayer(t, e, match.ID, phones[2], "Caio")

	for i, phone := range phones {
		user, _ := st.UserByPhone(ctx, phone)
		tx := &domain.Transaction{
			ID:         "settle-" + user.ID,
			UserID:     user.ID,
			MatchID:    match.ID,
			Type:       domain.TransactionEntryFee,
			Status:     domain.TransactionPending,
			Amount:     1500,
			ExternalID: "ext-" + user.ID,
		}
		if err := st.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("seed tx: %v", err)
		}
		if _, _, err := st.CompleteSettlement(ctx, tx.ExternalID); err != nil {
			t.Fatalf("settle: %v", err)
		}

		report, err := e.MaybeStartOnSettlement(ctx, match.ID)
		if err != nil {
			t.Fatalf("maybe start: %v", err)
		}
		if i < len(phones)-1 && report != nil {
			t.Fatalf("started after %d settlements", i+1)
		}
		if i == len(phones)-1 && report == nil {
			t.Fatalf("did not start after all settlements")
		}
	}
}

func TestProcessVote(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana Clara")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	readyPlayer(t, e, match.ID, "5511999990002", "Beto")
	readyPlayer(t, e, match.ID, "5511999990003", "Caio")
	if _, err := e.StartGame(ctx, match.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	voter, _ := st.UserByPhone(ctx, "5511999990002")
	name, err := e.ProcessVote(ctx, match.ID, voter.ID, "ana")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if name != "Ana Clara" {
		t.Fatalf("target = %q, want Ana Clara", name)
	}
	if got := len(st.Votes(match.ID)); got != 1 {
		t.Fatalf("votes = %d, want 1", got)
	}

	if _, err := e.ProcessVote(ctx, match.ID, voter.ID, "zezinho"); !errors.Is(err, ErrNoSuchPlayer) {
		t.Fatalf("unknown target err = %v, want ErrNoSuchPlayer", err)
	}
}

func TestProcessGuess(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	match, err := e.CreateMatch(ctx, "5511999990001", "Ana")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	readyPlayer(t, e, match.ID, "5511999990002", "Beto")
	readyPlayer(t, e, match.ID, "5511999990003", "Caio")

	user, _ := st.UserByPhone(ctx, "5511999990002")
	if _, err := e.ProcessGuess(ctx, match.ID, user.ID, "banana"); !errors.Is(err, ErrNoActiveGame) {
		t.Fatalf("guess before start err = %v, want ErrNoActiveGame", err)
	}

	if _, err := e.StartGame(ctx, match.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	started, _ := st.MatchByID(ctx, match.ID)

	won, err := e.ProcessGuess(ctx, match.ID, user.ID, "definitely wrong")
	if err != nil {
		t.Fatalf("wrong guess: %v", err)
	}
	if won {
		t.Fatalf("wrong guess reported as win")
	}
	still, _ := st.MatchByID(ctx, match.ID)
	if still.Status != domain.MatchActive {
		t.Fatalf("status after miss = %s, want ACTIVE", still.Status)
	}

	// Different case and padding still wins.
	won, err = e.ProcessGuess(ctx, match.ID, user.ID, "  "+strings.ToUpper(started.SecretWord)+" ")
	if err != nil {
		t.Fatalf("winning guess: %v", err)
	}
	if !won {
		t.Fatalf("normalized guess not accepted")
	}
	finished, _ := st.MatchByID(ctx, match.ID)
	if finished.Status != domain.MatchFinished {
		t.Fatalf("status = %s, want FINISHED", finished.Status)
	}
}
