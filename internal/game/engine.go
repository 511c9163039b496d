package game

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/impostorpay/impostor-bot/internal/domain"
	"github.com/impostorpay/impostor-bot/internal/obslog"
	"github.com/impostorpay/impostor-bot/internal/store"
	"github.com/impostorpay/impostor-bot/pkg/gamedto"
)

var (
	ErrMatchNotFound     = errors.New("match code not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrParticipantGone   = errors.New("participant not found")
	ErrMatchNotJoinable  = errors.New("match already started or finished")
	ErrAlreadyStarted    = errors.New("match already started")
	ErrNothingToConfirm  = errors.New("no pix key waiting for confirmation")
	ErrNotEnoughPlayers  = errors.New("not enough ready players")
	ErrNoSuchPlayer      = errors.New("no participant matches that name")
	ErrNoActiveGame      = errors.New("match has no secret word")
	ErrGameNotInProgress = errors.New("match is not in progress")
)

const codeAttempts = 5

// PaymentGateway creates the entry-fee charge for a user in a match. The
// engine owns the idempotency guard around it.
type PaymentGateway interface {
	CreateEntryFee(ctx context.Context, user *domain.User, matchID string, amount int64) (*gamedto.Payment, error)
}

type Config struct {
	EntryFee   int64 // centavos
	MinPlayers int
}

// Engine owns the match and participant lifecycle. It holds no state of
// its own; everything is re-read from the store per call.
type Engine struct {
	store   store.Store
	gateway PaymentGateway
	cfg     Config
	logger  *zap.Logger
}

func NewEngine(st store.Store, gateway PaymentGateway, cfg Config, logger *zap.Logger) *Engine {
	if cfg.EntryFee <= 0 {
		cfg.EntryFee = 1500 // R$ 15,00
	}
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = 3
	}
	if logger == nil {
		logger = obslog.L()
	}
	return &Engine{store: st, gateway: gateway, cfg: cfg, logger: logger}
}

func (e *Engine) EntryFee() int64 { return e.cfg.EntryFee }

// ensureUser looks up or creates the user for a phone. A racing create
// is absorbed by re-reading after a duplicate-key error.
func (e *Engine) ensureUser(ctx context.Context, phone, name string) (*domain.User, error) {
	u, err := e.store.UserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}
	u = &domain.User{
		ID:        uuid.NewString(),
		Phone:     phone,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now(),
	}
	err = e.store.CreateUser(ctx, u)
	if errors.Is(err, store.ErrDuplicateUser) {
		return e.store.UserByPhone(ctx, phone)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GenerateCode draws CodeLength characters from the unambiguous alphabet.
func GenerateCode() (string, error) {
	b := make([]byte, domain.CodeLength)
	max := big.NewInt(int64(len(domain.CodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = domain.CodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// CreateMatch returns the creator's existing non-terminal match if one
// exists; otherwise it creates a new WAITING_PAYMENT match with the
// creator as a READY participant. Code collisions retry.
func (e *Engine) CreateMatch(ctx context.Context, phone, name string) (*domain.Match, error) {
	if _, existing, err := e.store.ActiveParticipantByPhone(ctx, phone); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	user, err := e.ensureUser(ctx, phone, name)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		now := time.Now()
		match := &domain.Match{
			ID:        uuid.NewString(),
			Code:      code,
			Status:    domain.MatchWaitingPayment,
			CreatedAt: now,
			UpdatedAt: now,
		}
		creator := &domain.Participant{
			ID:        uuid.NewString(),
			MatchID:   match.ID,
			UserID:    user.ID,
			Status:    domain.ParticipantReady,
			Role:      domain.RoleNone,
			CreatedAt: now,
		}
		err = e.store.CreateMatch(ctx, match, creator)
		if errors.Is(err, store.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		e.logger.Info("match_create",
			zap.String("match_id", match.ID),
			zap.String("code", match.Code),
			zap.String("creator_id", user.ID),
		)
		return match, nil
	}
	return nil, fmt.Errorf("failed to allocate match code")
}

// JoinByCode resolves the code case-insensitively and joins its match.
func (e *Engine) JoinByCode(ctx context.Context, code, phone, name string) (*domain.Participant, error) {
	match, err := e.store.MatchByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}
	if match.Status != domain.MatchWaitingPayment {
		return nil, ErrMatchNotJoinable
	}
	return e.Join(ctx, match.ID, phone, name)
}

// Join is idempotent per (match, user): an existing participant is
// returned unchanged, including when a concurrent join races the
// uniqueness constraint. A new joiner starts READY when the user already
// has a pix key on record, PENDING_PIX otherwise.
func (e *Engine) Join(ctx context.Context, matchID, phone, name string) (*domain.Participant, error) {
	user, err := e.ensureUser(ctx, phone, name)
	if err != nil {
		return nil, err
	}
	if existing, err := e.store.Participant(ctx, matchID, user.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	status := domain.ParticipantPendingPix
	if user.PixKey != "" {
		status = domain.ParticipantReady
	}
	p := &domain.Participant{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		UserID:    user.ID,
		Status:    status,
		Role:      domain.RoleNone,
		CreatedAt: time.Now(),
	}
	err = e.store.CreateParticipant(ctx, p)
	if errors.Is(err, store.ErrDuplicateParticipant) {
		return e.store.Participant(ctx, matchID, user.ID)
	}
	if err != nil {
		return nil, err
	}
	e.logger.Info("match_join",
		zap.String("match_id", matchID),
		zap.String("user_id", user.ID),
		zap.String("status", string(p.Status)),
	)
	return p, nil
}

// SubmitKey stages a pix key on the participant's scratch field and moves
// them to CONFIRMING_PIX. A prior unconfirmed value is overwritten.
func (e *Engine) SubmitKey(ctx context.Context, phone, matchID, key string) (*domain.Participant, error) {
	user, err := e.store.UserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	p, err := e.store.Participant(ctx, matchID, user.ID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrParticipantGone
	}
	key = strings.TrimSpace(key)
	if err := e.store.SetParticipantScratch(ctx, p.ID, key, domain.ParticipantConfirmingPix); err != nil {
		return nil, err
	}
	p.ScratchKey = key
	p.Status = domain.ParticipantConfirmingPix
	return p, nil
}

// ConfirmKey resolves the CONFIRMING_PIX step. On confirmation the
// scratch value becomes the user's pix key, the participant goes READY
// and the entry-fee charge is issued; the returned payment is non-nil
// only on that path. On decline the participant reverts to PENDING_PIX
// and the caller re-prompts for the key.
func (e *Engine) ConfirmKey(ctx context.Context, phone, matchID string, confirmed bool) (*gamedto.Payment, error) {
	user, err := e.store.UserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	p, err := e.store.Participant(ctx, matchID, user.ID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrParticipantGone
	}

	if !confirmed {
		if err := e.store.SetParticipantScratch(ctx, p.ID, "", domain.ParticipantPendingPix); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if strings.TrimSpace(p.ScratchKey) == "" {
		return nil, ErrNothingToConfirm
	}
	if err := e.store.ConfirmParticipantKey(ctx, p); err != nil {
		return nil, err
	}
	user.PixKey = p.ScratchKey
	e.logger.Info("pix_key_confirmed",
		zap.String("match_id", matchID),
		zap.String("user_id", user.ID),
	)
	return e.issueEntryFee(ctx, user, matchID)
}

// IssuePaymentForReady charges a joiner who already had a pix key on
// record, skipping the confirmation step.
func (e *Engine) IssuePaymentForReady(ctx context.Context, phone, matchID string) (*gamedto.Payment, error) {
	user, err := e.store.UserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return e.issueEntryFee(ctx, user, matchID)
}

// issueEntryFee is idempotent per (user, match): an existing PENDING
// entry-fee transaction is re-presented instead of charging again.
func (e *Engine) issueEntryFee(ctx context.Context, user *domain.User, matchID string) (*gamedto.Payment, error) {
	pending, err := e.store.PendingEntryFee(ctx, user.ID, matchID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		e.logger.Info("payment_reissue",
			zap.String("match_id", matchID),
			zap.String("user_id", user.ID),
			zap.String("transaction_id", pending.ID),
		)
		return &gamedto.Payment{
			CopiaCola:     pending.CopiaCola,
			TransactionID: pending.ID,
			Amount:        pending.Amount,
		}, nil
	}
	return e.gateway.CreateEntryFee(ctx, user, matchID, e.cfg.EntryFee)
}

// StartGame assigns the secret word and one impostor uniformly at random
// among READY participants and activates the match atomically.
func (e *Engine) StartGame(ctx context.Context, matchID string) (*gamedto.StartReport, error) {
	match, err := e.store.MatchByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}
	if match.Status != domain.MatchWaitingPayment {
		return nil, ErrAlreadyStarted
	}

	roster, err := e.store.Roster(ctx, matchID)
	if err != nil {
		return nil, err
	}
	var ready []store.Member
	for _, m := range roster {
		if m.Participant.Status == domain.ParticipantReady {
			ready = append(ready, m)
		}
	}
	if len(ready) < e.cfg.MinPlayers {
		return nil, ErrNotEnoughPlayers
	}

	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(ready))))
	if err != nil {
		return nil, err
	}
	impostor := ready[idx.Int64()]
	word, err := pickWord()
	if err != nil {
		return nil, err
	}

	if err := e.store.ActivateMatch(ctx, matchID, word, impostor.User.ID, impostor.Participant.ID); err != nil {
		return nil, err
	}

	report := &gamedto.StartReport{
		MatchID:    matchID,
		SecretWord: word,
		ImpostorID: impostor.User.ID,
		Players:    len(ready),
	}
	for _, m := range ready {
		report.HandOuts = append(report.HandOuts, gamedto.HandOut{
			UserID:   m.User.ID,
			Phone:    m.User.Phone,
			Name:     m.User.Name,
			Impostor: m.User.ID == impostor.User.ID,
		})
	}
	e.logger.Info("match_start",
		zap.String("match_id", matchID),
		zap.Int("players", len(ready)),
	)
	return report, nil
}

// MaybeStartOnSettlement starts the match once every READY participant
// has a completed entry fee and the quorum is met. Called after each
// settlement lands; returns (nil, nil) when the match is not ready yet.
func (e *Engine) MaybeStartOnSettlement(ctx context.Context, matchID string) (*gamedto.StartReport, error) {
	match, err := e.store.MatchByID(ctx, matchID)
	if err != nil || match == nil {
		return nil, err
	}
	if match.Status != domain.MatchWaitingPayment {
		return nil, nil
	}
	roster, err := e.store.Roster(ctx, matchID)
	if err != nil {
		return nil, err
	}
	ready := 0
	for _, m := range roster {
		if m.Participant.Status == domain.ParticipantReady {
			ready++
		}
	}
	if ready < e.cfg.MinPlayers {
		return nil, nil
	}
	paid, err := e.store.CountCompletedEntryFees(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if paid < ready {
		return nil, nil
	}
	report, err := e.StartGame(ctx, matchID)
	if errors.Is(err, ErrAlreadyStarted) {
		// A concurrent settlement won the race.
		return nil, nil
	}
	return report, err
}

// ProcessVote records an accusation against the participant whose display
// name contains the fragment (case-insensitive). Votes are append-only;
// tallying is out of scope.
func (e *Engine) ProcessVote(ctx context.Context, matchID, voterUserID, targetFragment string) (string, error) {
	roster, err := e.store.Roster(ctx, matchID)
	if err != nil {
		return "", err
	}
	frag := strings.ToLower(strings.TrimSpace(targetFragment))
	if frag == "" {
		return "", ErrNoSuchPlayer
	}
	var target *store.Member
	for i := range roster {
		if strings.Contains(strings.ToLower(roster[i].User.Name), frag) {
			target = &roster[i]
			break
		}
	}
	if target == nil {
		return "", ErrNoSuchPlayer
	}
	v := &domain.Vote{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		VoterID:   voterUserID,
		TargetID:  target.User.ID,
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateVote(ctx, v); err != nil {
		return "", err
	}
	e.logger.Info("vote_cast",
		zap.String("match_id", matchID),
		zap.String("voter_id", voterUserID),
		zap.String("target_id", target.User.ID),
	)
	return target.User.Name, nil
}

// ProcessGuess compares the guess against the secret word after trim and
// case folding. An exact match finishes the match; a miss changes nothing.
func (e *Engine) ProcessGuess(ctx context.Context, matchID, userID, guess string) (bool, error) {
	match, err := e.store.MatchByID(ctx, matchID)
	if err != nil {
		return false, err
	}
	if match == nil || match.SecretWord == "" {
		return false, ErrNoActiveGame
	}
	if match.Status != domain.MatchActive && match.Status != domain.MatchVoting {
		return false, ErrGameNotInProgress
	}
	if !strings.EqualFold(strings.TrimSpace(guess), strings.TrimSpace(match.SecretWord)) {
		return false, nil
	}
	if err := e.store.FinishMatch(ctx, matchID); err != nil {
		return false, err
	}
	e.logger.Info("match_finish",
		zap.String("match_id", matchID),
		zap.String("winner_id", userID),
	)
	return true, nil
}
