package store

import (
	"context"
	"errors"

	"github.com/impostorpay/impostor-bot/internal/domain"
)

var (
	ErrDuplicateUser        = errors.New("user already exists for phone")
	ErrDuplicateParticipant = errors.New("participant already exists for match and user")
	ErrCodeTaken            = errors.New("match code already taken")
	ErrNotFound             = errors.New("record not found")
)

// Member pairs a participant row with its user for roster operations.
type Member struct {
	Participant domain.Participant
	User        domain.User
}

// Store is the entity store capability the engine and router depend on.
// Lookups return (nil, nil) when the record is absent; uniqueness
// violations surface as the sentinel errors above so callers can treat a
// racing create as an ordinary "already exists".
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u *domain.User) error
	UserByPhone(ctx context.Context, phone string) (*domain.User, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)

	// Matches. CreateMatch persists the match and its creator participant
	// atomically; a code collision returns ErrCodeTaken.
	CreateMatch(ctx context.Context, m *domain.Match, creator *domain.Participant) error
	MatchByID(ctx context.Context, id string) (*domain.Match, error)
	MatchByCode(ctx context.Context, code string) (*domain.Match, error)
	FindOpenMatch(ctx context.Context) (*domain.Match, error)
	FinishMatch(ctx context.Context, id string) error

	// Participants.
	CreateParticipant(ctx context.Context, p *domain.Participant) error
	Participant(ctx context.Context, matchID, userID string) (*domain.Participant, error)
	// ActiveParticipantByPhone finds the user's participant row in a
	// non-terminal match, together with that match.
	ActiveParticipantByPhone(ctx context.Context, phone string) (*domain.Participant, *domain.Match, error)
	SetParticipantScratch(ctx context.Context, participantID, scratch string, status domain.ParticipantStatus) error
	Roster(ctx context.Context, matchID string) ([]Member, error)

	// ConfirmParticipantKey atomically writes the scratch key onto the
	// user's pix key, marks the participant READY and clears the scratch.
	ConfirmParticipantKey(ctx context.Context, p *domain.Participant) error

	// ActivateMatch atomically sets the secret word, impostor and ACTIVE
	// status on the match and the IMPOSTOR role on the chosen participant.
	ActivateMatch(ctx context.Context, matchID, secretWord, impostorUserID, impostorParticipantID string) error

	// Transactions.
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	AttachProviderData(ctx context.Context, id, externalID, copiaCola string) error
	PendingEntryFee(ctx context.Context, userID, matchID string) (*domain.Transaction, error)
	TransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	// CompleteSettlement flips a PENDING transaction to COMPLETED and
	// increments the match pot in the same commit. The returned bool is
	// false when the transaction was already COMPLETED (no-op replay).
	CompleteSettlement(ctx context.Context, externalID string) (*domain.Transaction, bool, error)
	CountCompletedEntryFees(ctx context.Context, matchID string) (int, error)

	// Votes are append-only.
	CreateVote(ctx context.Context, v *domain.Vote) error
}
