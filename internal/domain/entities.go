package domain

import "time"

// MatchStatus is the lifecycle of one game round.
type MatchStatus string

const (
	MatchWaitingPayment MatchStatus = "WAITING_PAYMENT"
	MatchActive         MatchStatus = "ACTIVE"
	MatchVoting         MatchStatus = "VOTING"
	MatchFinished       MatchStatus = "FINISHED"
)

// Terminal reports whether the match can no longer change.
func (s MatchStatus) Terminal() bool { return s == MatchFinished }

// ParticipantStatus models the payment-onboarding steps a player walks
// through before being eligible for role assignment.
type ParticipantStatus string

const (
	ParticipantPendingPix    ParticipantStatus = "PENDING_PIX"
	ParticipantConfirmingPix ParticipantStatus = "CONFIRMING_PIX"
	ParticipantReady         ParticipantStatus = "READY"
)

// Role is assigned once, at game start.
type Role string

const (
	RoleNone     Role = "NONE"
	RoleImpostor Role = "IMPOSTOR"
)

// TransactionStatus tracks a pix charge.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
)

// TransactionType currently only covers the entry fee.
type TransactionType string

const TransactionEntryFee TransactionType = "ENTRY_FEE"

// CodeAlphabet excludes look-alike characters (no I/O/0/1).
const (
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6
)

// User is created on first contact. PixKey is only ever written through
// the confirm-key transition.
type User struct {
	ID        string
	Phone     string
	Name      string
	PixKey    string
	CreatedAt time.Time
}

// Match is one round of the game, joined by code. Pot is in centavos.
type Match struct {
	ID         string
	Code       string
	Status     MatchStatus
	Pot        int64
	SecretWord string
	ImpostorID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Participant is the (match, user) membership row. ScratchKey holds an
// unconfirmed pix key while the player is in CONFIRMING_PIX.
type Participant struct {
	ID         string
	MatchID    string
	UserID     string
	Status     ParticipantStatus
	ScratchKey string
	Role       Role
	CreatedAt  time.Time
}

// Transaction is one payment attempt. ExternalID is the provider's
// payment id used to correlate the settlement webhook. CopiaCola is kept
// so a repeated join re-presents the same pending charge instead of
// creating a new one.
type Transaction struct {
	ID         string
	UserID     string
	MatchID    string
	Amount     int64
	Type       TransactionType
	Status     TransactionStatus
	ExternalID string
	CopiaCola  string
	CreatedAt  time.Time
}

// Vote is an append-only accusation record. Multiple votes per voter are
// allowed; tallying is not part of this engine.
type Vote struct {
	ID        string
	MatchID   string
	VoterID   string
	TargetID  string
	CreatedAt time.Time
}
