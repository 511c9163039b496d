package gamedto

// IntentKind is the top-level classification of an inbound message.
type IntentKind string

const (
	KindNewGame      IntentKind = "NEW_GAME"
	KindGameAction   IntentKind = "GAME_ACTION"
	KindDataEntry    IntentKind = "DATA_ENTRY"
	KindConfirmation IntentKind = "CONFIRMATION"
	KindSocial       IntentKind = "SOCIAL"
)

// GameAction refines KindGameAction.
type GameAction string

const (
	ActionVote  GameAction = "VOTE"
	ActionGuess GameAction = "GUESS_WORD"
	ActionJoin  GameAction = "JOIN"
)

// Intent is the classifier's structured output. Fields are optional
// depending on Kind: Target carries a player name, guessed word or match
// code; Data carries an extracted pix key; Confirmed carries a yes/no.
type Intent struct {
	Kind      IntentKind `json:"type"`
	Action    GameAction `json:"action,omitempty"`
	Target    string     `json:"target,omitempty"`
	Data      string     `json:"data,omitempty"`
	Confirmed *bool      `json:"confirmed,omitempty"`
}

// IsConfirmed resolves the optional Confirmed field, defaulting to false.
func (i Intent) IsConfirmed() bool { return i.Confirmed != nil && *i.Confirmed }

// SocialIntent is the degraded-mode fallback when classification fails.
func SocialIntent() Intent { return Intent{Kind: KindSocial} }
