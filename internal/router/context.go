package router

import (
	"context"
	"fmt"

	"github.com/impostorpay/impostor-bot/internal/domain"
	"github.com/impostorpay/impostor-bot/internal/store"
)

// Snapshot is the sender's game state re-read from storage for one
// message. Situation is the classifier's only view of that state.
type Snapshot struct {
	Situation   string
	Participant *domain.Participant
	Match       *domain.Match
	OpenMatch   *domain.Match
}

// BuildContext derives the sender's situation by priority: an owed pix
// key, an owed confirmation, membership in a live match, a joinable match
// somewhere, or nothing. Never cached; state can move between messages.
func BuildContext(ctx context.Context, st store.Store, phone string) (*Snapshot, error) {
	participant, match, err := st.ActiveParticipantByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	if participant != nil {
		snap := &Snapshot{Participant: participant, Match: match}
		switch participant.Status {
		case domain.ParticipantPendingPix:
			snap.Situation = "awaiting payment key"
		case domain.ParticipantConfirmingPix:
			snap.Situation = fmt.Sprintf("awaiting confirmation of key %q", participant.ScratchKey)
		default:
			snap.Situation = fmt.Sprintf("active match %s (code %s), status %s",
				match.ID, match.Code, match.Status)
		}
		return snap, nil
	}

	open, err := st.FindOpenMatch(ctx)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return &Snapshot{OpenMatch: open, Situation: "a match is waiting to be joined"}, nil
	}
	return &Snapshot{Situation: "no active game"}, nil
}
