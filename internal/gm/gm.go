// Package gm is the game master's language brain: it classifies incoming
// chat into structured intents and narrates game moments. Both operations
// degrade gracefully so a model outage never stalls a match.
package gm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/impostorpay/impostor-bot/pkg/gamedto"
)

// NarratorFiller is returned whenever narration fails.
const NarratorFiller = "Opa, deu um branco aqui no Mestre. Segue o jogo!"

const callTimeout = 8 * time.Second

// GameMaster turns free-form chat into intents and produces flavor text.
type GameMaster interface {
	// Classify never fails the pipeline: any model error or malformed
	// output collapses to a SOCIAL intent.
	Classify(ctx context.Context, message, situation string) *gamedto.Intent
	// Narrate returns flavor text for the situation, or the filler line.
	Narrate(ctx context.Context, situation string) string
}

// parseIntent decodes the model's JSON answer, tolerating markdown fences.
func parseIntent(raw string) (*gamedto.Intent, bool) {
	raw = stripFences(raw)
	var intent gamedto.Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, false
	}
	switch intent.Kind {
	case gamedto.KindNewGame, gamedto.KindGameAction, gamedto.KindDataEntry,
		gamedto.KindConfirmation, gamedto.KindSocial:
	default:
		return nil, false
	}
	return &intent, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
