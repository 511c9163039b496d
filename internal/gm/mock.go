package gm

import (
	"context"
	"regexp"
	"strings"

	"github.com/impostorpay/impostor-bot/pkg/gamedto"
)

// Mock is a deterministic keyword classifier used when no API key is
// configured. It keeps local runs and tests fully offline.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

var (
	codeShape   = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`)
	pixPhone    = regexp.MustCompile(`^\+?\d{10,14}$`)
	pixCPFShape = regexp.MustCompile(`^\d{3}\.?\d{3}\.?\d{3}-?\d{2}$`)
)

func (Mock) Classify(_ context.Context, message, _ string) *gamedto.Intent {
	text := strings.TrimSpace(message)
	lower := strings.ToLower(text)

	if code := strings.ToUpper(text); codeShape.MatchString(code) {
		return &gamedto.Intent{Kind: gamedto.KindGameAction, Action: gamedto.ActionJoin, Target: code}
	}

	for _, kw := range []string{"bora jogar", "novo jogo", "nova partida", "começar um jogo", "quero jogar"} {
		if strings.Contains(lower, kw) {
			return &gamedto.Intent{Kind: gamedto.KindNewGame}
		}
	}

	if rest, ok := cutAny(lower, "voto no ", "voto na ", "voto em ", "vote em "); ok {
		return &gamedto.Intent{Kind: gamedto.KindGameAction, Action: gamedto.ActionVote, Target: firstWord(rest)}
	}

	if rest, ok := cutAny(lower, "a palavra é ", "a palavra e ", "chuto "); ok {
		return &gamedto.Intent{Kind: gamedto.KindGameAction, Action: gamedto.ActionGuess, Target: firstWord(rest)}
	}

	if isPixKeyShape(text) {
		return &gamedto.Intent{Kind: gamedto.KindDataEntry, Data: text}
	}

	switch lower {
	case "sim", "s", "confirmo", "isso", "correto", "certo":
		yes := true
		return &gamedto.Intent{Kind: gamedto.KindConfirmation, Confirmed: &yes}
	case "não", "nao", "n", "errado", "errada":
		no := false
		return &gamedto.Intent{Kind: gamedto.KindConfirmation, Confirmed: &no}
	}

	fallback := gamedto.SocialIntent()
	return &fallback
}

func (Mock) Narrate(_ context.Context, _ string) string { return NarratorFiller }

func isPixKeyShape(text string) bool {
	if strings.Contains(text, " ") {
		return false
	}
	if strings.Contains(text, "@") && strings.Contains(text, ".") {
		return true
	}
	return pixPhone.MatchString(text) || pixCPFShape.MatchString(text)
}

func cutAny(s string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if i := strings.Index(s, p); i >= 0 {
			return s[i+len(p):], true
		}
	}
	return "", false
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, ".,!?")
}
