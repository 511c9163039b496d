package gm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/impostorpay/impostor-bot/pkg/gamedto"
)

const classifyPrompt = `Você é o Mestre de um jogo de impostor por WhatsApp.
Classifique a mensagem do jogador em JSON, sem nenhum texto extra.

Esquema:
{"type":"NEW_GAME|GAME_ACTION|DATA_ENTRY|CONFIRMATION|SOCIAL","action":"VOTE|GUESS_WORD|JOIN","target":"...","data":"...","confirmed":true}

Regras:
- NEW_GAME: o jogador quer começar uma partida nova.
- GAME_ACTION action=JOIN: o jogador mandou um código de partida de 6 caracteres; coloque o código em "target".
- GAME_ACTION action=VOTE: o jogador vota em alguém; coloque o nome em "target".
- GAME_ACTION action=GUESS_WORD: o jogador chuta a palavra secreta; coloque o chute em "target".
- DATA_ENTRY: o jogador mandou uma chave pix (email, CPF ou telefone); coloque a chave em "data".
- CONFIRMATION: o jogador respondeu sim/não; preencha "confirmed".
- SOCIAL: qualquer outra coisa.

Situação atual do jogador: %s
Mensagem: %s`

const narratePrompt = `Você é o Mestre carismático de um jogo de impostor por
WhatsApp entre amigos brasileiros. Em até duas frases curtas, narre a cena a
seguir com humor leve. Responda só com a narração.

Cena: %s`

// Gemini classifies and narrates through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

func (g *Gemini) Classify(ctx context.Context, message, situation string) *gamedto.Intent {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	prompt := fmt.Sprintf(classifyPrompt, situation, message)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		g.logger.Warn("classify_failed", zap.Error(err))
		fallback := gamedto.SocialIntent()
		return &fallback
	}

	intent, ok := parseIntent(resp.Text())
	if !ok {
		g.logger.Warn("classify_unparseable", zap.String("raw", resp.Text()))
		fallback := gamedto.SocialIntent()
		return &fallback
	}
	return intent
}

func (g *Gemini) Narrate(ctx context.Context, situation string) string {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	prompt := fmt.Sprintf(narratePrompt, situation)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.9),
	})
	if err != nil {
		g.logger.Warn("narrate_failed", zap.Error(err))
		return NarratorFiller
	}
	text := resp.Text()
	if text == "" {
		return NarratorFiller
	}
	return text
}
