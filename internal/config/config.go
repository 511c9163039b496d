package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	ListenAddr string

	WAHABaseURL string
	WAHAAPIKey  string
	WAHASession string
	WAHAWSURL   string
	IngestMode  string // webhook | ws
	DryRun      bool

	DatabaseURL string
	RedisURL    string

	GeminiAPIKey string
	GeminiModel  string

	MPAccessToken string
	MPBaseURL     string
	PublicBaseURL string // settlement webhook callback base

	EntryFeeCentavos int64
	MinPlayers       int

	AdminToken string

	AllowedChats []string
}

func Load() (*AppConfig, error) {
	// Local development convenience; absence of a .env file is fine.
	_ = godotenv.Load()

	cfg := &AppConfig{
		ListenAddr:       ":8080",
		WAHASession:      "default",
		IngestMode:       "webhook",
		GeminiModel:      "gemini-2.0-flash",
		MPBaseURL:        "https://api.mercadopago.com",
		EntryFeeCentavos: 1500,
		MinPlayers:       3,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	cfg.WAHABaseURL = strings.TrimSpace(os.Getenv("WAHA_API_URL"))
	cfg.WAHAAPIKey = strings.TrimSpace(os.Getenv("WAHA_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("WAHA_SESSION")); v != "" {
		cfg.WAHASession = v
	}
	cfg.WAHAWSURL = strings.TrimSpace(os.Getenv("WAHA_WS_URL"))
	if v := strings.TrimSpace(os.Getenv("INGEST_MODE")); v != "" {
		cfg.IngestMode = v
	}
	if v := strings.TrimSpace(os.Getenv("DRY_RUN")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		cfg.GeminiModel = v
	}

	cfg.MPAccessToken = strings.TrimSpace(os.Getenv("MERCADOPAGO_ACCESS_TOKEN"))
	if v := strings.TrimSpace(os.Getenv("MERCADOPAGO_BASE_URL")); v != "" {
		cfg.MPBaseURL = v
	}
	cfg.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))

	if v := strings.TrimSpace(os.Getenv("ENTRY_FEE_CENTAVOS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.EntryFeeCentavos = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MIN_PLAYERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			cfg.MinPlayers = n
		}
	}

	cfg.AdminToken = strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_CHATS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedChats = append(cfg.AllowedChats, s)
			}
		}
	}

	if cfg.WAHABaseURL == "" {
		return nil, errors.New("WAHA_API_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}
