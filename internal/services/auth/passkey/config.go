package passkey

import (
	"time"

	"github.com/mate-community/mate/internal/platform/config"
)

// Intent describes the ceremony a challenge was issued for.
type Intent string

const (
	IntentRegistration Intent = "registration"
	IntentLogin        Intent = "login"
)

// DefaultRPDisplayName is the relying party name shown in authenticator prompts.
const DefaultRPDisplayName = "Mate Community"

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName   string        `env:"MATE_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID            string        `env:"MATE_WEBAUTHN_RP_ID"            envDefault:"localhost"`
	RPOrigins       []string      `env:"MATE_WEBAUTHN_RP_ORIGINS"       envSeparator:","`
	ChallengeTTL    time.Duration `env:"MATE_WEBAUTHN_CHALLENGE_TTL"    envDefault:"120s"`
	CeremonyTimeout time.Duration `env:"MATE_WEBAUTHN_CEREMONY_TIMEOUT" envDefault:"60s"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			RPDisplayName:   DefaultRPDisplayName,
			RPID:            "localhost",
			RPOrigins:       []string{"http://localhost:3000"},
			ChallengeTTL:    120 * time.Second,
			CeremonyTimeout: 60 * time.Second,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = DefaultRPDisplayName
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:3000"}
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 120 * time.Second
	}
	if cfg.CeremonyTimeout <= 0 {
		cfg.CeremonyTimeout = 60 * time.Second
	}
	return cfg
}
