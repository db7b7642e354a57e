// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider names the mailbox backend.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// Config is the full service configuration.
type Config struct {
	Addr     string
	DBPath   string
	Provider Provider

	// Gmail offline credentials.
	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	// Microsoft Graph credentials.
	OutlookAccessToken string
	OutlookUserID      string

	// Optional integrations.
	NATSURL    string
	AuthSecret string

	SyncInterval   time.Duration
	AllowedOrigins []string
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:               ":" + getEnvString("PORT", "8000"),
		DBPath:             getEnvString("DB_PATH", "data/mailwatch.db"),
		Provider:           Provider(getEnvString("MAIL_PROVIDER", string(ProviderGoogle))),
		GmailClientID:      getEnvString("GMAIL_CLIENT_ID", ""),
		GmailClientSecret:  getEnvString("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:   getEnvString("GMAIL_REDIRECT_URI", ""),
		GmailRefreshToken:  getEnvString("GMAIL_REFRESH_TOKEN", ""),
		OutlookAccessToken: getEnvString("OUTLOOK_ACCESS_TOKEN", ""),
		OutlookUserID:      getEnvString("OUTLOOK_USER_ID", ""),
		NATSURL:            getEnvString("NATS_URL", ""),
		AuthSecret:         getEnvString("AUTH_SECRET", ""),
		SyncInterval:       getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		AllowedOrigins:     getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
	}
}

// Validate reports the required variables missing for the selected
// provider.
func (c Config) Validate() error {
	var missing []string

	switch c.Provider {
	case ProviderGoogle:
		for key, val := range map[string]string{
			"GMAIL_CLIENT_ID":     c.GmailClientID,
			"GMAIL_CLIENT_SECRET": c.GmailClientSecret,
			"GMAIL_REDIRECT_URI":  c.GmailRedirectURI,
			"GMAIL_REFRESH_TOKEN": c.GmailRefreshToken,
		} {
			if val == "" {
				missing = append(missing, key)
			}
		}
	case ProviderMicrosoft:
		if c.OutlookAccessToken == "" {
			missing = append(missing, "OUTLOOK_ACCESS_TOKEN")
		}
		if c.OutlookUserID == "" {
			missing = append(missing, "OUTLOOK_USER_ID")
		}
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		if len(items) > 0 {
			return items
		}
	}
	return fallback
}
