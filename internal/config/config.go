package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fenixbot/internal/domain"
	"fenixbot/internal/security/secretbox"
)

const encryptedPrefix = "enc:"

type Config struct {
	AppEnv            string
	ListenAddr        string
	StoreMode         string
	DatabaseURL       string
	LogLevel          string
	LogFormat         string
	AdminUsername     string
	AdminPassword     string
	JWTSecret         string
	WebhookSecret     string
	BotAccounts       string
	BotSecretsKey     string
	PlatformBaseURL   string
	InspectBaseURL    string
	PlatformTimeout   time.Duration
	PlatformRate      float64
	PlatformAppID     int
	PlatformContextID string
	OfferMessage      string
	DispatchInterval  time.Duration
	SweepInterval     time.Duration
	OfferDeadline     time.Duration
	LoginCooldown     time.Duration
	OfferPollInterval time.Duration
	DeclineIncoming   bool
	EventRetryDelay   time.Duration
	EventMaxAttempts  int
	EventDedupTTL     time.Duration
	ListingStoreMode  string
	ListingStoreURL   string
	ListingTimeout    time.Duration
	ListingMaxRetries int
	ListingRetryBase  time.Duration
	ListingRetryMax   time.Duration
	TelegramBotToken  string
	TelegramChatID    string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
}

func Load() Config {
	return Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":18080"),
		StoreMode:         getEnv("STORE_MODE", "postgres"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		LogLevel:          getEnv("LOG_LEVEL", ""),
		LogFormat:         getEnv("LOG_FORMAT", ""),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:         getEnv("JWT_SECRET", "change-this-secret"),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		BotAccounts:       getEnv("BOT_ACCOUNTS", "[]"),
		BotSecretsKey:     getEnv("BOT_SECRETS_KEY", ""),
		PlatformBaseURL:   getEnv("PLATFORM_BASE_URL", "https://api.trade.example.com"),
		InspectBaseURL:    getEnv("INSPECT_BASE_URL", "https://inspect.trade.example.com"),
		PlatformTimeout:   getDuration("PLATFORM_TIMEOUT", 15*time.Second),
		PlatformRate:      getFloat("PLATFORM_RATE_PER_SEC", 1.0),
		PlatformAppID:     getInt("PLATFORM_APP_ID", 730),
		PlatformContextID: getEnv("PLATFORM_CONTEXT_ID", "2"),
		OfferMessage:      getEnv("OFFER_MESSAGE", "Trade for selling your item on FenixStore"),
		DispatchInterval:  getDuration("DISPATCH_INTERVAL", time.Minute),
		SweepInterval:     getDuration("SWEEP_INTERVAL", time.Minute),
		OfferDeadline:     getDuration("OFFER_DEADLINE", 10*time.Minute),
		LoginCooldown:     getDuration("LOGIN_COOLDOWN", 30*time.Minute),
		OfferPollInterval: getDuration("OFFER_POLL_INTERVAL", 10*time.Second),
		DeclineIncoming:   getBool("DECLINE_INCOMING_OFFERS", true),
		EventRetryDelay:   getDuration("EVENT_RETRY_DELAY", 30*time.Second),
		EventMaxAttempts:  getInt("EVENT_MAX_ATTEMPTS", 5),
		EventDedupTTL:     getDuration("EVENT_DEDUP_TTL", time.Hour),
		ListingStoreMode:  getEnv("LISTING_STORE_MODE", "postgres"),
		ListingStoreURL:   getEnv("LISTING_STORE_URL", ""),
		ListingTimeout:    getDuration("LISTING_TIMEOUT", 5*time.Second),
		ListingMaxRetries: getInt("LISTING_MAX_RETRIES", 3),
		ListingRetryBase:  getDuration("LISTING_RETRY_BASE", 500*time.Millisecond),
		ListingRetryMax:   getDuration("LISTING_RETRY_MAX", 5*time.Second),
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getInt("REDIS_DB", 0),
	}
}

// BotIdentities parses BOT_ACCOUNTS. Password and secrets may be stored as
// "enc:<base64>" and are then decrypted with BOT_SECRETS_KEY.
func (c Config) BotIdentities() ([]domain.BotIdentity, error) {
	raw := strings.TrimSpace(c.BotAccounts)
	if raw == "" {
		return nil, nil
	}
	var bots []domain.BotIdentity
	if err := json.Unmarshal([]byte(raw), &bots); err != nil {
		return nil, fmt.Errorf("parse BOT_ACCOUNTS: %w", err)
	}

	var box *secretbox.Box
	seen := make(map[string]bool, len(bots))
	for i := range bots {
		b := &bots[i]
		if b.ID == "" || b.AccountName == "" {
			return nil, fmt.Errorf("bot account %d: id and account_name are required", i)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("bot account %d: duplicate id %s", i, b.ID)
		}
		seen[b.ID] = true
		for _, field := range []*string{&b.Password, &b.SharedSecret, &b.IdentitySecret} {
			if !strings.HasPrefix(*field, encryptedPrefix) {
				continue
			}
			if box == nil {
				var err error
				box, err = secretbox.New(c.BotSecretsKey)
				if err != nil {
					return nil, err
				}
			}
			plain, err := box.Decrypt(strings.TrimPrefix(*field, encryptedPrefix))
			if err != nil {
				return nil, fmt.Errorf("bot %s: decrypt secret: %w", b.ID, err)
			}
			*field = plain
		}
	}
	return bots, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
