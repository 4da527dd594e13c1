package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the companion
type Config struct {
	Environment string
	LogLevel    string
	Host        HostConfig
	Redis       RedisConfig
	Module      ModuleConfig
	Discord     DiscordConfig
}

// HostConfig holds the connection settings for the tabletop host
type HostConfig struct {
	URL   string // websocket endpoint of the host bridge
	Token string // session token, optional depending on host setup
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ModuleConfig holds the tunable behavior of the companion itself.
// These were hardcoded constants once; they are named parameters now.
type ModuleConfig struct {
	// Channel is the broadcast topic shared by all connected clients
	Channel string

	// SettleDelay is how long to wait after a roll completes before
	// touching the action message, so the host's own update lands first
	SettleDelay time.Duration

	// AuraRange is the trigger radius in scene distance units
	AuraRange float64

	// AuraDice is the dice expression rolled for the temp HP grant
	AuraDice string

	// AuraActorName / AuraSubclass select which entity triggers the aura
	AuraActorName string
	AuraSubclass  string

	// AuraScaleTrait, when set, replaces the dice roll with the named
	// numeric trait of the triggering actor
	AuraScaleTrait string

	// AuraAllowSelf lets the triggering actor receive its own grant
	AuraAllowSelf bool
}

// DiscordConfig holds the optional out-of-band report mirror settings
type DiscordConfig struct {
	Token     string
	ChannelID string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		Host: HostConfig{
			URL:   os.Getenv("HOST_WS_URL"),
			Token: os.Getenv("HOST_TOKEN"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvAsIntOrDefault("REDIS_DB", 0),
		},
		Module: ModuleConfig{
			Channel:        getEnvOrDefault("MODULE_CHANNEL", "module.companion"),
			SettleDelay:    time.Duration(getEnvAsIntOrDefault("SETTLE_DELAY_MS", 200)) * time.Millisecond,
			AuraRange:      getEnvAsFloatOrDefault("AURA_RANGE", 10),
			AuraDice:       getEnvOrDefault("AURA_DICE", "2d6"),
			AuraActorName:  os.Getenv("AURA_ACTOR_NAME"),
			AuraSubclass:   os.Getenv("AURA_SUBCLASS"),
			AuraScaleTrait: os.Getenv("AURA_SCALE_TRAIT"),
			AuraAllowSelf:  getEnvAsBoolOrDefault("AURA_ALLOW_SELF", false),
		},
		Discord: DiscordConfig{
			Token:     os.Getenv("DISCORD_TOKEN"),
			ChannelID: os.Getenv("DISCORD_CHANNEL_ID"),
		},
	}

	// Validate required fields
	if cfg.Host.URL == "" {
		return nil, fmt.Errorf("HOST_WS_URL is required")
	}
	if cfg.Module.SettleDelay < 0 {
		return nil, fmt.Errorf("SETTLE_DELAY_MS must not be negative")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
