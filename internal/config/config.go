// Package config handles loading and validating configuration from environment variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// ServerAddr is the HTTP listen address (e.g., :80, :8080).
	ServerAddr string
	// PublicURL is the HTTPS base URL the gateway is reachable at.
	PublicURL string
	// CORSOrigins lists allowed CORS origins. "*" is permitted in dev.
	CORSOrigins []string
	// DatabasePath is the SQLite file backing the credential registry.
	DatabasePath string
	// SecretKey guards internal administrative endpoints (key generation).
	SecretKey string
	// JWTSecretKey signs gateway session tokens (consumed by the OAuth module).
	JWTSecretKey string
	// LinkedIn OAuth app credentials. Only their presence matters to the core.
	LinkedInClientID     string
	LinkedInClientSecret string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is json or console.
	LogFormat string
	// Edition is one of core, saas, enterprise.
	Edition string
	// Channel is the release channel reported by /api/v1/server/info.
	Channel string
	// ServerName is the human label reported by /api/v1/server/info.
	ServerName string
	// IsDefaultServer marks the vendor-operated default server in
	// /api/v1/server/info.
	IsDefaultServer bool
	// QueryIDs are LinkedIn GraphQL query ids. LinkedIn rotates these, so
	// they are overridable per deployment.
	QueryIDs QueryIDs
	// ProxyTimeout bounds a single extension-side request.
	ProxyTimeout time.Duration
}

// QueryIDs holds the per-endpoint LinkedIn GraphQL query ids.
type QueryIDs struct {
	Comments       string
	Reactions      string
	ProfileUpdates string
	Feed           string
}

const (
	defaultQueryIDComments       = "voyagerSocialDashComments.8e33a53eeeceec57d94d739fc0b3bb89"
	defaultQueryIDReactions      = "voyagerSocialDashReactions.8f7f31b9c9e71a4ae1dff5d70bb2cd33"
	defaultQueryIDProfileUpdates = "voyagerFeedDashProfileUpdates.42f02e5e40394bc5e0523b4d2e69e3e1"
	defaultQueryIDFeed           = "voyagerFeedDashMainFeed.5a8c8d69b4c9f8ce6b17ee3f0e9d3cf0"
)

// Load reads configuration from environment variables.
// It loads .env file if present, but environment variables take precedence.
func Load() (*Config, error) {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddr:           os.Getenv("SERVER_ADDR"),
		PublicURL:            strings.TrimSpace(os.Getenv("PUBLIC_URL")),
		CORSOrigins:          parseCSV(os.Getenv("CORS_ORIGINS")),
		DatabasePath:         os.Getenv("DATABASE_PATH"),
		SecretKey:            os.Getenv("SECRET_KEY"),
		JWTSecretKey:         os.Getenv("JWT_SECRET_KEY"),
		LinkedInClientID:     os.Getenv("LINKEDIN_CLIENT_ID"),
		LinkedInClientSecret: os.Getenv("LINKEDIN_CLIENT_SECRET"),
		LogLevel:             os.Getenv("LOG_LEVEL"),
		LogFormat:            os.Getenv("LOG_FORMAT"),
		Edition:              strings.ToLower(strings.TrimSpace(os.Getenv("SERVER_EDITION"))),
		Channel:              os.Getenv("SERVER_CHANNEL"),
		ServerName:           os.Getenv("SERVER_NAME"),
		QueryIDs: QueryIDs{
			Comments:       os.Getenv("LINKEDIN_QUERY_ID_COMMENTS"),
			Reactions:      os.Getenv("LINKEDIN_QUERY_ID_REACTIONS"),
			ProfileUpdates: os.Getenv("LINKEDIN_QUERY_ID_PROFILE_UPDATES"),
			Feed:           os.Getenv("LINKEDIN_QUERY_ID_FEED"),
		},
	}
	cfg.ProxyTimeout = parseDurationEnv("PROXY_TIMEOUT", 60*time.Second)
	cfg.IsDefaultServer = parseBoolEnv("SERVER_IS_DEFAULT", false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and fills in defaults.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "gateway.db"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	switch c.Edition {
	case "":
		c.Edition = "core"
	case "core", "saas", "enterprise":
	default:
		return errors.New("SERVER_EDITION must be one of core, saas, enterprise")
	}
	if c.Channel == "" {
		c.Channel = "stable"
	}
	if c.ServerName == "" {
		c.ServerName = "linkedin-gateway"
	}
	if c.QueryIDs.Comments == "" {
		c.QueryIDs.Comments = defaultQueryIDComments
	}
	if c.QueryIDs.Reactions == "" {
		c.QueryIDs.Reactions = defaultQueryIDReactions
	}
	if c.QueryIDs.ProfileUpdates == "" {
		c.QueryIDs.ProfileUpdates = defaultQueryIDProfileUpdates
	}
	if c.QueryIDs.Feed == "" {
		c.QueryIDs.Feed = defaultQueryIDFeed
	}
	// LinkedIn OAuth credentials are optional - the config-status probe
	// reports whether they are set.
	return nil
}

// ServerCallAllowed reports whether this edition permits server-side
// (direct) execution of LinkedIn requests. SaaS deployments force all
// traffic through the caller's browser extension.
func (c *Config) ServerCallAllowed() bool {
	return c.Edition != "saas"
}

// LinkedInOAuthConfigured reports whether the OAuth app credentials are set.
func (c *Config) LinkedInOAuthConfigured() bool {
	return c.LinkedInClientID != "" && c.LinkedInClientSecret != ""
}

func parseCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
