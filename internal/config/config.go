package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr         string
	ClientOrigin string
	Env          string
	LogLevel     slog.Level
	// Company email domains gate mention notifications and suggestions.
	CompanyEmailDomains []string
	DirectoryFile       string
	// Optional directory backends; empty disables each one.
	RedisURL       string
	DatabaseURL    string
	MeiliURL       string
	MeiliMasterKey string
	// Socket transport
	SocketSendBuffer   int
	SocketPingInterval time.Duration
	SocketWriteTimeout time.Duration
	HubQueue           int
}

func Load() Config {
	return Config{
		Addr:                getenv("API_ADDR", ":"+getenv("PORT", "4000")),
		ClientOrigin:        getenv("CLIENT_ORIGIN", "http://localhost:3000"),
		Env:                 getenv("APP_ENV", "development"),
		LogLevel:            parseLevel(getenv("LOG_LEVEL", "info")),
		CompanyEmailDomains: getenvList("COMPANY_EMAIL_DOMAINS", []string{"company.dk", "example.dk"}),
		DirectoryFile:       getenv("DIRECTORY_FILE", ""),
		RedisURL:            getenv("REDIS_URL", ""),
		DatabaseURL:         getenv("DATABASE_URL", ""),
		MeiliURL:            getenv("MEILI_URL", ""),
		MeiliMasterKey:      getenv("MEILI_MASTER_KEY", ""),
		SocketSendBuffer:    getenvInt("SOCKET_SEND_BUFFER", 256),
		SocketPingInterval:  time.Duration(getenvInt("SOCKET_PING_INTERVAL_SECONDS", 25)) * time.Second,
		SocketWriteTimeout:  time.Duration(getenvInt("SOCKET_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		HubQueue:            getenvInt("HUB_QUEUE", 1024),
	}
}

// Production reports whether origin checks are enforced.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// AllowedOrigins is the client origin plus the local development hosts.
func (c Config) AllowedOrigins() []string {
	origins := []string{
		"http://localhost:3000",
		"http://localhost:4000",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:4000",
	}
	if origin := strings.TrimRight(strings.TrimSpace(c.ClientOrigin), "/"); origin != "" {
		origins = append([]string{origin}, origins...)
	}
	return origins
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getenvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
