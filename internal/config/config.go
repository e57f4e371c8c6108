package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration required by the service.
type Config struct {
	DBURL string
	Addr  string

	// DashboardTokens maps a dashboard bearer token to the user id it
	// authenticates as. Session auth proper lives outside this service.
	DashboardTokens map[string]int64

	// AdminToken guards the operational endpoints (manual retention run,
	// package-count sync).
	AdminToken string

	// RetentionDays is the free-tier raw-event retention window.
	RetentionDays int
}

// Load reads required values from environment variables, with a local
// .env file honored for development.
//
// DASHBOARD_TOKENS format: "token1:42,token2:7" (token → user id).
func Load() (Config, error) {
	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DB_URL"))
	if dbURL == "" {
		return Config{}, errors.New("DB_URL required")
	}

	addr := strings.TrimSpace(os.Getenv("ADDR"))
	if addr == "" {
		addr = ":8080"
	}

	tokens, err := parseDashboardTokens(os.Getenv("DASHBOARD_TOKENS"))
	if err != nil {
		return Config{}, err
	}

	retentionDays := 30
	if v := strings.TrimSpace(os.Getenv("RETENTION_DAYS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.New("RETENTION_DAYS must be a positive integer")
		}
		retentionDays = n
	}

	return Config{
		DBURL:           dbURL,
		Addr:            addr,
		DashboardTokens: tokens,
		AdminToken:      strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		RetentionDays:   retentionDays,
	}, nil
}

func parseDashboardTokens(raw string) (map[string]int64, error) {
	tokens := map[string]int64{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return tokens, nil
	}

	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`DASHBOARD_TOKENS must be "token:userid,token:userid"`)
		}
		token := strings.TrimSpace(parts[0])
		userID, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if token == "" || err != nil {
			return nil, errors.New(`DASHBOARD_TOKENS must be "token:userid,token:userid"`)
		}
		tokens[token] = userID
	}
	return tokens, nil
}
