// Package config loads daemon settings from the environment. Call
// LoadEnvFile(".env") before Load() to use a .env file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/snapetech/xtreamcache/internal/catalog"
	"github.com/snapetech/xtreamcache/internal/safeurl"
)

// Config holds provider credentials plus daemon tuning.
type Config struct {
	// Provider (Xtream player_api)
	ProviderURL  string // e.g. http://provider:8080
	ProviderUser string
	ProviderPass string

	// Daemon
	Listen string // HTTP control/query surface, e.g. :8085
	DBPath string // sqlite snapshot store

	// Refresh behaviour
	RefreshInterval time.Duration // 0 disables the periodic refresh
	RefreshOnStart  bool
	LiveOnly        bool // skip VOD and series (faster on large panels)

	// Transport tuning
	RateRPS     float64 // provider requests per second
	RateBurst   int
	HTTPTimeout time.Duration

	LogLevel string
}

// Load reads config from environment. If ProviderUser or ProviderPass are
// empty, Load tries XTREAMCACHE_SUBSCRIPTION_FILE (or the default glob) with
// "Username:" / "Password:" lines.
func Load() *Config {
	c := &Config{
		ProviderURL:     os.Getenv("XTREAMCACHE_PROVIDER_URL"),
		ProviderUser:    os.Getenv("XTREAMCACHE_PROVIDER_USER"),
		ProviderPass:    os.Getenv("XTREAMCACHE_PROVIDER_PASS"),
		Listen:          getEnv("XTREAMCACHE_LISTEN", ":8085"),
		DBPath:          getEnv("XTREAMCACHE_DB", "./xtreamcache.db"),
		RefreshInterval: getEnvDuration("XTREAMCACHE_REFRESH_INTERVAL", 12*time.Hour),
		RefreshOnStart:  getEnvBool("XTREAMCACHE_REFRESH_ON_START", true),
		LiveOnly:        getEnvBool("XTREAMCACHE_LIVE_ONLY", false),
		RateRPS:         getEnvFloat("XTREAMCACHE_RATE_RPS", 5),
		RateBurst:       getEnvInt("XTREAMCACHE_RATE_BURST", 1),
		HTTPTimeout:     getEnvDuration("XTREAMCACHE_HTTP_TIMEOUT", 90*time.Second),
		LogLevel:        os.Getenv("XTREAMCACHE_LOG_LEVEL"),
	}
	if c.RateRPS <= 0 {
		c.RateRPS = 5
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 90 * time.Second
	}
	if c.ProviderUser == "" || c.ProviderPass == "" {
		if user, pass, err := readSubscriptionFile(os.Getenv("XTREAMCACHE_SUBSCRIPTION_FILE")); err == nil {
			if c.ProviderUser == "" {
				c.ProviderUser = user
			}
			if c.ProviderPass == "" {
				c.ProviderPass = pass
			}
		}
	}
	return c
}

// Validate checks that the provider settings are usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ProviderURL) == "" {
		return fmt.Errorf("XTREAMCACHE_PROVIDER_URL required")
	}
	if !safeurl.IsHTTPOrHTTPS(c.ProviderURL) {
		return fmt.Errorf("provider URL must be http or https")
	}
	if c.ProviderUser == "" || c.ProviderPass == "" {
		return fmt.Errorf("provider credentials required (env or subscription file)")
	}
	return nil
}

// Kinds returns the content kinds to synchronize.
func (c *Config) Kinds() []catalog.Kind {
	if c.LiveOnly {
		return []catalog.Kind{catalog.KindLive}
	}
	return catalog.Kinds
}

// readSubscriptionFile reads "Username: x" and "Password: x" from path.
// When path is empty, globs ~/Documents/iptv.subscription.*.txt and uses the
// alphabetically last match (highest year), so the file keeps working across
// year-end renewals.
func readSubscriptionFile(path string) (user, pass string, err error) {
	if path == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return "", "", os.ErrNotExist
		}
		pattern := filepath.Join(home, "Documents", "iptv.subscription.*.txt")
		matches, globErr := filepath.Glob(pattern)
		if globErr != nil || len(matches) == 0 {
			return "", "", os.ErrNotExist
		}
		sort.Strings(matches)
		path = matches[len(matches)-1]
	}
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Username:") {
			user = strings.TrimSpace(strings.TrimPrefix(line, "Username:"))
		} else if strings.HasPrefix(line, "Password:") {
			pass = strings.TrimSpace(strings.TrimPrefix(line, "Password:"))
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	if user == "" || pass == "" {
		return "", "", fmt.Errorf("subscription file: missing Username or Password")
	}
	return user, pass, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
