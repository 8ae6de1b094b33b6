package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kapu/bilibili-danmaku-go/internal/constants"
)

const (
	StoreBackendFile  = "file"
	StoreBackendRedis = "redis"
)

type Config struct {
	Crawler  CrawlerConfig
	Paths    PathConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Report   ReportConfig
	Logging  LoggingConfig
}

type CrawlerConfig struct {
	Keywords         []string
	MaxVideos        int
	Order            string
	PagesPerKeyword  int // 0 disables the ceiling
	Concurrency      int
	RequestTimeout   time.Duration
	MaxAttempts      int
	PacingInterval   time.Duration
	EnableCache      bool
	BreakerThreshold int // consecutive rate-limited requests before failing fast; 0 disables
	BreakerCooldown  time.Duration
	UserAgent        string
	Referer          string
	AcceptLanguage   string
	Cookie           string
}

type PathConfig struct {
	DataDir      string
	RawDir       string
	ProcessedDir string
	ReportsDir   string
}

type StorageConfig struct {
	Backend string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type ReportConfig struct {
	TopN      int
	ExcelPath string
	ImagePath string
	FontPath  string
	Width     int
	Height    int
}

type LoggingConfig struct {
	Level string
	File  string
}

// Overrides carries command-line values. Nil pointers keep the loaded value.
type Overrides struct {
	MaxVideos       *int
	Concurrency     *int
	PacingInterval  *time.Duration
	PagesPerKeyword *int
	DisableCache    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DANMAKU_DATA_DIR", "data")
	reportsDir := getEnv("DANMAKU_REPORTS_DIR", filepath.Join(dataDir, "reports"))

	cfg := &Config{
		Crawler: CrawlerConfig{
			Keywords:         parseCommaSeparated(getEnv("DANMAKU_KEYWORDS", constants.CrawlerDefaults.Keywords)),
			MaxVideos:        getEnvInt("DANMAKU_MAX_VIDEOS", constants.CrawlerDefaults.MaxVideos),
			Order:            getEnv("DANMAKU_ORDER", constants.CrawlerDefaults.Order),
			PagesPerKeyword:  getEnvInt("DANMAKU_PAGES_PER_KEYWORD", 0),
			Concurrency:      getEnvInt("DANMAKU_CONCURRENCY", constants.CrawlerDefaults.Concurrency),
			RequestTimeout:   getEnvDuration("DANMAKU_REQUEST_TIMEOUT", constants.CrawlerDefaults.RequestTimeout),
			MaxAttempts:      getEnvInt("DANMAKU_RETRY_ATTEMPTS", constants.RetryConfig.MaxAttempts),
			PacingInterval:   getEnvSeconds("DANMAKU_SLEEP_INTERVAL", constants.CrawlerDefaults.PacingInterval),
			EnableCache:      getEnvBool("DANMAKU_ENABLE_CACHE", true),
			BreakerThreshold: getEnvInt("DANMAKU_BREAKER_THRESHOLD", constants.RetryConfig.BreakerThreshold),
			BreakerCooldown:  getEnvDuration("DANMAKU_BREAKER_COOLDOWN", constants.RetryConfig.BreakerCooldown),
			UserAgent:        getEnv("DANMAKU_USER_AGENT", constants.CrawlerDefaults.UserAgent),
			Referer:          getEnv("DANMAKU_REFERER", constants.CrawlerDefaults.Referer),
			AcceptLanguage:   getEnv("DANMAKU_ACCEPT_LANGUAGE", constants.CrawlerDefaults.AcceptLanguage),
			Cookie:           strings.TrimSpace(os.Getenv("BILIBILI_COOKIE")),
		},
		Paths: PathConfig{
			DataDir:      dataDir,
			RawDir:       getEnv("DANMAKU_RAW_DIR", filepath.Join(dataDir, "raw")),
			ProcessedDir: getEnv("DANMAKU_PROCESSED_DIR", filepath.Join(dataDir, "processed")),
			ReportsDir:   reportsDir,
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("DANMAKU_STORE", StoreBackendFile)),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "danmaku"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "danmaku"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Report: ReportConfig{
			TopN:      getEnvInt("DANMAKU_TOP_N", constants.ReportConfig.TopN),
			ExcelPath: getEnv("DANMAKU_EXCEL_PATH", filepath.Join(reportsDir, constants.ReportConfig.ExcelFileName)),
			ImagePath: getEnv("DANMAKU_IMAGE_PATH", filepath.Join(reportsDir, constants.ReportConfig.ImageFileName)),
			FontPath:  getEnv("DANMAKU_FONT_PATH", ""),
			Width:     getEnvInt("DANMAKU_IMAGE_WIDTH", constants.ReportConfig.ImageWidth),
			Height:    getEnvInt("DANMAKU_IMAGE_HEIGHT", constants.ReportConfig.ImageHeight),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Crawler.Keywords) == 0 {
		return fmt.Errorf("DANMAKU_KEYWORDS is required")
	}
	if c.Crawler.MaxVideos < 1 {
		return fmt.Errorf("max videos must be positive, got %d", c.Crawler.MaxVideos)
	}
	if c.Crawler.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Crawler.Concurrency)
	}
	if c.Crawler.MaxAttempts < 1 {
		return fmt.Errorf("retry attempts must be positive, got %d", c.Crawler.MaxAttempts)
	}
	if c.Crawler.PagesPerKeyword < 0 {
		return fmt.Errorf("pages per keyword must not be negative, got %d", c.Crawler.PagesPerKeyword)
	}
	if c.Crawler.PacingInterval < 0 {
		return fmt.Errorf("sleep interval must not be negative")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Crawler.BreakerThreshold < 0 {
		return fmt.Errorf("breaker threshold must not be negative, got %d", c.Crawler.BreakerThreshold)
	}
	if c.Paths.RawDir == "" {
		return fmt.Errorf("DANMAKU_RAW_DIR is required")
	}
	switch c.Storage.Backend {
	case StoreBackendFile, StoreBackendRedis:
	default:
		return fmt.Errorf("unknown DANMAKU_STORE backend %q", c.Storage.Backend)
	}
	if c.Report.TopN < 1 {
		return fmt.Errorf("top n must be positive, got %d", c.Report.TopN)
	}
	if c.Report.Width < 1 || c.Report.Height < 1 {
		return fmt.Errorf("image size must be positive, got %dx%d", c.Report.Width, c.Report.Height)
	}
	return nil
}

// WithOverrides returns a copy of c with the command-line values applied.
func (c Config) WithOverrides(o Overrides) (Config, error) {
	c.Crawler.Keywords = append([]string(nil), c.Crawler.Keywords...)
	if o.MaxVideos != nil {
		c.Crawler.MaxVideos = *o.MaxVideos
	}
	if o.Concurrency != nil {
		c.Crawler.Concurrency = *o.Concurrency
	}
	if o.PacingInterval != nil {
		c.Crawler.PacingInterval = *o.PacingInterval
	}
	if o.PagesPerKeyword != nil {
		c.Crawler.PagesPerKeyword = *o.PagesPerKeyword
	}
	if o.DisableCache {
		c.Crawler.EnableCache = false
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid overrides: %w", err)
	}
	return c, nil
}

// EnsureDirectories creates every data directory the pipeline writes to.
func (p PathConfig) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.RawDir, p.ProcessedDir, p.ReportsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (c CrawlerConfig) BuildHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      c.UserAgent,
		"Referer":         c.Referer,
		"Accept":          constants.CrawlerDefaults.Accept,
		"Accept-Language": c.AcceptLanguage,
		"Connection":      "keep-alive",
	}
}

// BuildCookies parses the session cookie string when one is configured,
// otherwise it returns an anonymous browser identity.
func (c CrawlerConfig) BuildCookies(now time.Time) map[string]string {
	jar := make(map[string]string)
	if c.Cookie != "" {
		for _, part := range strings.Split(c.Cookie, ";") {
			name, value, ok := strings.Cut(part, "=")
			if !ok || strings.TrimSpace(name) == "" {
				continue
			}
			jar[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
		return jar
	}

	deviceID := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	jar["buvid3"] = deviceID + "infoc"
	jar["b_nut"] = strconv.FormatInt(now.Unix(), 10)
	jar["i-wanna-go-back"] = "-1"
	return jar
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvSeconds reads a float number of seconds, e.g. "0.4".
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

func parseCommaSeparated(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
