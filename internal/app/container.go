package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kapu/bilibili-danmaku-go/internal/config"
	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/internal/service/analysis"
	"github.com/kapu/bilibili-danmaku-go/internal/service/bilibili"
	"github.com/kapu/bilibili-danmaku-go/internal/service/cache"
	"github.com/kapu/bilibili-danmaku-go/internal/service/crawler"
	"github.com/kapu/bilibili-danmaku-go/internal/service/database"
	"github.com/kapu/bilibili-danmaku-go/internal/service/visualization"
	"github.com/kapu/bilibili-danmaku-go/internal/util"
	"go.uber.org/zap"
)

// Container bundles the assembled services a command needs. Heavy or
// optional pieces (segmenter dictionary, PostgreSQL) are created on demand.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Store   cache.BundleStore
	Client  *bilibili.Client
	API     *bilibili.API
	Crawler *crawler.Crawler

	closers []func()
}

// Build assembles the bundle store, the fetch client and the crawler. On
// error every resource opened so far is released.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	if err := cfg.Paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to prepare data directories: %w", err)
	}

	// Bundle store
	var store cache.BundleStore
	switch cfg.Storage.Backend {
	case config.StoreBackendRedis:
		redisStore, err := cache.NewRedisBundleStore(ctx, cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis bundle store: %w", err)
		}
		closers = append(closers, func() {
			_ = redisStore.Close()
		})
		store = redisStore
	default:
		store = cache.NewFileStore(cfg.Paths.RawDir, logger)
	}

	// Fetch client and platform API
	client := bilibili.NewClient(&http.Client{}, bilibili.ClientConfig{
		Timeout:        cfg.Crawler.RequestTimeout,
		MaxAttempts:    cfg.Crawler.MaxAttempts,
		PacingInterval: cfg.Crawler.PacingInterval,
		Headers:        cfg.Crawler.BuildHeaders(),
		Cookies:        cfg.Crawler.BuildCookies(time.Now()),
	}, logger)
	if cfg.Crawler.BreakerThreshold > 0 {
		client.WithBreaker(util.NewCircuitBreaker(cfg.Crawler.BreakerThreshold, cfg.Crawler.BreakerCooldown, logger))
	}
	api := bilibili.NewAPI(client, bilibili.DefaultEndpoints(), cfg.Crawler.Order, logger)

	crawlerSvc := crawler.NewCrawler(api, store, crawler.Config{
		PagesPerKeyword: cfg.Crawler.PagesPerKeyword,
		Concurrency:     cfg.Crawler.Concurrency,
		EnableCache:     cfg.Crawler.EnableCache,
	}, logger)

	logger.Info("Container ready",
		zap.String("store", cfg.Storage.Backend),
		zap.Strings("keywords", cfg.Crawler.Keywords),
		zap.Int("max_videos", cfg.Crawler.MaxVideos),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.Duration("pacing", cfg.Crawler.PacingInterval),
		zap.Bool("cookie", cfg.Crawler.Cookie != ""),
	)

	return &Container{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Client:  client,
		API:     api,
		Crawler: crawlerSvc,
		closers: closers,
	}, nil
}

// Crawl runs the configured keywords against the configured quota.
func (c *Container) Crawl(ctx context.Context) ([]*domain.VideoDanmakuBundle, crawler.Summary, error) {
	return c.Crawler.CrawlWithSummary(ctx, c.Config.Crawler.Keywords, c.Config.Crawler.MaxVideos)
}

// LoadBundles returns every stored bundle.
func (c *Container) LoadBundles(ctx context.Context) ([]*domain.VideoDanmakuBundle, error) {
	return c.Store.LoadAll(ctx)
}

// Analyze computes statistics and writes the workbook to path.
func (c *Container) Analyze(bundles []*domain.VideoDanmakuBundle, topN int, path string) (*analysis.Statistics, string, error) {
	stats, err := analysis.ComputeStatistics(bundles, topN)
	if err != nil {
		return nil, "", err
	}
	written, err := analysis.ExportExcel(stats, path)
	if err != nil {
		return nil, "", err
	}
	c.Logger.Info("Statistics exported",
		zap.String("path", written),
		zap.Int("rows", len(stats.Rows)),
		zap.Int("top_contents", len(stats.TopContents)),
	)
	return stats, written, nil
}

// NewWordCloud loads the segmenter dictionary and builds a renderer from
// the report settings.
func (c *Container) NewWordCloud(report config.ReportConfig) (*visualization.WordCloud, error) {
	tokenizer, err := visualization.NewGSETokenizer()
	if err != nil {
		return nil, err
	}
	renderer := visualization.NewRenderer(visualization.RenderConfig{
		Width:    report.Width,
		Height:   report.Height,
		FontPath: report.FontPath,
	}, c.Logger)
	return visualization.NewWordCloud(tokenizer, renderer, nil, c.Logger), nil
}

// NewDanmakuRepository connects to PostgreSQL and makes sure the schema
// exists. The connection is released by Close.
func (c *Container) NewDanmakuRepository(ctx context.Context) (*database.DanmakuRepository, error) {
	postgresSvc, err := database.NewPostgresService(database.PostgresConfig{
		Host:     c.Config.Postgres.Host,
		Port:     c.Config.Postgres.Port,
		User:     c.Config.Postgres.User,
		Password: c.Config.Postgres.Password,
		Database: c.Config.Postgres.Database,
		SSLMode:  c.Config.Postgres.SSLMode,
	}, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres service: %w", err)
	}
	c.closers = append(c.closers, func() {
		_ = postgresSvc.Close()
	})

	repo := database.NewDanmakuRepository(postgresSvc, c.Logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
