package crawler

import (
	"context"
	"fmt"

	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/internal/service/bilibili"
	"github.com/kapu/bilibili-danmaku-go/internal/service/cache"
	"github.com/kapu/bilibili-danmaku-go/internal/util"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// VideoAPI is the subset of the platform API the crawler drives.
type VideoAPI interface {
	Search(ctx context.Context, keyword string, page int) ([]bilibili.SearchHit, error)
	View(ctx context.Context, bvid string) (*bilibili.ViewData, error)
	DanmakuXML(ctx context.Context, cid int64, bvid string) ([]byte, error)
}

type Config struct {
	PagesPerKeyword int // 0 means no page ceiling
	Concurrency     int
	EnableCache     bool
}

// Target is a unique video found during discovery.
type Target struct {
	BVID    string
	Keyword string
	Title   string
	Rank    int
}

// Result is the outcome of one per-video unit.
type Result struct {
	Target Target
	Bundle *domain.VideoDanmakuBundle
	Cached bool
	Err    error
}

type Summary struct {
	Discovered int
	Cached     int
	Fetched    int
	Failed     int
}

type Crawler struct {
	api    VideoAPI
	store  cache.BundleStore
	cfg    Config
	logger *zap.Logger
}

func NewCrawler(api VideoAPI, store cache.BundleStore, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Crawler{
		api:    api,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Crawl discovers videos for keywords, fetches each one and returns the
// successful bundles in completion order.
func (c *Crawler) Crawl(ctx context.Context, keywords []string, quota int) ([]*domain.VideoDanmakuBundle, error) {
	bundles, _, err := c.CrawlWithSummary(ctx, keywords, quota)
	return bundles, err
}

func (c *Crawler) CrawlWithSummary(ctx context.Context, keywords []string, quota int) ([]*domain.VideoDanmakuBundle, Summary, error) {
	targets, err := c.Discover(ctx, keywords, quota)
	if err != nil {
		return nil, Summary{}, err
	}

	summary := Summary{Discovered: len(targets)}
	bundles := make([]*domain.VideoDanmakuBundle, 0, len(targets))
	for res := range c.Run(ctx, targets) {
		if res.Err != nil {
			summary.Failed++
			c.logger.Warn("Video dropped",
				zap.String("bvid", res.Target.BVID),
				zap.Int("rank", res.Target.Rank),
				zap.String("title", logTitle(res.Target.Title)),
				zap.Error(res.Err),
			)
			continue
		}
		if res.Cached {
			summary.Cached++
		} else {
			summary.Fetched++
		}
		bundles = append(bundles, res.Bundle)
	}

	c.logger.Info("Crawl finished",
		zap.Int("discovered", summary.Discovered),
		zap.Int("cached", summary.Cached),
		zap.Int("fetched", summary.Fetched),
		zap.Int("failed", summary.Failed),
	)
	return bundles, summary, nil
}

// Discover pages through search results for every keyword and returns the
// unique videos in discovery order. Any search failure aborts discovery.
func (c *Crawler) Discover(ctx context.Context, keywords []string, quota int) ([]Target, error) {
	perKeyword := max(1, quota/max(1, len(keywords)))

	seen := make(map[string]struct{})
	targets := make([]Target, 0)
	for _, keyword := range keywords {
		hits, err := c.searchKeyword(ctx, keyword, perKeyword, quota)
		if err != nil {
			return nil, fmt.Errorf("search for %q failed: %w", keyword, err)
		}

		for _, hit := range hits {
			if hit.BVID == "" {
				continue
			}
			if _, dup := seen[hit.BVID]; dup {
				continue
			}
			seen[hit.BVID] = struct{}{}
			target := Target{
				BVID:    hit.BVID,
				Keyword: keyword,
				Title:   hit.PlainTitle(),
				Rank:    len(targets) + 1,
			}
			targets = append(targets, target)
			c.logger.Debug("Video discovered",
				zap.String("bvid", target.BVID),
				zap.String("keyword", keyword),
				zap.Int("rank", target.Rank),
				zap.String("title", logTitle(target.Title)),
			)
		}
	}

	c.logger.Info("Discovery finished",
		zap.Int("keywords", len(keywords)),
		zap.Int("per_keyword", perKeyword),
		zap.Int("videos", len(targets)),
	)
	return targets, nil
}

func (c *Crawler) searchKeyword(ctx context.Context, keyword string, perKeyword, quota int) ([]bilibili.SearchHit, error) {
	results := make([]bilibili.SearchHit, 0, perKeyword)
	for page := 1; len(results) < perKeyword; page++ {
		if c.cfg.PagesPerKeyword > 0 && page > c.cfg.PagesPerKeyword {
			break
		}

		hits, err := c.api.Search(ctx, keyword, page)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			break
		}
		for _, hit := range hits {
			results = append(results, hit)
			if len(results) >= perKeyword || len(results) >= quota {
				break
			}
		}
		if len(results) >= quota {
			break
		}
	}
	if len(results) > perKeyword {
		results = results[:perKeyword]
	}
	return results, nil
}

// Run processes targets with at most Concurrency units in flight and
// streams one Result per target in completion order. The channel is closed
// once every unit has finished. A failing unit never cancels its siblings.
func (c *Crawler) Run(ctx context.Context, targets []Target) <-chan Result {
	results := make(chan Result, len(targets))

	go func() {
		defer close(results)

		p := pool.New().WithMaxGoroutines(c.cfg.Concurrency)
		for _, target := range targets {
			target := target
			p.Go(func() {
				bundle, cached, err := c.collect(ctx, target)
				results <- Result{Target: target, Bundle: bundle, Cached: cached, Err: err}
			})
		}
		p.Wait()
	}()

	return results
}

func (c *Crawler) collect(ctx context.Context, target Target) (*domain.VideoDanmakuBundle, bool, error) {
	if err := domain.ValidateBVID(target.BVID); err != nil {
		return nil, false, fmt.Errorf("search hit: %w", err)
	}
	if bundle, ok := c.cached(ctx, target.BVID); ok {
		return bundle, true, nil
	}

	view, err := c.api.View(ctx, target.BVID)
	if err != nil {
		return nil, false, fmt.Errorf("view %s: %w", target.BVID, err)
	}
	cid, err := bilibili.ResolveCID(view)
	if err != nil {
		return nil, false, fmt.Errorf("view %s: %w", target.BVID, err)
	}
	rank := target.Rank
	meta, err := bilibili.ExtractMetadata(view, target.Keyword, cid, &rank)
	if err != nil {
		return nil, false, fmt.Errorf("metadata %s: %w", target.BVID, err)
	}

	records := []domain.DanmakuRecord{}
	body, err := c.api.DanmakuXML(ctx, cid, meta.BVID)
	if err != nil {
		c.logger.Warn("Failed to fetch danmaku, keeping video without comments",
			zap.String("bvid", meta.BVID),
			zap.Int64("cid", cid),
			zap.Error(err),
		)
	} else {
		records, err = bilibili.ParseDanmakuXML(body, meta.BVID, cid)
		if err != nil {
			return nil, false, fmt.Errorf("danmaku %s: %w", meta.BVID, err)
		}
	}

	bundle := domain.NewBundle(meta, records)
	if c.cfg.EnableCache && c.store != nil {
		if err := c.store.Save(ctx, bundle); err != nil {
			c.logger.Warn("Failed to persist bundle", zap.String("bvid", meta.BVID), zap.Error(err))
		}
	}

	c.logger.Info("Video collected",
		zap.String("bvid", meta.BVID),
		zap.String("title", logTitle(meta.Title)),
		zap.String("url", meta.URL()),
		zap.Int("rank", rank),
		zap.Int("danmaku", len(records)),
	)
	return bundle, false, nil
}

// cached returns the stored bundle when caching is enabled and one exists.
// Store errors degrade to a cache miss.
func (c *Crawler) cached(ctx context.Context, bvid string) (*domain.VideoDanmakuBundle, bool) {
	if !c.cfg.EnableCache || c.store == nil {
		return nil, false
	}

	exists, err := c.store.Exists(ctx, bvid)
	if err != nil {
		c.logger.Warn("Cache lookup failed", zap.String("bvid", bvid), zap.Error(err))
		return nil, false
	}
	if !exists {
		return nil, false
	}

	bundle, err := c.store.Load(ctx, bvid)
	if err != nil {
		c.logger.Warn("Cached bundle unreadable, refetching", zap.String("bvid", bvid), zap.Error(err))
		return nil, false
	}
	c.logger.Info("Cache hit", zap.String("bvid", bvid))
	return bundle, true
}

func logTitle(title string) string {
	return util.TruncateString(util.CollapseWhitespace(title), 40)
}
