package constants

import "time"

var APIConfig = struct {
	SearchURL        string
	ViewURL          string
	DanmakuListURL   string
	VideoPageBaseURL string
	SearchType       string
}{
	SearchURL:        "https://api.bilibili.com/x/web-interface/search/type",
	ViewURL:          "https://api.bilibili.com/x/web-interface/view",
	DanmakuListURL:   "https://api.bilibili.com/x/v1/dm/list.so",
	VideoPageBaseURL: "https://www.bilibili.com/video/",
	SearchType:       "video",
}

var RetryConfig = struct {
	MaxAttempts      int
	BackoffStep      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}{
	MaxAttempts:      3,
	BackoffStep:      1500 * time.Millisecond, // attempt N waits N × step
	BreakerThreshold: 3,
	BreakerCooldown:  2 * time.Minute,
}

var CrawlerDefaults = struct {
	Keywords       string
	MaxVideos      int
	Order          string
	Concurrency    int
	RequestTimeout time.Duration
	PacingInterval time.Duration
	UserAgent      string
	Referer        string
	AcceptLanguage string
	Accept         string
}{
	Keywords:       "大语言模型,大模型,LLM",
	MaxVideos:      360,
	Order:          "totalrank",
	Concurrency:    2,
	RequestTimeout: 10 * time.Second,
	PacingInterval: 400 * time.Millisecond,
	UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36",
	Referer:        "https://www.bilibili.com",
	AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
	Accept:         "application/json, text/plain, */*",
}

var CacheKeys = struct {
	BundlePrefix string
	BundleIndex  string
}{
	BundlePrefix: "danmaku:bundle:",
	BundleIndex:  "danmaku:bundles",
}

var RedisConfig = struct {
	ReadyTimeout time.Duration
}{
	ReadyTimeout: 5 * time.Second,
}

var ReportConfig = struct {
	TopN           int
	ExcelFileName  string
	ImageFileName  string
	ImageWidth     int
	ImageHeight    int
	Background     string
	SampleBundleID string
}{
	TopN:           8,
	ExcelFileName:  "danmaku_stats.xlsx",
	ImageFileName:  "danmaku_wordcloud.png",
	ImageWidth:     1280,
	ImageHeight:    720,
	Background:     "#ffffff",
	SampleBundleID: "sample_bundle",
}

var DatabaseConfig = struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}{
	MaxOpenConns:    10,
	MaxIdleConns:    2,
	ConnMaxLifetime: 5 * time.Minute,
	PingTimeout:     5 * time.Second,
}
