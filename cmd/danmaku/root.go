package main

import (
	"fmt"
	"io"
	"time"

	"github.com/kapu/bilibili-danmaku-go/internal/config"
	"github.com/kapu/bilibili-danmaku-go/internal/constants"
	"github.com/kapu/bilibili-danmaku-go/internal/util"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errNoBundles = errors.New("no danmaku bundles found, run the fetch command or seed-sample first")

// cli carries the configuration and logger loaded once per invocation.
type cli struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:               "danmaku",
		Short:             "Bilibili danmaku crawler and analysis toolkit",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.AddCommand(
		c.fetchCmd(),
		c.analyzeCmd(),
		c.visualizeCmd(),
		c.pipelineCmd(),
		c.seedSampleCmd(),
		c.exportDBCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	c.cfg = cfg
	c.logger = logger
	logger.Debug("Configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("store", cfg.Storage.Backend),
		zap.String("raw_dir", cfg.Paths.RawDir),
	)
	return nil
}

// crawlFlags are the per-run crawler overrides shared by fetch and pipeline.
type crawlFlags struct {
	maxVideos     int
	concurrency   int
	sleepInterval float64
	pages         int
	noCache       bool
}

func (f *crawlFlags) register(cmd *cobra.Command, withNoCache bool) {
	cmd.Flags().IntVar(&f.maxVideos, "max-videos", 0, "override the global max videos limit")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "limit concurrent requests to avoid HTTP 412")
	cmd.Flags().Float64Var(&f.sleepInterval, "sleep-interval", 0, "seconds to wait before every request")
	cmd.Flags().IntVar(&f.pages, "pages", 0, "limit search pages per keyword")
	if withNoCache {
		cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable the bundle cache for this run")
	}
}

// overrides only carries flags the user actually set.
func (f *crawlFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	if cmd.Flags().Changed("max-videos") {
		o.MaxVideos = &f.maxVideos
	}
	if cmd.Flags().Changed("concurrency") {
		o.Concurrency = &f.concurrency
	}
	if cmd.Flags().Changed("sleep-interval") {
		d := time.Duration(f.sleepInterval * float64(time.Second))
		o.PacingInterval = &d
	}
	if cmd.Flags().Changed("pages") {
		o.PagesPerKeyword = &f.pages
	}
	o.DisableCache = f.noCache
	return o
}

type reportFlags struct {
	topN      int
	excelPath string
	fontPath  string
	imagePath string
	width     int
	height    int
}

func (f *reportFlags) registerAnalysis(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.topN, "top-n", constants.ReportConfig.TopN, "number of top danmaku contents to keep")
	cmd.Flags().StringVar(&f.excelPath, "excel-path", "", "override the Excel export path")
}

func (f *reportFlags) registerImage(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.fontPath, "font-path", "", "font file used to render Chinese words")
	cmd.Flags().StringVar(&f.imagePath, "image-path", "", "override the word cloud image path")
	cmd.Flags().IntVar(&f.width, "width", constants.ReportConfig.ImageWidth, "word cloud image width")
	cmd.Flags().IntVar(&f.height, "height", constants.ReportConfig.ImageHeight, "word cloud image height")
}

// apply returns base with every flag the user set.
func (f *reportFlags) apply(cmd *cobra.Command, base config.ReportConfig) (config.ReportConfig, error) {
	flags := cmd.Flags()
	if flags.Changed("top-n") {
		base.TopN = f.topN
	}
	if flags.Changed("excel-path") {
		base.ExcelPath = f.excelPath
	}
	if flags.Changed("font-path") {
		base.FontPath = f.fontPath
	}
	if flags.Changed("image-path") {
		base.ImagePath = f.imagePath
	}
	if flags.Changed("width") {
		base.Width = f.width
	}
	if flags.Changed("height") {
		base.Height = f.height
	}

	if base.TopN < 1 {
		return base, fmt.Errorf("--top-n must be positive, got %d", base.TopN)
	}
	if base.Width < 1 || base.Height < 1 {
		return base, fmt.Errorf("image size must be positive, got %dx%d", base.Width, base.Height)
	}
	return base, nil
}

// printEmptyCorpusHint reports an empty corpus as such rather than as a
// generic failure.
func printEmptyCorpusHint(w io.Writer, err error) bool {
	if !errors.IsEmptyCorpus(err) {
		return false
	}
	fmt.Fprintf(w, "No danmaku to analyze: %v\n", err)
	fmt.Fprintln(w, "Run fetch or seed-sample first, or widen the keywords.")
	return true
}

// printRateLimitHint explains how to get past platform risk control when
// err carries an HTTP 412 or an open circuit.
func printRateLimitHint(w io.Writer, err error) bool {
	switch {
	case errors.IsRateLimited(err):
		fmt.Fprintf(w, "HTTP 412 when requesting %s. Bilibili risk control was likely triggered. Try:\n", errors.RateLimitURL(err))
	case errors.Is(err, util.ErrCircuitOpen):
		fmt.Fprintln(w, "Requests stopped after repeated HTTP 412 responses. Try:")
	default:
		return false
	}
	fmt.Fprintln(w, "1. Log in with a browser, copy the full Cookie header and set BILIBILI_COOKIE.")
	fmt.Fprintln(w, "2. Lower --concurrency or --max-videos, raise --sleep-interval, or retry later.")
	return true
}
