package main

import (
	"context"
	"fmt"

	"github.com/kapu/bilibili-danmaku-go/internal/app"
	"github.com/kapu/bilibili-danmaku-go/internal/config"
	"github.com/kapu/bilibili-danmaku-go/internal/constants"
	"github.com/kapu/bilibili-danmaku-go/internal/domain"
	"github.com/kapu/bilibili-danmaku-go/internal/service/analysis"
	"github.com/kapu/bilibili-danmaku-go/internal/service/cache"
	"github.com/kapu/bilibili-danmaku-go/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) build(ctx context.Context, cfg *config.Config) (*app.Container, error) {
	container, err := app.Build(ctx, cfg, c.logger)
	if err != nil {
		c.logger.Error("Failed to assemble application services", zap.Error(err))
		return nil, err
	}
	return container, nil
}

func (c *cli) fetchCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch danmaku for the configured keywords",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.cfg.WithOverrides(flags.overrides(cmd))
			if err != nil {
				return err
			}
			container, err := c.build(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer container.Close()

			bundles, summary, err := container.Crawl(cmd.Context())
			if err != nil {
				printRateLimitHint(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d video bundles (%d cached, %d fetched, %d failed).\n",
				len(bundles), summary.Cached, summary.Fetched, summary.Failed)
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}

func (c *cli) analyzeCmd() *cobra.Command {
	var flags reportFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute danmaku statistics and export them to Excel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := flags.apply(cmd, c.cfg.Report)
			if err != nil {
				return err
			}
			container, err := c.build(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer container.Close()

			bundles, err := c.loadBundles(cmd.Context(), container)
			if err != nil {
				return err
			}
			stats, path, err := container.Analyze(bundles, report.TopN, report.ExcelPath)
			if err != nil {
				printEmptyCorpusHint(cmd.ErrOrStderr(), err)
				return err
			}
			printTopContents(cmd, stats)
			fmt.Fprintf(cmd.OutOrStdout(), "Statistics exported to %s\n", path)
			return nil
		},
	}
	flags.registerAnalysis(cmd)
	return cmd
}

func (c *cli) visualizeCmd() *cobra.Command {
	var flags reportFlags
	cmd := &cobra.Command{
		Use:   "visualize",
		Short: "Generate a word cloud image from collected danmaku",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := flags.apply(cmd, c.cfg.Report)
			if err != nil {
				return err
			}
			container, err := c.build(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer container.Close()

			bundles, err := c.loadBundles(cmd.Context(), container)
			if err != nil {
				return err
			}
			path, err := c.renderWordCloud(container, bundles, report)
			if err != nil {
				printEmptyCorpusHint(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Word cloud generated at %s\n", path)
			return nil
		},
	}
	flags.registerImage(cmd)
	return cmd
}

func (c *cli) pipelineCmd() *cobra.Command {
	var (
		crawl  crawlFlags
		report reportFlags
	)
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run fetch, analyze and visualize in one go",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.cfg.WithOverrides(crawl.overrides(cmd))
			if err != nil {
				return err
			}
			reportCfg, err := report.apply(cmd, cfg.Report)
			if err != nil {
				return err
			}
			container, err := c.build(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer container.Close()

			out := cmd.OutOrStdout()
			bundles, _, err := container.Crawl(cmd.Context())
			if err != nil {
				printRateLimitHint(cmd.ErrOrStderr(), err)
				return err
			}
			if len(bundles) == 0 {
				return errors.New("no danmaku fetched, check the keywords, the network or BILIBILI_COOKIE")
			}
			fmt.Fprintf(out, "Fetched %d video bundles, computing statistics...\n", len(bundles))

			stats, excelPath, err := container.Analyze(bundles, reportCfg.TopN, reportCfg.ExcelPath)
			if err != nil {
				printEmptyCorpusHint(cmd.ErrOrStderr(), err)
				return err
			}
			printTopContents(cmd, stats)
			fmt.Fprintf(out, "Statistics exported to %s\n", excelPath)

			imagePath, err := c.renderWordCloud(container, bundles, reportCfg)
			if err != nil {
				if !printEmptyCorpusHint(cmd.ErrOrStderr(), err) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Word cloud generation failed: %v\n", err)
				}
			} else {
				fmt.Fprintf(out, "Word cloud generated at %s\n", imagePath)
			}

			fmt.Fprintln(out, "Pipeline finished.")
			return nil
		},
	}
	crawl.register(cmd, false)
	report.registerAnalysis(cmd)
	report.registerImage(cmd)
	return cmd
}

func (c *cli) seedSampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-sample",
		Short: "Copy the bundled sample data into the store for offline work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := c.build(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer container.Close()

			if fileStore, ok := container.Store.(*cache.FileStore); ok {
				path, err := fileStore.WriteRaw(constants.ReportConfig.SampleBundleID, sampleBundle)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sample bundle copied to %s.\n", path)
				return nil
			}

			bundle, err := decodeSample()
			if err != nil {
				return err
			}
			if err := container.Store.Save(cmd.Context(), bundle); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample bundle %s stored in %s.\n", bundle.BVID(), c.cfg.Storage.Backend)
			return nil
		},
	}
}

func (c *cli) exportDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-db",
		Short: "Mirror stored bundles into PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := c.build(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer container.Close()

			bundles, err := c.loadBundles(cmd.Context(), container)
			if err != nil {
				return err
			}
			repo, err := container.NewDanmakuRepository(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := repo.ExportBundles(cmd.Context(), bundles)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d videos (%d danmaku) to PostgreSQL.\n", len(bundles), rows)
			return nil
		},
	}
}

func (c *cli) loadBundles(ctx context.Context, container *app.Container) ([]*domain.VideoDanmakuBundle, error) {
	bundles, err := container.LoadBundles(ctx)
	if err != nil {
		return nil, err
	}
	if len(bundles) == 0 {
		return nil, errNoBundles
	}
	return bundles, nil
}

func (c *cli) renderWordCloud(container *app.Container, bundles []*domain.VideoDanmakuBundle, report config.ReportConfig) (string, error) {
	wordCloud, err := container.NewWordCloud(report)
	if err != nil {
		return "", err
	}
	return wordCloud.Generate(bundles, report.ImagePath)
}

func printTopContents(cmd *cobra.Command, stats *analysis.Statistics) {
	out := cmd.OutOrStdout()
	for i, top := range stats.TopContents {
		fmt.Fprintf(out, "%2d. %s (%d)\n", i+1, top.Content, top.Count)
	}
}
