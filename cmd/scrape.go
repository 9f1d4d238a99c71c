package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nrsyed/proboards-scraper/internal/config"
	"github.com/nrsyed/proboards-scraper/internal/database"
	"github.com/nrsyed/proboards-scraper/internal/fetch"
	"github.com/nrsyed/proboards-scraper/internal/forum"
	"github.com/nrsyed/proboards-scraper/internal/logging"
	"github.com/nrsyed/proboards-scraper/internal/metrics"
	"github.com/nrsyed/proboards-scraper/internal/scrape"
	"github.com/nrsyed/proboards-scraper/internal/storage"
)

type scrapeOptions struct {
	cfgFile     string
	outDir      string
	username    string
	password    string
	metricsAddr string
	skipUsers   bool
	noDelay     bool
	update      bool
	verbose     bool
}

func newScrapeCmd() *cobra.Command {
	var opts scrapeOptions

	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrape a forum URL",
		Long: `Scrape the given forum URL. A homepage URL archives the whole site;
a /members URL scrapes only users; /user/{id}, /board/{id}/... and
/thread/{id}/... scrape one user, one board subtree, or one thread.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.cfgFile, "config", "", "config file path")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "output directory (default \"site\")")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "login username")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "login password")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.skipUsers, "skip-users", false, "skip the members page on full-site scrapes")
	cmd.Flags().BoolVar(&opts.noDelay, "no-delay", false, "disable request throttling")
	cmd.Flags().BoolVar(&opts.update, "update", false, "overwrite existing rows instead of skipping them")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose (development) logging")

	return cmd
}

func runScrape(cmd *cobra.Command, rawURL string, opts scrapeOptions) error {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(&cfg, cmd, opts)

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	target, err := forum.ClassifyURL(rawURL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go metrics.Serve(ctx, cfg.Metrics.Addr, logger)
	}

	// Login failure is fatal: authenticated content cannot be scraped
	// without the session cookies.
	var cookies []*http.Cookie
	if opts.username != "" && opts.password != "" {
		cookies, err = fetch.Login(
			ctx, target.BaseURL, opts.username, opts.password,
			cfg.NavTimeout(), logger,
		)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	} else {
		logger.Info("username and/or password not provided; proceeding without login")
	}

	limiter := fetch.NewLimiter(
		cfg.Delay.RequestThreshold, cfg.ShortDelay(), cfg.LongDelay())

	session, err := fetch.NewSession(fetch.SessionConfig{
		BaseURL:      target.BaseURL,
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.HTTPTimeout(),
		ImageTimeout: cfg.ImageTimeout(),
	}, cookies, limiter, logger)
	if err != nil {
		return err
	}

	db, err := database.Open(
		filepath.Join(cfg.Output.Dir, cfg.Output.DBFile),
		cfg.Database.Update, logger,
	)
	if err != nil {
		return err
	}
	defer db.Close()

	images, err := storage.NewLocalStore(filepath.Join(cfg.Output.Dir, cfg.Output.ImageDir))
	if err != nil {
		return err
	}

	var mirror storage.BlobStore
	if cfg.Output.GCSBucket != "" {
		gcs, err := storage.NewGCSStore(ctx, cfg.Output.GCSBucket, "images")
		if err != nil {
			return fmt.Errorf("image mirror: %w", err)
		}
		defer gcs.Close()
		mirror = gcs
	}

	withUsers := target.Kind == forum.TargetMembers ||
		target.Kind == forum.TargetUser ||
		(target.Kind == forum.TargetHomepage && !cfg.Scrape.SkipUsers)

	manager := scrape.New(scrape.Config{
		Fetcher: session,
		Renderer: fetch.NewChromeRenderer(fetch.RendererConfig{
			UserAgent:  cfg.HTTP.UserAgent,
			NavTimeout: cfg.NavTimeout(),
		}),
		DB:            db,
		Images:        images,
		Mirror:        mirror,
		Logger:        logger,
		UserWorkers:   cfg.Scrape.UserWorkers,
		WithUserQueue: withUsers,
	})

	if err := manager.RecordRun(target.URL); err != nil {
		logger.Warn("failed to record scrape run", zap.Error(err))
	}

	var wg sync.WaitGroup
	startTask := func(sig scrape.Signal, task func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.RunTask(ctx, sig, task)
		}()
	}

	switch target.Kind {
	case forum.TargetHomepage:
		startTask(scrape.SignalContent, func(ctx context.Context) error {
			return manager.ScrapeForum(ctx, target.URL)
		})
		if cfg.Scrape.SkipUsers {
			logger.Info("skipping user profiles")
		} else {
			startTask(scrape.SignalUsers, func(ctx context.Context) error {
				return manager.ScrapeUsers(ctx, target.BaseURL+"/members")
			})
		}
	case forum.TargetMembers:
		startTask(scrape.SignalBoth, func(ctx context.Context) error {
			return manager.ScrapeUsers(ctx, target.URL)
		})
	case forum.TargetUser:
		startTask(scrape.SignalBoth, func(ctx context.Context) error {
			return manager.ScrapeUser(ctx, target.URL)
		})
	case forum.TargetBoard:
		startTask(scrape.SignalContent, func(ctx context.Context) error {
			return manager.ScrapeBoard(ctx, target.URL)
		})
	case forum.TargetThread:
		startTask(scrape.SignalContent, func(ctx context.Context) error {
			return manager.ScrapeThread(ctx, target.URL)
		})
	}

	err = manager.Run(ctx)
	wg.Wait()
	return err
}

// applyFlagOverrides layers explicitly-set CLI flags over the loaded
// configuration.
func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command, opts scrapeOptions) {
	if opts.outDir != "" {
		cfg.Output.Dir = opts.outDir
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if cmd.Flags().Changed("update") {
		cfg.Database.Update = opts.update
	}
	if cmd.Flags().Changed("skip-users") {
		cfg.Scrape.SkipUsers = opts.skipUsers
	}
	if opts.verbose {
		cfg.Logging.Development = true
	}
	if opts.noDelay {
		cfg.NoDelay()
	}
}
