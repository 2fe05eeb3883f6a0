package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/cli"
	"github.com/copyvio/copypatrol/internal/config"
	"github.com/copyvio/copypatrol/internal/db"
	"github.com/copyvio/copypatrol/internal/logging"
	"github.com/copyvio/copypatrol/internal/patrol"
	"github.com/copyvio/copypatrol/internal/tca"
	"github.com/copyvio/copypatrol/internal/wiki"
)

// runtime is the shared wiring every command starts from.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// setup loads the environment, configuration, and logger. On failure it
// prints the problem and returns a non-zero exit code for the command to
// pass through.
func setup(envLoader *cli.EnvLoader) (*runtime, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, 1
	}

	return &runtime{cfg: cfg, logger: logger}, 0
}

// services bundles the long-lived collaborators of the pipeline commands.
type services struct {
	pool       *db.Pool
	sites      *config.Sites
	wiki       *wiki.Client
	tca        *tca.Client
	ignore     *config.IgnoreLists
	reconciler *tca.Reconciler
	patrol     *patrol.Service
}

// build wires the full pipeline stack. Callers must Close the pool.
func (r *runtime) build(ctx context.Context) (*services, error) {
	pool, err := db.NewPool(ctx, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sites, err := config.LoadSites(r.cfg.SitesFile)
	if err != nil {
		pool.Close()
		return nil, err
	}

	wikiClient := wiki.NewClient(r.cfg, r.logger)
	tcaClient := tca.NewClient(r.cfg, r.logger)

	ignore, err := r.ignoreLists(sites, wikiClient)
	if err != nil {
		pool.Close()
		return nil, err
	}

	reconciler := tca.NewReconciler(tcaClient, pool, wikiClient, ignore, sites, r.logger)
	checker := patrol.NewChecker(wikiClient, r.logger)
	service := patrol.NewService(pool, tcaClient, checker, reconciler, wikiClient, r.logger)

	return &services{
		pool:       pool,
		sites:      sites,
		wiki:       wikiClient,
		tca:        tcaClient,
		ignore:     ignore,
		reconciler: reconciler,
		patrol:     service,
	}, nil
}

func (s *services) Close() {
	s.pool.Close()
}

// ignoreLists binds the on-wiki ignore list pages to the wiki client.
func (r *runtime) ignoreLists(sites *config.Sites, wikiClient *wiki.Client) (*config.IgnoreLists, error) {
	listSite, err := wiki.ParseDomain(r.cfg.IgnoreListDomain)
	if err != nil {
		return nil, fmt.Errorf("resolve ignore list domain: %w", err)
	}
	fetch := func(ctx context.Context, title string) (string, error) {
		return wikiClient.PageText(ctx, listSite, title)
	}
	return config.NewIgnoreLists(fetch, sites, config.DefaultIgnoreTTL, r.logger), nil
}
