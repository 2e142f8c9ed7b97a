package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"git.sr.ht/~sircmpwn/getopt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pushgate/pushgate/api"
	"github.com/pushgate/pushgate/archive"
	"github.com/pushgate/pushgate/chain"
	"github.com/pushgate/pushgate/config"
	"github.com/pushgate/pushgate/crypto"
	"github.com/pushgate/pushgate/giturl"
	"github.com/pushgate/pushgate/guard"
	"github.com/pushgate/pushgate/models"
	"github.com/pushgate/pushgate/notify"
	"github.com/pushgate/pushgate/proxy"
	"github.com/pushgate/pushgate/store"
)

func main() {
	var (
		addr        string
		configPaths = config.DefaultPaths
	)
	opts, _, err := getopt.Getopts(os.Args, "b:c:")
	if err != nil {
		panic(err)
	}
	for _, opt := range opts {
		switch opt.Option {
		case 'b':
			addr = opt.Value
		case 'c':
			configPaths = []string{opt.Value}
		}
	}

	cfg, err := config.Load(configPaths...)
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}
	if addr == "" {
		addr = cfg.Listen
	}

	crypto.InitCrypto(cfg.File)

	var (
		pushes store.PushStore
		repos  store.RepoStore
	)
	if cfg.ConnectionString != "" {
		pg, err := store.OpenPostgres(cfg.ConnectionString)
		if err != nil {
			log.Fatalf("Failed to open a database connection: %v", err)
		}
		defer pg.Close()
		pushes, repos = pg, pg
	} else {
		log.Printf("No connection string configured, using in-memory store")
		mem := store.NewMemory()
		pushes, repos = mem, mem
	}

	ctx := context.Background()
	seeded := seedRepos(ctx, cfg, repos)

	var notifier *notify.Publisher
	if cfg.RedisAddr != "" {
		notifier, err = notify.NewPublisher(cfg.RedisAddr,
			log.New(os.Stderr, "notify ", log.LstdFlags))
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer notifier.Close()
	}

	var archiver *archive.Archiver
	if cfg.S3Bucket != "" {
		archiver, err = archive.New(ctx, cfg.S3Bucket, cfg.S3Prefix,
			log.New(os.Stderr, "archive ", log.LstdFlags))
		if err != nil {
			log.Fatalf("Failed to configure pack archive: %v", err)
		}
		archiver.Start(ctx)
		defer archiver.Shutdown()
	}

	executor := &chain.CaptureExecutor{
		Pushes:   pushes,
		Notifier: notifier,
		Archiver: archiver,
		Logger:   log.New(os.Stderr, "chain ", log.LstdFlags),
	}

	proxyLogger := log.New(os.Stderr, "proxy ", log.LstdFlags)
	router, err := proxy.NewRouter(routerConfig(cfg, seeded), executor, proxyLogger)
	if err != nil {
		log.Fatalf("Failed to build origin router: %v", err)
	}
	handler := proxy.NewReloadable(router)
	go reloadOnSignal(ctx, handler, configPaths, executor, repos, proxyLogger)

	apiLogger := log.New(os.Stderr, "api ", log.LstdFlags)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount("/api/v1", api.New(pushes, repos, guard.New(pushes, repos), notifier, apiLogger))
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/*", handler)

	log.Printf("pushgate running on %s", addr)
	log.Fatal(http.ListenAndServe(addr, root))
}

// seedRepos registers the repositories from the YAML seed file, if one
// is configured.
func seedRepos(ctx context.Context, cfg *config.Config, repos store.RepoStore) []*models.Repo {
	if cfg.ReposFile == "" {
		return nil
	}
	seeded, err := config.LoadRepos(cfg.ReposFile)
	if err != nil {
		log.Fatalf("Failed to load repos file: %v", err)
	}
	for _, repo := range seeded {
		if err := repos.AddRepo(ctx, repo); err != nil {
			log.Fatalf("Failed to register repo %s: %v", repo.Name, err)
		}
		log.Printf("Registered repository %s (%s)", repo.Name, repo.URL)
	}
	return seeded
}

// routerConfig derives the origin table: every host named in the config
// plus the host of each registered repository URL. The proxy only
// forwards to hosts it has been told about, with the default origin as
// the single-origin fallback.
func routerConfig(cfg *config.Config, repos []*models.Repo) proxy.RouterConfig {
	origins := make(map[string]string)
	for host, upstream := range cfg.Origins {
		origins[host] = upstream
	}
	for _, repo := range repos {
		parsed, ok := giturl.ProcessGitURL(repo.URL)
		if !ok {
			log.Printf("Skipping origin for unparsable repo URL %q", repo.URL)
			continue
		}
		if _, exists := origins[parsed.Host]; !exists {
			origins[parsed.Host] = parsed.Protocol + parsed.Host
		}
	}

	rc := proxy.RouterConfig{
		Default:      cfg.DefaultOrigin,
		ChainTimeout: cfg.ChainTimeout,
	}
	for host, upstream := range origins {
		rc.Origins = append(rc.Origins, proxy.OriginConfig{Host: host, Upstream: upstream})
	}
	return rc
}

// reloadOnSignal rebuilds the routing table from a fresh config read on
// SIGHUP and swaps it in atomically.
func reloadOnSignal(ctx context.Context, handler *proxy.Reloadable,
	configPaths []string, executor chain.Executor, repos store.RepoStore,
	logger *log.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		logger.Printf("SIGHUP received, reloading configuration")
		cfg, err := config.Load(configPaths...)
		if err != nil {
			logger.Printf("Reload failed, keeping previous routing table: %v", err)
			continue
		}
		seeded := seedReposReload(ctx, cfg, repos, logger)
		router, err := proxy.NewRouter(routerConfig(cfg, seeded), executor, logger)
		if err != nil {
			logger.Printf("Reload failed, keeping previous routing table: %v", err)
			continue
		}
		handler.Swap(router)
		logger.Printf("Routing table reloaded")
	}
}

func seedReposReload(ctx context.Context, cfg *config.Config,
	repos store.RepoStore, logger *log.Logger) []*models.Repo {
	if cfg.ReposFile == "" {
		return nil
	}
	seeded, err := config.LoadRepos(cfg.ReposFile)
	if err != nil {
		logger.Printf("Failed to reload repos file: %v", err)
		return nil
	}
	for _, repo := range seeded {
		if err := repos.AddRepo(ctx, repo); err != nil {
			logger.Printf("Failed to re-register repo %s: %v", repo.Name, err)
		}
	}
	return seeded
}
