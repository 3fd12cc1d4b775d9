package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/gorilla/mux"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni/v2"
	"go.etcd.io/bbolt"

	"fknsrs.biz/p/ytfeeds/handlers"
	"fknsrs.biz/p/ytfeeds/internal/composer"
	"fknsrs.biz/p/ytfeeds/internal/config"
	"fknsrs.biz/p/ytfeeds/internal/configreader"
	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/ctxdb"
	"fknsrs.biz/p/ytfeeds/internal/ctxhttpclient"
	"fknsrs.biz/p/ytfeeds/internal/ctxjobqueue"
	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
	"fknsrs.biz/p/ytfeeds/internal/httpcache"
	"fknsrs.biz/p/ytfeeds/internal/jobqueue"
	"fknsrs.biz/p/ytfeeds/internal/logrusstackhook"
	"fknsrs.biz/p/ytfeeds/internal/queuenames"
	"fknsrs.biz/p/ytfeeds/internal/remote"
	"fknsrs.biz/p/ytfeeds/internal/seeder"
	"fknsrs.biz/p/ytfeeds/internal/sqlitelogger"
	"fknsrs.biz/p/ytfeeds/internal/store"
	"fknsrs.biz/p/ytfeeds/internal/syncer"
	"fknsrs.biz/p/ytfeeds/internal/tasks"
	"fknsrs.biz/p/ytfeeds/internal/ytdirect"
)

var cfg = config.Config{
	LogLevel:               logrus.InfoLevel,
	LogDebugLevels:         config.LevelList{logrus.DebugLevel, logrus.TraceLevel},
	LogQueries:             config.LogQueries{Enabled: true, SlowerThan: time.Millisecond * 100},
	LogSORM:                false,
	ApplicationAddr:        ":8080",
	ApplicationDatabase:    "ytfeeds.db",
	ApplicationCachePath:   "cache.db",
	HTTPCacheMaxAge:        time.Minute * 15,
	APIRequestsPerSecond:   5,
	ResolveHandlesDirectly: true,
	PageSize:               syncer.DefaultPageSize,
	DefaultChannels:        config.StringList(seeder.DefaultChannels),
	SeedDelay:              time.Millisecond * 200,
	RefreshInterval:        time.Hour,
	BackgroundWorkers:      1,
}

func init() {
	for _, configPath := range []string{"config.toml", "config.yaml", "config.yml"} {
		if st, err := os.Stat(configPath); err == nil && st != nil && !st.IsDir() {
			cfg.Config = configPath
		}
	}
}

type sormQueryLogger struct {
	logger logrus.FieldLogger
}

func (s *sormQueryLogger) fields(query string, args []interface{}) logrus.Fields {
	fields := logrus.Fields{
		"db.query":      query,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	return fields
}

func (s *sormQueryLogger) LogQuery(query string, args []interface{}) {
	s.logger.WithFields(s.fields(query, args)).Debug("sorm query start")
}

func (s *sormQueryLogger) LogQueryAfter(query string, args []interface{}, duration time.Duration, err error) {
	s.logger.WithFields(s.fields(query, args)).WithFields(logrus.Fields{
		"db.duration": duration,
		"db.error":    err,
	}).Debug("sorm query finish")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := configreader.Read(os.Args[0], os.Args[1:], os.Environ(), &cfg); err != nil {
		if errors.Is(err, configreader.ErrHelp) {
			os.Exit(0)
		}

		panic(err)
	}

	ctx = ctxclock.WithClock(ctx, ctxclock.NewRealClock())

	logger := logrus.New()

	logger.SetLevel(cfg.LogLevel)
	if len(cfg.LogDebugLevels) > 0 {
		logger.AddHook(logrusstackhook.NewStackHook(logrusstackhook.Options{Levels: cfg.LogDebugLevels}))
	}

	logger.WithFields(logrus.Fields{
		"config.config":                   cfg.Config,
		"config.log_level":                cfg.LogLevel,
		"config.log_debug_levels":         cfg.LogDebugLevels,
		"config.log_queries":              cfg.LogQueries,
		"config.log_sorm":                 cfg.LogSORM,
		"config.application_addr":         cfg.ApplicationAddr,
		"config.application_cache_path":   cfg.ApplicationCachePath,
		"config.application_database":     cfg.ApplicationDatabase,
		"config.http_cache_max_age":       cfg.HTTPCacheMaxAge.String(),
		"config.api_key_set":              cfg.APIKey != "",
		"config.api_requests_per_second":  cfg.APIRequestsPerSecond,
		"config.resolve_handles_directly": cfg.ResolveHandlesDirectly,
		"config.page_size":                cfg.PageSize,
		"config.default_channels":         len(cfg.DefaultChannels),
		"config.seed_delay":               cfg.SeedDelay.String(),
		"config.refresh_interval":         cfg.RefreshInterval.String(),
		"config.background_workers":       cfg.BackgroundWorkers,
	}).Info("program starting")

	if cfg.LogSORM {
		sorm.SetQueryLogger(&sormQueryLogger{logger})
	}

	ctx = ctxlogger.WithLogger(ctx, logger)

	dbDriver := "sqlite3"

	if !cfg.LogQueries.IsZero() {
		dbDriver = "sqlite3:logged"

		sql.Register(dbDriver, sqlitelogger.New(&sqlite3.SQLiteDriver{}, sqlitelogger.Options{
			SlowerThan: cfg.LogQueries.SlowerThan,
			HidePackages: []string{
				// standard library
				"database/sql",
				"net/http",
				"runtime",
				// libraries
				"fknsrs.biz/p/sorm",
				"github.com/gorilla/mux",
				"github.com/shogo82148/go-sql-proxy",
				"github.com/urfave/negroni/v2",
				// middleware
				"fknsrs.biz/p/ytfeeds/internal/ctxclock",
				"fknsrs.biz/p/ytfeeds/internal/ctxdb",
				"fknsrs.biz/p/ytfeeds/internal/ctxjobqueue",
				"fknsrs.biz/p/ytfeeds/internal/ctxlogger",
				"fknsrs.biz/p/ytfeeds/internal/sqlitelogger",
			},
			SkipCallers: []string{
				"fknsrs.biz/p/ytfeeds/internal/jobqueue.(*Worker).reserveNext",
			},
		}))
	}

	st := store.New(store.Options{
		Path:   cfg.ApplicationDatabase,
		Driver: dbDriver,
		Clock:  ctxclock.GetClock(ctx),
	})
	if err := st.Init(ctx); err != nil {
		panic(err)
	}
	defer st.Close()

	ctx = ctxdb.WithDB(ctx, st.DB())

	cacheDB, err := bbolt.Open(cfg.ApplicationCachePath, 0600, nil)
	if err != nil {
		panic(err)
	}
	defer cacheDB.Close()

	cache := httpcache.NewBBoltStorage(cacheDB)

	if now, err := ctxclock.Now(ctx); err == nil {
		if n, err := cache.Prune(ctx, now.Add(-cfg.HTTPCacheMaxAge)); err != nil {
			logger.WithError(err).Warn("could not prune http cache")
		} else {
			logger.WithField("cache.pruned", n).Debug("pruned http cache")
		}
	}

	// channel pages for handle lookups skip the api rate limit and key
	ctx = ctxhttpclient.WithHTTPClient(ctx, &http.Client{
		Timeout:   ctxhttpclient.DefaultClient.Timeout,
		Transport: httpcache.NewTransport(nil, cache, cfg.HTTPCacheMaxAge),
	})

	client, err := remote.NewYouTube(ctx, remote.Options{
		APIKey: cfg.APIKey,
		HTTPClient: &http.Client{
			Timeout: time.Second * 30,
			Transport: httpcache.NewTransport(
				remote.NewRateLimitedTransport(nil, cfg.APIRequestsPerSecond),
				cache,
				cfg.HTTPCacheMaxAge,
			),
		},
	})
	if err != nil {
		panic(err)
	}

	syncerOptions := syncer.Options{PageSize: cfg.PageSize}
	if cfg.ResolveHandlesDirectly {
		syncerOptions.Resolver = &ytdirect.Resolver{}
	}

	sy := syncer.New(st, client, syncerOptions)
	cm := composer.New(st, composer.Options{Clock: ctxclock.GetClock(ctx)})
	sd := seeder.New(st, sy, []string(cfg.DefaultChannels), seeder.Options{Delay: cfg.SeedDelay, PageSize: cfg.PageSize})

	w := jobqueue.NewWorker(nil)
	if err := tasks.New(st, sy, sd).Register(w); err != nil {
		panic(err)
	}

	ctx = ctxjobqueue.WithWorker(ctx, w)

	if _, err := ctxjobqueue.Enqueue(ctx, queuenames.Seed, tasks.SeedPayload(false)); err != nil {
		panic(err)
	}

	api := handlers.New(st, sy, cm, sd, handlers.Options{PageSize: cfg.PageSize})

	workers := []worker{
		{
			name: "application",
			run: func(ctx context.Context) error {
				return runApplicationWorker(ctx, cfg.ApplicationAddr, api)
			},
		},
		{
			name: "refresh_schedule",
			run: func(ctx context.Context) error {
				return tasks.Schedule(ctx, w, cfg.RefreshInterval, cfg.PageSize)
			},
		},
	}

	for i := 0; i < cfg.BackgroundWorkers; i++ {
		workers = append(workers, worker{
			name: fmt.Sprintf("job_queue.%d", i),
			run: func(ctx context.Context) error {
				return w.Run(ctx)
			},
		})
	}

	if err := runAllWorkers(ctx, workers); err != nil {
		logger.WithError(err).Error("program stopping")
		os.Exit(1)
	}
}

type worker struct {
	name string
	run  func(ctx context.Context) error
}

// runAllWorkers runs each worker until one of them fails, then cancels the
// rest and returns every failure. A worker that returns nil is restarted.
func runAllWorkers(ctx context.Context, workers []worker) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	errs := make([]error, len(workers))

	var wg sync.WaitGroup

	for id, w := range workers {
		wg.Add(1)

		go func(id int, w worker) {
			defer wg.Done()

			ctx, l := ctxlogger.WithFields(ctx, logrus.Fields{
				"worker.id":   id + 1,
				"worker.name": w.name,
			})

			for {
				err := w.run(ctx)

				if ctx.Err() != nil {
					return
				}

				if err != nil {
					l.WithError(err).Error("worker failed")
					errs[id] = fmt.Errorf("worker %d (%s) failed: %w", id+1, w.name, err)
					cancel(errs[id])
					return
				}

				l.Info("worker restarted")

				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}(id, w)
	}

	wg.Wait()

	return errors.Join(errs...)
}

func runApplicationWorker(ctx context.Context, addr string, api *handlers.API) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{
		"args.addr": addr,
	}).Info("running application worker")

	m := mux.NewRouter()
	api.Routes(m)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseFunc(ctxlogger.Register(l))
	n.UseFunc(ctxclock.Register(ctxclock.GetClock(ctx)))
	n.UseFunc(ctxdb.Register(ctxdb.GetDB(ctx)))
	n.UseFunc(ctxjobqueue.Register(ctxjobqueue.GetWorker(ctx)))
	n.UseFunc(ctxclock.AddLoggerHooks())
	n.UseFunc(ctxlogger.Log())
	n.UseHandler(m)

	s := &http.Server{
		Addr:        addr,
		Handler:     n,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		l.Info("starting server")
		errs <- s.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		return s.Shutdown(shutdownCtx)
	}
}
