package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"

	"arewa.org/internal/access"
	"arewa.org/internal/auth"
	"arewa.org/internal/cache"
	"arewa.org/internal/clock"
	"arewa.org/internal/config"
	"arewa.org/internal/download"
	"arewa.org/internal/httpapi"
	"arewa.org/internal/obs"
	"arewa.org/internal/ratelimit"
	"arewa.org/internal/store/pg"
	"arewa.org/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("ARCHIVE_CONFIG"), "Path to YAML config (optional)")
		devAdmin   = flag.String("dev-admin", "", "email:password of an admin to create when running without PostgreSQL")
	)
	flag.Parse()

	log := obs.Logger()
	cfg := config.MustLoad(*configPath)
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := build(ctx, cfg, *devAdmin)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer w.close()

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Auth.SweepSchedule, func() {
		n, err := w.tokens.Sweep(context.Background())
		if err != nil {
			log.WithError(err).Warn("token sweep failed")
			return
		}
		log.WithField("deleted", n).Info("expired tokens swept")
	}); err != nil {
		log.WithError(err).Fatal("schedule token sweep")
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           w.api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	grpcSrv := grpc.NewServer()
	httpapi.NewGRPCServer(w.ready).Register(grpcSrv)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}

	log.WithFields(map[string]any{"version": version, "http": srv.Addr, "grpc": cfg.GRPC.Addr}).Info("starting archive access api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Fatal("grpc serve")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	log.Info("stopped")
}

type wiring struct {
	api     *httpapi.API
	tokens  *token.Store
	ready   httpapi.ReadyProbe
	closers []func() error
}

func (a *wiring) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// build wires storage, the rate gate and the services. Without a PostgreSQL DSN
// everything runs on in-memory repositories; without a Redis address counters
// and download tokens stay in process.
func build(ctx context.Context, cfg *config.Config, devAdmin string) (*wiring, error) {
	log := obs.Logger()
	a := &wiring{ready: httpapi.ReadyProbe{}}

	var (
		tokenRepo  token.Repository
		requests   access.RequestRepository
		identities auth.IdentityStore
		resources  access.ResourceStore
	)
	if cfg.Postgres.DSN != "" {
		db, err := pg.Open(cfg.Postgres.DSN, cfg.Postgres.Pool())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.ready["postgres"] = db
		tokenRepo = db.Tokens()
		requests = db.Requests()
		identities = db.Identities()
		resources = pg.NewCachedResources(db.Resources(), cfg.Postgres.ResourceCache, cfg.Postgres.ResourceTTL)
	} else {
		log.Warn("ARCHIVE_PG_DSN not set; using in-memory repositories")
		mem := auth.NewMemoryIdentities()
		if err := seedDevAdmin(mem, devAdmin); err != nil {
			return nil, err
		}
		tokenRepo = token.NewMemoryRepository()
		requests = access.NewMemoryRequests()
		identities = mem
		resources = access.NewMemoryResources(demoResources...)
	}

	var store cache.Store
	if cfg.Redis.Addr != "" {
		client, err := cache.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		rs := cache.NewRedis(client, cfg.Redis.Prefix)
		a.ready["redis"] = rs
		store = rs
	} else {
		log.Warn("ARCHIVE_REDIS_ADDR not set; rate counters are per process")
		store = cache.NewMemory(clock.System)
	}

	loc, err := cfg.Downloads.Location()
	if err != nil {
		a.close()
		return nil, err
	}
	gate := ratelimit.New(store, ratelimit.WithDayLocation(loc))

	a.tokens, err = token.NewStore(tokenRepo, gate,
		token.WithTTL(cfg.Auth.TokenTTL),
		token.WithGrace(cfg.Auth.CleanupGrace),
		token.WithFailureQuota(cfg.Auth.TokenFailureLimit, cfg.Auth.TokenFailureWindow),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	gateway, err := auth.NewGateway(identities, a.tokens, gate,
		auth.WithLoginLimit(cfg.Auth.LoginLimit, cfg.Auth.LoginLockout))
	if err != nil {
		a.close()
		return nil, err
	}

	accessSvc := access.NewService(access.NewWorkflow(requests, access.WithRules(cfg.Access.Rules())), clock.System)
	downloads, err := download.NewService(accessSvc, resources, gate,
		token.NewDownloads(store, clock.System, cfg.Downloads.TokenTTL),
		download.WithDailyLimit(cfg.Downloads.DailyLimit))
	if err != nil {
		a.close()
		return nil, err
	}

	proxies, err := cfg.HTTP.Proxies()
	if err != nil {
		a.close()
		return nil, err
	}
	a.api, err = httpapi.New(httpapi.Deps{
		Gateway:   gateway,
		Access:    accessSvc,
		Resources: resources,
		Downloads: downloads,
		Ready:     a.ready,
		Version:   version,
	},
		httpapi.WithRateLimit(cfg.HTTP.RatePerMinute, cfg.HTTP.RateBurst),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithTrustedProxies(proxies...),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// demoResources match the seed migration so a database-less run has something to serve.
var demoResources = []access.Resource{
	{Ref: access.ResourceRef{Kind: access.KindCollection, ID: "c-ajami"}, Title: "Ajami manuscripts", AccessLevel: access.LevelResearchersOnly},
	{Ref: access.ResourceRef{Kind: access.KindAsset, ID: "a-photo-1952"}, Title: "Kano market, 1952", AccessLevel: access.LevelPublic},
	{Ref: access.ResourceRef{Kind: access.KindAsset, ID: "a-oral-017"}, Title: "Oral history interview 17", AccessLevel: access.LevelRegisteredUsers},
	{Ref: access.ResourceRef{Kind: access.KindAsset, ID: "a-letters-emir"}, Title: "Correspondence of the emirate", AccessLevel: access.LevelRestricted},
}

func seedDevAdmin(ids *auth.MemoryIdentities, cred string) error {
	if cred == "" {
		return nil
	}
	email, password, ok := strings.Cut(cred, ":")
	if !ok || email == "" || password == "" {
		return errors.New("-dev-admin must be email:password")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user, err := access.NewUser("dev-admin", email, access.UserAdmin, true)
	if err != nil {
		return err
	}
	ids.Put(user, hash)
	return nil
}
