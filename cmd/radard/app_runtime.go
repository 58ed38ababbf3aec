package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/radar-hq/radar/internal/account"
	"github.com/radar-hq/radar/internal/api"
	"github.com/radar-hq/radar/internal/bandit"
	"github.com/radar-hq/radar/internal/buildinfo"
	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/fingerprint"
	"github.com/radar-hq/radar/internal/geoip"
	"github.com/radar-hq/radar/internal/history"
	"github.com/radar-hq/radar/internal/probe"
	"github.com/radar-hq/radar/internal/proxy"
	"github.com/radar-hq/radar/internal/session"
	"github.com/radar-hq/radar/internal/state"
	"github.com/radar-hq/radar/internal/task"
)

const fingerprintCacheEntries = 4096

// radarApp owns every long-lived component and its lifecycle.
type radarApp struct {
	envCfg     *config.EnvConfig
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]

	accounts     *account.Pool
	proxies      *proxy.Pool
	providers    *proxy.Registry
	fingerprints *fingerprint.Store
	sessions     *session.Orchestrator
	scheduler    *task.Scheduler
	bandit       *bandit.Scheduler
	recorder     *history.Recorder

	geoSvc      *geoip.Service
	prober      *probe.Prober
	probeStopCh chan struct{}
	flushWorker *state.CacheFlushWorker
	maintenance *cron.Cron

	apiSrv *api.Server
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	if config.IsWeakToken(envCfg.AdminToken) {
		log.Printf("[main] WARNING: RADAR_ADMIN_TOKEN is weak or empty; the admin API is not safe to expose beyond localhost")
	}

	engine, dbCloser, err := state.PersistenceBootstrap(envCfg.StateDir, envCfg.CacheDir)
	if err != nil {
		return fmt.Errorf("persistence bootstrap: %w", err)
	}
	log.Printf("[main] persistence bootstrap complete")

	app, err := newRadarApp(envCfg, engine)
	if err != nil {
		_ = dbCloser.Close()
		return err
	}

	serverErrCh := app.startServer()
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.shutdown(ctx)

	if err := dbCloser.Close(); err != nil {
		log.Printf("[main] persistence close error: %v", err)
	}
	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

func newRadarApp(envCfg *config.EnvConfig, engine *state.StateEngine) (*radarApp, error) {
	app := &radarApp{
		envCfg:     envCfg,
		runtimeCfg: &atomic.Pointer[config.RuntimeConfig]{},
	}
	cfg, err := loadRuntimeConfig(engine)
	if err != nil {
		return nil, err
	}
	app.runtimeCfg.Store(cfg)

	app.fingerprints = fingerprint.NewStore(engine, fingerprint.NewGenerator(), fingerprintCacheEntries)
	app.providers = proxy.NewRegistry()
	app.proxies = proxy.NewPool(engine, engine, app.runtimeCfg)
	app.proxies.SetProviders(app.providers)
	app.accounts = account.NewPool(engine, app.runtimeCfg)
	app.sessions = session.NewOrchestrator(app.accounts, app.proxies, app.fingerprints, engine, app.runtimeCfg)
	app.recorder = history.NewRecorder(engine, app.runtimeCfg,
		envCfg.HistoryQueueSize, envCfg.HistoryFlushBatchSize, envCfg.HistoryFlushInterval)
	app.scheduler = task.NewScheduler(app.accounts, app.sessions, nil, app.recorder, app.runtimeCfg, envCfg.SchedulerTick)
	app.bandit = bandit.NewScheduler(engine, app.runtimeCfg)

	if err := app.bootstrapFromPersistence(engine); err != nil {
		return nil, err
	}

	if envCfg.GeoIPDBPath != "" {
		app.geoSvc = geoip.NewService(envCfg.GeoIPDBPath)
		if err := app.geoSvc.Start(); err != nil {
			log.Printf("[main] geoip unavailable, country enrichment disabled: %v", err)
			app.geoSvc = nil
		}
	}

	app.prober = probe.NewProber(app.proxies, app.geoSvc, app.runtimeCfg, probe.Options{
		Concurrency: envCfg.ProbeConcurrency,
		Interval:    envCfg.ProbeInterval,
		Jitter:      envCfg.ProbeJitter,
	})
	app.flushWorker = state.NewCacheFlushWorker(engine, state.CacheReaders{
		ReadSessionRecord:      app.sessions.RecordSnapshot,
		ReadProxyBinding:       app.proxies.BindingSnapshot,
		ReadFingerprintBinding: app.sessions.FingerprintBindingSnapshot,
		ReadSlotStat:           app.bandit.SlotStatSnapshot,
	},
		func() int { return app.runtimeCfg.Load().CacheFlushDirtyThreshold },
		func() time.Duration { return app.runtimeCfg.Load().CacheFlushInterval.Std() },
		5*time.Second,
	)

	if err := app.scheduleMaintenance(); err != nil {
		return nil, err
	}
	app.buildAPIServer(engine)
	app.startBackgroundServices()
	return app, nil
}

// loadRuntimeConfig returns the persisted runtime config, seeding the
// defaults on first boot so version numbering starts at 1.
func loadRuntimeConfig(engine *state.StateEngine) (*config.RuntimeConfig, error) {
	cfg, _, err := engine.GetSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}
	if cfg != nil {
		return cfg, nil
	}
	cfg = config.NewDefaultRuntimeConfig()
	if err := engine.SaveSystemConfig(cfg, 1, time.Now().UnixNano()); err != nil {
		return nil, fmt.Errorf("seed runtime config: %w", err)
	}
	return cfg, nil
}

func (a *radarApp) bootstrapFromPersistence(engine *state.StateEngine) error {
	accounts, err := engine.ListAccounts()
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	a.accounts.Bootstrap(accounts)

	proxies, err := engine.ListProxies()
	if err != nil {
		return fmt.Errorf("load proxies: %w", err)
	}
	proxyBindings, err := engine.LoadAllProxyBindings()
	if err != nil {
		return fmt.Errorf("load proxy bindings: %w", err)
	}
	a.proxies.Bootstrap(proxies, proxyBindings)

	records, err := engine.LoadAllSessionRecords()
	if err != nil {
		return fmt.Errorf("load session records: %w", err)
	}
	fpBindings, err := engine.LoadAllFingerprintBindings()
	if err != nil {
		return fmt.Errorf("load fingerprint bindings: %w", err)
	}
	a.sessions.Bootstrap(records, fpBindings)

	slotStats, err := engine.LoadAllSlotStats()
	if err != nil {
		return fmt.Errorf("load slot stats: %w", err)
	}
	a.bandit.Bootstrap(slotStats)

	log.Printf("[main] bootstrap: %d accounts, %d proxies (%d bound), %d session records, %d slot stats; platforms: %v",
		len(accounts), len(proxies), len(proxyBindings), len(records), len(slotStats), a.envCfg.Platforms)
	return nil
}

// scheduleMaintenance registers the cron-driven housekeeping jobs. The
// expressions were validated at env load, so registration errors are bugs.
func (a *radarApp) scheduleMaintenance() error {
	c := cron.New()

	if _, err := c.AddFunc(a.envCfg.AccountPruneSchedule, func() {
		if n := a.accounts.PruneInactive(time.Now()); n > 0 {
			log.Printf("[maintenance] pruned %d inactive accounts", n)
		}
	}); err != nil {
		return fmt.Errorf("account prune schedule: %w", err)
	}

	if _, err := c.AddFunc(a.envCfg.SessionCleanupSchedule, func() {
		if n := a.sessions.CleanupExpiredRecords(time.Now()); n > 0 {
			log.Printf("[maintenance] removed %d expired session records", n)
		}
		trimmed, err := a.recorder.Trim(time.Now())
		if err != nil {
			log.Printf("[maintenance] task history trim error: %v", err)
		} else if trimmed > 0 {
			log.Printf("[maintenance] trimmed %d task history rows", trimmed)
		}
	}); err != nil {
		return fmt.Errorf("session cleanup schedule: %w", err)
	}

	if _, err := c.AddFunc(a.envCfg.GeoIPReloadSchedule, func() {
		if a.geoSvc == nil {
			return
		}
		if err := a.geoSvc.Reload(); err != nil {
			log.Printf("[maintenance] geoip reload error: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("geoip reload schedule: %w", err)
	}

	a.maintenance = c
	return nil
}

func (a *radarApp) buildAPIServer(engine *state.StateEngine) {
	a.apiSrv = api.NewServer(
		a.envCfg.ListenAddress,
		a.envCfg.Port,
		a.envCfg.AdminToken,
		int64(a.envCfg.APIMaxBodyBytes),
		api.Deps{
			Accounts:     a.accounts,
			Proxies:      a.proxies,
			Providers:    a.providers,
			Fingerprints: a.fingerprints,
			Sessions:     a.sessions,
			Scheduler:    a.scheduler,
			Bandit:       a.bandit,
			History:      a.recorder,
			Geo:          a.geoSvc,
			RuntimeCfg:   a.runtimeCfg,
			EnvCfg:       a.envCfg,
			StateRepo:    engine.StateRepo,
			Info: api.SystemInfo{
				Version:   buildinfo.Version,
				GitCommit: buildinfo.GitCommit,
				BuildTime: buildinfo.BuildTime,
				StartedAt: time.Now().UTC(),
			},
		},
	)
}

func (a *radarApp) startBackgroundServices() {
	a.recorder.Start()
	a.sessions.Start()
	a.scheduler.Start()
	a.flushWorker.Start()
	a.maintenance.Start()

	a.probeStopCh = make(chan struct{})
	go a.prober.Run(a.probeStopCh)
}

func (a *radarApp) startServer() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[main] admin API listening on %s:%d", a.envCfg.ListenAddress, a.envCfg.Port)
		if err := a.apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("[main] received signal %s, shutting down", sig)
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// shutdown stops components in dependency order: no new work first, then
// the workers that drain state, then the final cache flush.
func (a *radarApp) shutdown(ctx context.Context) {
	if err := a.apiSrv.Shutdown(ctx); err != nil {
		log.Printf("[main] API shutdown error: %v", err)
	}
	stopCtx := a.maintenance.Stop()
	<-stopCtx.Done()

	close(a.probeStopCh)
	a.scheduler.Stop()
	a.sessions.Stop()
	a.flushWorker.Stop()
	a.recorder.Stop()
	if a.geoSvc != nil {
		a.geoSvc.Stop()
	}
	log.Printf("[main] stopped")
}
