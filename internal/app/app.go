package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"crmsync/backend"
	"crmsync/backend/hubspot"
	backendsync "crmsync/backend/sync"
	"crmsync/internal/cache"
	"crmsync/internal/config"
	"crmsync/internal/credentials"
	"crmsync/internal/sync"
	"crmsync/internal/utils"
)

// App holds the application state
type App struct {
	config      *config.Config
	creds       *credentials.Credentials
	store       *backend.Store
	remote      backend.RemoteClient
	syncManager *backendsync.SyncManager
	coordinator *sync.SyncCoordinator
	logCloser   io.Closer
	demo        bool
}

// Option customizes App construction.
type Option func(*appOptions)

type appOptions struct {
	remote   backend.RemoteClient
	resolver *credentials.Resolver
}

// WithRemote replaces the HubSpot client, for tests.
func WithRemote(remote backend.RemoteClient) Option {
	return func(o *appOptions) { o.remote = remote }
}

// WithResolver replaces the credential resolver.
func WithResolver(r *credentials.Resolver) Option {
	return func(o *appOptions) { o.resolver = r }
}

// NewApp opens the local store and builds the remote client and sync
// manager from cfg. Without a token the in-memory demo CRM is used.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	o := &appOptions{resolver: credentials.NewResolver()}
	for _, opt := range opts {
		opt(o)
	}

	utils.SetVerboseMode(cfg.Log.Verbose)
	a := &App{config: cfg}

	if cfg.Log.File != "" {
		closer, err := utils.SetLogFile(cfg.Log.File, utils.LogFileOptions{
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		if err != nil {
			return nil, err
		}
		a.logCloser = closer
	}

	creds, err := o.resolver.Resolve(cfg.Profile, cfg.HubSpot.Token)
	if err != nil {
		a.closeLog()
		return nil, err
	}
	a.creds = creds

	switch {
	case o.remote != nil:
		a.remote = o.remote
	case cfg.HubSpot.Demo || creds.Token == "":
		a.demo = true
		a.remote = hubspot.NewDemoClient()
		utils.Debugf("No HubSpot token configured, using demo data")
	default:
		a.remote = hubspot.New(creds.Token,
			hubspot.WithBaseURL(cfg.HubSpot.BaseURL),
			hubspot.WithPageSize(cfg.HubSpot.PageSize),
			hubspot.WithTimeout(cfg.HubSpot.Timeout),
		)
		utils.Debugf("Using HubSpot token from %s", creds.Source)
	}

	a.store, err = backend.OpenStore(cfg.Database.Path)
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	a.syncManager = backendsync.NewSyncManager(a.store, a.remote,
		backendsync.WithStateHook(a.recordPass))
	return a, nil
}

// recordPass persists the pass time once a pass has finished.
func (a *App) recordPass() {
	if a.syncManager.IsRunning() {
		return
	}
	if err := cache.RecordPass(a.syncManager.LastSyncTime()); err != nil {
		utils.Debugf("Failed to record sync time: %v", err)
	}
}

// LastSyncTime returns the last pass time of this or any earlier process.
func (a *App) LastSyncTime() time.Time {
	if t := a.syncManager.LastSyncTime(); !t.IsZero() {
		return t
	}
	state, err := cache.LoadSyncState()
	if err != nil {
		return time.Time{}
	}
	return state.LastPass
}

// Refresh pulls remote records and records when each kind was refreshed.
func (a *App) Refresh(ctx context.Context, kinds ...backend.Kind) ([]backend.RefreshStats, error) {
	stats, err := a.syncManager.Refresh(ctx, kinds...)
	refreshed := make([]backend.Kind, 0, len(stats))
	for _, s := range stats {
		refreshed = append(refreshed, s.Kind)
	}
	if cerr := cache.RecordRefresh(time.Now(), refreshed...); cerr != nil {
		utils.Debugf("Failed to record refresh time: %v", cerr)
	}
	return stats, err
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.config }

// Credentials returns where the HubSpot token came from.
func (a *App) Credentials() *credentials.Credentials { return a.creds }

// Store returns the local store.
func (a *App) Store() *backend.Store { return a.store }

// Remote returns the CRM client.
func (a *App) Remote() backend.RemoteClient { return a.remote }

// SyncManager returns the sync engine.
func (a *App) SyncManager() *backendsync.SyncManager { return a.syncManager }

// IsDemo reports whether the in-memory demo CRM is in use.
func (a *App) IsDemo() bool { return a.demo }

// Ping checks whether the remote is reachable within the probe timeout.
func (a *App) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sync.ProbeTimeout)
	defer cancel()
	if err := a.remote.Ping(ctx); err != nil {
		var be *backend.BackendError
		if errors.As(err, &be) && be.IsUnauthorized() {
			return utils.ErrAuthenticationFailed()
		}
		return utils.ErrRemoteOffline(err.Error())
	}
	return nil
}

// StartCoordinator builds the connectivity monitor and starts it. Reachability
// is probed with Ping every sync.probe_interval.
func (a *App) StartCoordinator(ctx context.Context) (*sync.SyncCoordinator, error) {
	if a.coordinator != nil {
		return a.coordinator, nil
	}
	probe := func(ctx context.Context) bool {
		return a.remote.Ping(ctx) == nil
	}
	sc, err := sync.NewSyncCoordinator(a.store, a.syncManager,
		sync.WithProbe(probe, a.config.Sync.ProbeInterval),
		sync.WithLogger(log.New(log.Writer(), "[Sync] ", log.LstdFlags)),
	)
	if err != nil {
		return nil, err
	}
	if err := sc.Start(ctx); err != nil {
		return nil, err
	}
	a.coordinator = sc
	return sc, nil
}

// Coordinator returns the running coordinator, or nil before StartCoordinator.
func (a *App) Coordinator() *sync.SyncCoordinator { return a.coordinator }

// AfterWrite pushes new queue items in a detached process when
// sync.background_on_write is set. Failures only log.
func (a *App) AfterWrite() {
	if !a.config.Sync.BackgroundOnWrite || a.coordinator != nil {
		return
	}
	var args []string
	if a.config.Source != "" {
		args = append(args, "--config", a.config.Source)
	}
	if err := sync.SpawnBackgroundSync(args...); err != nil {
		utils.Warnf("Failed to start background sync: %v", err)
	}
}

// RunBackgroundSync is the body of the hidden background command.
func (a *App) RunBackgroundSync(ctx context.Context) error {
	return sync.RunBackgroundSyncInProcess(ctx, a.syncManager, a.config.Sync.PassTimeout)
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() {
	a.ShutdownWithTimeout(5 * time.Second)
}

// ShutdownWithTimeout stops the coordinator, waiting up to timeout for a
// running pass, then closes the store.
func (a *App) ShutdownWithTimeout(timeout time.Duration) {
	if a.coordinator != nil {
		a.coordinator.Shutdown(timeout)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			utils.Warnf("Failed to close store: %v", err)
		}
	}
	a.closeLog()
}

func (a *App) closeLog() {
	if a.logCloser != nil {
		a.logCloser.Close()
		a.logCloser = nil
	}
}
