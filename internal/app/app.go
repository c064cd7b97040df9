// Package app builds the workstation runtime once at startup: storage, local
// tables, the remote client, notifications, the offline manager and the
// connectivity monitor.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/proclean/internal/config"
	"github.com/MarcoPoloResearchLab/proclean/internal/connectivity"
	"github.com/MarcoPoloResearchLab/proclean/internal/datastore"
	"github.com/MarcoPoloResearchLab/proclean/internal/events"
	"github.com/MarcoPoloResearchLab/proclean/internal/kvstore"
	"github.com/MarcoPoloResearchLab/proclean/internal/notify"
	"github.com/MarcoPoloResearchLab/proclean/internal/offline"
	"github.com/MarcoPoloResearchLab/proclean/internal/remote"
)

// cachedTables are mirrored into the offline read-model cache while online.
var cachedTables = []string{remote.TableCustomers, remote.TablePackages, remote.TableStock}

type Options struct {
	Config config.AppConfig
	Logger *zap.Logger
	// Output receives notifications. Defaults to stdout.
	Output     io.Writer
	NoColor    bool
	HTTPClient *http.Client
	Clock      func() time.Time
}

// App owns every workstation component for the lifetime of the process.
type App struct {
	Config      config.AppConfig
	Logger      *zap.Logger
	KeyValue    *kvstore.Store
	Tables      *datastore.Store
	Remote      *remote.Client
	Console     *notify.Console
	Bus         *events.Bus
	Manager     *offline.Manager
	Monitor     *connectivity.Monitor
	Actions     *Actions
	Workstation string
}

func New(opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	backend, err := kvstore.OpenBackend(kvstore.BackendConfig{
		Kind:   cfg.StorageBackend,
		Path:   cfg.StoragePath,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	kv := kvstore.NewStore(backend, logger.Named("kvstore"))

	apiKey := cfg.RemoteAPIKey
	if apiKey == "" {
		kv.Get(kvstore.KeyAPIKey, &apiKey)
	}
	workstation := cfg.WorkstationName
	if workstation == "" {
		kv.Get(kvstore.KeyWorkstationName, &workstation)
	}

	tables, err := datastore.NewStore(datastore.Config{
		KeyValue: kv,
		Clock:    clock,
		Logger:   logger.Named("datastore"),
		Latency:  cfg.DatastoreLatency,
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = remote.NewHTTPClient(cfg.RemoteTimeout,
			remote.WithMaxRetries(cfg.RemoteMaxRetries),
			remote.WithHTTPLogger(logger))
	}
	remoteClient, err := remote.NewClient(remote.Config{
		BaseURL:    cfg.RemoteURL,
		APIKey:     apiKey,
		HTTPClient: httpClient,
		Logger:     logger.Named("remote"),
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	console := notify.NewConsole(notify.ConsoleConfig{
		Output:        opts.Output,
		AlertDuration: cfg.AlertDuration,
		NoColor:       opts.NoColor,
		Clock:         clock,
	})
	bus := events.NewBus()

	manager, err := offline.NewManager(offline.ManagerConfig{
		Store:            kv,
		Remote:           remoteClient,
		Notifier:         console,
		Indicator:        console,
		Bus:              bus,
		Clock:            clock,
		Logger:           logger.Named("offline"),
		MaxRetries:       cfg.SyncMaxRetries,
		OperationTimeout: cfg.OperationTimeout,
		ReplayOrder:      offline.ReplayOrder(cfg.ReplayOrder),
	})
	if err != nil {
		console.Close()
		_ = kv.Close()
		return nil, err
	}

	monitor, err := connectivity.NewMonitor(connectivity.MonitorConfig{
		Prober:       remoteClient,
		Bus:          bus,
		Interval:     cfg.ProbeInterval,
		ProbeTimeout: cfg.RemoteTimeout,
		Logger:       logger.Named("connectivity"),
	})
	if err != nil {
		console.Close()
		_ = kv.Close()
		return nil, err
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		KeyValue:    kv,
		Tables:      tables,
		Remote:      remoteClient,
		Console:     console,
		Bus:         bus,
		Manager:     manager,
		Monitor:     monitor,
		Workstation: workstation,
		Actions: NewActions(ActionsConfig{
			Manager: manager,
			Remote:  remoteClient,
			Tables:  tables,
			Timeout: cfg.OperationTimeout,
			Logger:  logger.Named("actions"),
		}),
	}, nil
}

// Run drives the monitor, the manager and the cache refresher until ctx is
// done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	hostEvents, cleanupHost := a.Bus.Subscribe(groupCtx, events.TopicHostConnectivity)
	defer cleanupHost()
	statuses, cleanupStatus := a.Bus.Subscribe(groupCtx, events.TopicSyncStatus)
	defer cleanupStatus()

	group.Go(func() error {
		return a.Manager.Consume(groupCtx, hostEvents)
	})
	group.Go(func() error {
		return a.Monitor.Run(groupCtx)
	})
	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case event := <-statuses:
				if event.Type != events.TypeOnline && event.Type != events.TypeSyncComplete {
					continue
				}
				if err := a.RefreshCache(groupCtx); err != nil {
					a.Logger.Warn("offline cache refresh failed", zap.Error(err))
				}
			}
		}
	})
	return group.Wait()
}

// SyncOnce probes the remote once, applies the outcome to the manager and
// returns the drain result.
func (a *App) SyncOnce(ctx context.Context) offline.DrainResult {
	if !a.Monitor.Check(ctx) {
		a.Manager.HandleOffline()
		return offline.DrainResult{Remaining: len(a.Manager.Pending())}
	}
	result := a.Manager.HandleOnline(ctx)
	if err := a.RefreshCache(ctx); err != nil {
		a.Logger.Warn("offline cache refresh failed", zap.Error(err))
	}
	return result
}

// RefreshCache mirrors the remote tables into the offline read-model cache.
func (a *App) RefreshCache(ctx context.Context) error {
	if !a.Manager.IsOnline() {
		return nil
	}
	var errs []error
	for _, table := range cachedTables {
		rows, err := a.Remote.Select(ctx, table, nil, 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", table, err))
			continue
		}
		a.Manager.StoreOfflineData(table, rows)
	}
	return errors.Join(errs...)
}

// Close stops alert timers and releases the key-value backend.
func (a *App) Close() error {
	a.Console.Close()
	return a.KeyValue.Close()
}
