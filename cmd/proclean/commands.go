package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/proclean/internal/app"
	"github.com/MarcoPoloResearchLab/proclean/internal/auth"
	"github.com/MarcoPoloResearchLab/proclean/internal/config"
	"github.com/MarcoPoloResearchLab/proclean/internal/database"
	"github.com/MarcoPoloResearchLab/proclean/internal/inventory"
	"github.com/MarcoPoloResearchLab/proclean/internal/kvstore"
	"github.com/MarcoPoloResearchLab/proclean/internal/offline"
	"github.com/MarcoPoloResearchLab/proclean/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reference remote API over SQLite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newAgentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Watch connectivity and replay queued operations until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, workstation *app.App) error {
				signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				workstation.Logger.Info("agent starting",
					zap.String("remote", workstation.Config.RemoteURL),
					zap.String("workstation", workstation.Workstation))
				err := workstation.Run(signalCtx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Probe the remote system once and drain the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, workstation *app.App) error {
				result := workstation.SyncOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d succeeded=%d dropped=%d remaining=%d\n",
					result.Attempted, result.Succeeded, result.Dropped, result.Remaining)
				return nil
			})
		},
	}
}

func newQueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List operations waiting for sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, workstation *app.App) error {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(workstation.Manager.Pending())
			})
		},
	}
}

func newSubmitCommand() *cobra.Command {
	var (
		operationType string
		rawData       string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Apply one operation now, or queue it when the remote system is unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			opType := offline.OperationType(operationType)
			if !opType.Valid() {
				return fmt.Errorf("%w: %q", offline.ErrUnknownOperationType, operationType)
			}
			var data map[string]any
			if err := json.Unmarshal([]byte(rawData), &data); err != nil {
				return fmt.Errorf("decode --data: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, workstation *app.App) error {
				if workstation.Monitor.Check(ctx) {
					workstation.Manager.HandleOnline(ctx)
				} else {
					workstation.Manager.HandleOffline()
				}
				outcome, err := workstation.Actions.Perform(ctx, opType, data)
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(outcome)
			})
		},
	}
	cmd.Flags().StringVar(&operationType, "type", "", "Operation type (create_package, update_package, delete_package, update_stock, create_customer)")
	cmd.Flags().StringVar(&rawData, "data", "{}", "Operation payload as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a workstation token for the reference API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if appConfig.WorkstationName == "" {
				return fmt.Errorf("--workstation is required")
			}

			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        auth.DefaultIssuer,
				Audience:      auth.DefaultAudience,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueWorkstationToken(appConfig.WorkstationName)
			if err != nil {
				return err
			}

			if save {
				if err := saveCredentials(appConfig, logger, token); err != nil {
					return err
				}
				logger.Info("workstation token saved", zap.String("workstation", appConfig.WorkstationName))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Store the token and workstation name in local storage")
	return cmd
}

func saveCredentials(appConfig config.AppConfig, logger *zap.Logger, token string) error {
	backend, err := kvstore.OpenBackend(kvstore.BackendConfig{
		Kind:   appConfig.StorageBackend,
		Path:   appConfig.StoragePath,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	store := kvstore.NewStore(backend, logger.Named("kvstore"))
	defer store.Close() //nolint:errcheck

	if !store.Set(kvstore.KeyAPIKey, token) || !store.Set(kvstore.KeyWorkstationName, appConfig.WorkstationName) {
		return fmt.Errorf("failed to persist workstation credentials")
	}
	return nil
}

func withApp(ctx context.Context, run func(context.Context, *app.App) error) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	workstation, err := app.New(app.Options{
		Config:  appConfig,
		Logger:  logger,
		Output:  os.Stdout,
		NoColor: noColor,
	})
	if err != nil {
		return err
	}
	defer workstation.Close() //nolint:errcheck

	return run(ctx, workstation)
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := appConfig.ValidateServer(); err != nil {
		return err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger, inventory.Models(), inventory.Migrations()...)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	inventoryService, err := inventory.NewService(inventory.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: inventory.NewUUIDProvider(),
		Logger:     logger.Named("inventory"),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:    tokenIssuer,
		Inventory: inventoryService,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
