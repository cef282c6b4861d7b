package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postwire/postwire/internal/admin"
	"github.com/postwire/postwire/internal/config"
	"github.com/postwire/postwire/internal/engine"
	"github.com/postwire/postwire/internal/logging"
	"github.com/postwire/postwire/internal/metrics"
	"github.com/postwire/postwire/internal/registry"
	"github.com/postwire/postwire/internal/server"
	"github.com/postwire/postwire/internal/storage"
	"github.com/postwire/postwire/internal/storage/filestore"
	"github.com/postwire/postwire/internal/storage/redisstore"
	"github.com/postwire/postwire/internal/validation"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "postwire",
	Short: "Line-oriented JSON mail and chat server",
	Long: `A JSON-over-TCP server for account registration, login,
broadcast chat and mail delivery with send, inbox retrieval and
forwarding. State is kept in flat files (or Redis), one inbox per
account.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

// openStores builds the configured storage backend. The returned closer
// is nil for backends with nothing to release.
func openStores(cfg *config.Config) (storage.AccountStore, storage.MailboxStore, io.Closer, error) {
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		store, err := redisstore.New(redisstore.Config{
			RedisURL: cfg.Storage.RedisURL,
			Prefix:   cfg.Storage.RedisPrefix,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to Redis: %w", err)
		}
		return store, store, store, nil
	default:
		store, err := filestore.New(cfg.Storage.AccountsFile, cfg.Storage.InboxDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return store, store, nil, nil
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return fmt.Errorf("failed to create required directories: %w", err)
		}

		// Track resources for cleanup on both success and error paths.
		type resourceTracker struct {
			storeCloser io.Closer
			core        *server.Server
			adminSrv    *admin.Server
			logger      *logging.Logger
		}
		resources := &resourceTracker{}

		cleanup := func() {
			if resources.logger != nil {
				resources.logger.Info("starting graceful shutdown")
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownDuration())
			defer shutdownCancel()

			// Reverse order of initialization: admin first, then the
			// client listener, then storage.
			if resources.adminSrv != nil {
				if err := resources.adminSrv.Shutdown(shutdownCtx); err != nil {
					fmt.Fprintf(os.Stderr, "admin server shutdown error: %v\n", err)
				}
			}
			if resources.core != nil {
				if err := resources.core.Stop(shutdownCtx); err != nil {
					fmt.Fprintf(os.Stderr, "server stop error: %v\n", err)
				}
			}
			if resources.storeCloser != nil {
				if err := resources.storeCloser.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "store close error: %v\n", err)
				}
			}

			if resources.logger != nil {
				resources.logger.Info("shutdown complete")
			}
		}

		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "PANIC during server operation: %v\n", r)
				cleanup()
				panic(r)
			}
		}()

		logger, err := logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		resources.logger = logger
		logger.Info("server starting", "backend", cfg.Storage.Backend)

		accountStore, mailboxStore, closer, err := openStores(cfg)
		if err != nil {
			cleanup()
			return err
		}
		resources.storeCloser = closer

		reg := registry.New(accountStore, mailboxStore, logger)
		if err := reg.Load(context.Background()); err != nil {
			cleanup()
			return fmt.Errorf("failed to load account registry: %w", err)
		}
		metrics.RegisteredAccounts.Set(float64(reg.Count()))

		eng := engine.New(reg, mailboxStore, logger)

		addr := fmt.Sprintf("%s:%d", cfg.Server.Listen, cfg.Server.Port)
		core := server.New(addr, reg, eng, logger)
		eng.SetNotifier(core)
		resources.core = core

		if err := core.Start(); err != nil {
			cleanup()
			return fmt.Errorf("failed to start server: %w", err)
		}
		fmt.Printf("Listening on %s\n", core.Addr())

		if cfg.Admin.Enabled {
			adminSrv := admin.NewServer(cfg, core, reg, logger)
			resources.adminSrv = adminSrv
			adminAddr := fmt.Sprintf("%s:%d", cfg.Admin.Listen, cfg.Admin.Port)
			go func() {
				if err := adminSrv.Start(adminAddr); err != nil {
					logger.Error("admin server error", "error", err.Error())
				}
			}()
			fmt.Printf("Admin: http://%s\n", adminAddr)
		}

		fmt.Println("\nServer is running. Press Ctrl+C to stop.")
		logger.Info("all services started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		fmt.Printf("\nReceived signal %s, shutting down...\n", sig)

		cleanup()
		return nil
	},
}

// Account management commands
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage registered accounts",
}

var accountAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Register a new account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]
		if err := validation.Email(email); err != nil {
			return fmt.Errorf("invalid email: %s", email)
		}

		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
		accountStore, mailboxStore, closer, err := openStores(cfg)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}

		reg := registry.New(accountStore, mailboxStore, logging.Default())
		if err := reg.Load(context.Background()); err != nil {
			return fmt.Errorf("failed to load account registry: %w", err)
		}
		if err := reg.Register(context.Background(), email); err != nil {
			return fmt.Errorf("failed to register: %w", err)
		}

		fmt.Printf("Account '%s' registered\n", email)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountStore, _, closer, err := openStores(cfg)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}

		accounts, err := accountStore.LoadAccounts(context.Background())
		if err != nil {
			return fmt.Errorf("failed to load accounts: %w", err)
		}

		for _, acct := range accounts {
			fmt.Println(acct.Email)
		}
		fmt.Printf("%d account(s)\n", len(accounts))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("postwire v0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	rootCmd.AddCommand(accountCmd)
}
