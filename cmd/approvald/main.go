package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/approval"
	"github.com/kitsadaphon/approvald/internal/cache"
	"github.com/kitsadaphon/approvald/internal/config"
	"github.com/kitsadaphon/approvald/internal/events"
	httpapi "github.com/kitsadaphon/approvald/internal/http"
	"github.com/kitsadaphon/approvald/internal/identity"
	"github.com/kitsadaphon/approvald/internal/metrics"
	"github.com/kitsadaphon/approvald/internal/notify"
	"github.com/kitsadaphon/approvald/internal/observability/logger"
	"github.com/kitsadaphon/approvald/internal/rate"
	"github.com/kitsadaphon/approvald/internal/scheduler"
	"github.com/kitsadaphon/approvald/internal/security/apikey"
	"github.com/kitsadaphon/approvald/internal/store"
	"github.com/kitsadaphon/approvald/internal/store/pg"
	"github.com/kitsadaphon/approvald/internal/token"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:          "approvald",
		Short:        "Auto-approval service for login requests",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", envOr("CONFIG_PATH", "configs/config.yaml"), "path to the YAML config")

	root.AddCommand(
		serveCmd(&cfgPath),
		migrateCmd(&cfgPath),
		sweepCmd(&cfgPath),
		apikeyHashCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			// run on defaults when no config file exists
			return config.Load("")
		}
		return nil, err
	}
	return cfg, nil
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the approval service (scheduler + admin API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "approvald"})
			defer func() { _ = logger.Sync() }()
			log := logger.L()

			ctx := context.Background()
			st, err := store.Open(ctx, cfg, logger.Named("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			priv, err := token.LoadOrCreateKey(cfg.Token.KeyFile)
			if err != nil {
				return err
			}
			issuer := token.NewIssuer(cfg.Token.Issuer, priv, config.Duration(cfg.Token.TTL, 12*time.Hour))
			provider := identity.NewProvider(st.Users(), st.Sessions(), issuer, logger.Named("identity"))

			engine := approval.NewEngine(st.Requests(), st.Settings(), provider, logger.Named("engine"))
			orch := approval.NewOrchestrator(st, engine, approval.OrchestratorConfig{
				ConnectTimeout: config.Duration(cfg.Approval.ConnectTimeout, 5*time.Second),
				SweepTimeout:   config.Duration(cfg.Approval.SweepTimeout, 25*time.Second),
				StepDelay:      config.Duration(cfg.Approval.StepDelay, 100*time.Millisecond),
			}, logger.Named("sweep"))

			var bc *events.Redis
			var broadcaster scheduler.Broadcaster
			if cfg.Redis.Addr != "" {
				bc = events.NewRedis(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.Prefix)
				broadcaster = bc
				defer bc.Close()
			}

			c := cache.New(cache.Config{
				Kind:       cfg.Cache.Kind,
				DefaultTTL: config.Duration(cfg.Cache.DefaultTTL, 2*time.Minute),
				RedisAddr:  cfg.Redis.Addr,
				RedisDB:    cfg.Redis.DB,
				Prefix:     cfg.Redis.Prefix,
			})

			mailer := notify.NewMailer(notify.Config{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
				To:       cfg.SMTP.To,
				Throttle: config.Duration(cfg.SMTP.Throttle, 30*time.Minute),
			}, c, logger.Named("notify"))
			var notifier scheduler.Notifier
			if mailer.Enabled() {
				notifier = mailer
			}

			sched := scheduler.New(orch, broadcaster, notifier, scheduler.Config{
				PeriodicInterval: config.Duration(cfg.Approval.PeriodicInterval, 30*time.Second),
				FallbackInterval: config.Duration(cfg.Approval.FallbackInterval, 5*time.Minute),
				StatsInterval:    config.Duration(cfg.Approval.StatsInterval, 10*time.Minute),
			}, logger.Named("scheduler"))

			var limiter rate.Limiter
			if cfg.Rate.Enabled && cfg.Redis.Addr != "" {
				client := rdb.NewClient(&rdb.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
				defer client.Close()
				limiter = rate.NewRedisLimiter(client, cfg.Redis.Prefix+"rl:",
					cfg.Rate.MaxRequests, config.Duration(cfg.Rate.Window, time.Minute))
			}

			metricsHandler, err := metrics.Register(nil)
			if err != nil {
				return err
			}

			api := httpapi.NewServer(httpapi.Options{
				Store:        st,
				Scheduler:    sched,
				Cache:        c,
				Limiter:      limiter,
				Metrics:      metricsHandler,
				AdminKeyHash: cfg.Server.AdminKeyHash,
				Log:          logger.Named("http"),
			})
			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			sched.Start()
			errCh := make(chan error, 1)
			go func() {
				log.Info("admin API listening", zap.String("addr", cfg.Server.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			stop, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			select {
			case <-stop.Done():
				log.Info("shutdown signal received")
			case err := <-errCh:
				log.Error("http server failed", zap.Error(err))
			}

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			_ = httpServer.Shutdown(shutdownCtx)
			sched.Stop()
			return nil
		},
	}
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "approvald"})
			defer func() { _ = logger.Sync() }()

			ctx := context.Background()
			st, err := store.Open(ctx, cfg, logger.Named("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			pgStore, ok := st.(*pg.Store)
			if !ok {
				return fmt.Errorf("migrate requires storage driver postgres, have %q", cfg.Storage.Driver)
			}
			if err := pgStore.WaitReady(ctx, 30*time.Second); err != nil {
				return err
			}
			n, err := pgStore.Migrate(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", n)
			return nil
		},
	}
}

func sweepCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one approval sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "approvald"})
			defer func() { _ = logger.Sync() }()

			ctx := context.Background()
			st, err := store.Open(ctx, cfg, logger.Named("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			priv, err := token.LoadOrCreateKey(cfg.Token.KeyFile)
			if err != nil {
				return err
			}
			issuer := token.NewIssuer(cfg.Token.Issuer, priv, config.Duration(cfg.Token.TTL, 12*time.Hour))
			provider := identity.NewProvider(st.Users(), st.Sessions(), issuer, logger.Named("identity"))
			engine := approval.NewEngine(st.Requests(), st.Settings(), provider, logger.Named("engine"))
			orch := approval.NewOrchestrator(st, engine, approval.OrchestratorConfig{
				ConnectTimeout: config.Duration(cfg.Approval.ConnectTimeout, 5*time.Second),
				SweepTimeout:   config.Duration(cfg.Approval.SweepTimeout, 25*time.Second),
				StepDelay:      config.Duration(cfg.Approval.StepDelay, 100*time.Millisecond),
			}, logger.Named("sweep"))

			res := orch.ApproveAllPending(ctx)
			fmt.Printf("success=%v approved=%d total=%d message=%q\n",
				res.Success, res.ApprovedCount, res.TotalRequests, res.Message)
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "error: %s\n", e)
			}
			if !res.Success {
				return fmt.Errorf("sweep failed: %s", res.Message)
			}
			return nil
		},
	}
}

func apikeyHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apikey-hash [key]",
		Short: "Hash an admin API key for server.admin_key_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				fmt.Fprint(os.Stderr, "key: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return err
				}
				key = strings.TrimSpace(line)
			}
			if key == "" {
				return fmt.Errorf("empty key")
			}
			hash, err := apikey.Hash(key)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
