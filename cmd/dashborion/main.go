// Command dashborion runs the dashboard authentication service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/dashborion/dashborion/pkg/api"
	"github.com/dashborion/dashborion/pkg/audit"
	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/authorizer"
	"github.com/dashborion/dashborion/pkg/awsident"
	"github.com/dashborion/dashborion/pkg/config"
	"github.com/dashborion/dashborion/pkg/deviceflow"
	"github.com/dashborion/dashborion/pkg/directory"
	"github.com/dashborion/dashborion/pkg/middleware"
	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/rbac"
	"github.com/dashborion/dashborion/pkg/saml"
	"github.com/dashborion/dashborion/pkg/sessioncrypto"
	"github.com/dashborion/dashborion/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dashborion: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("opentelemetry init failed: %w", err)
	}

	sealer, err := buildSealer(ctx, cfg)
	if err != nil {
		return err
	}

	redisClient, err := buildRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	st := store.NewRedisStoreFromClient(redisClient)

	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxConns)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres is unreachable: %w", err)
	}

	dir, err := directory.NewPostgresDirectory(db)
	if err != nil {
		return err
	}
	if granted, err := dir.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminEmail); err != nil {
		return fmt.Errorf("bootstrap admin setup failed: %w", err)
	} else if granted {
		logger.WithField("email", cfg.BootstrapAdminEmail).Info("granted bootstrap admin")
	}

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	var auditor audit.Logger = dbAudit
	if cfg.Audit.FilePath != "" {
		fileAudit, err := audit.NewFileLogger(cfg.Audit.FilePath)
		if err != nil {
			return err
		}
		auditor = audit.NewMultiLogger(dbAudit, fileAudit)
	}

	resolver, err := rbac.NewResolver(dir, 1024, time.Minute)
	if err != nil {
		return err
	}

	sessions := auth.NewSessionManager(sealer, st, auth.SessionTTL)
	issuer := auth.NewTokenIssuer(sealer, st, auth.AccessTokenTTL, auth.RefreshTokenTTL)
	coordinator := deviceflow.NewCoordinator(st, sealer, issuer, cfg.Server.ExternalURL+"/activate",
		deviceflow.WithCodeTTL(cfg.DeviceFlow.CodeTTL),
		deviceflow.WithPollInterval(cfg.DeviceFlow.PollInterval),
	)

	samlHandlers, err := buildSAML(cfg, sessions, resolver, dir, auditor, logger)
	if err != nil {
		return err
	}

	mappings := []awsident.MappingSource{awsident.NewStoreMappings(st)}
	var fileMappings *awsident.FileMappings
	if cfg.AWS.MappingFile != "" {
		fileMappings, err = awsident.NewFileMappings(cfg.AWS.MappingFile, logger)
		if err != nil {
			return err
		}
		mappings = append([]awsident.MappingSource{fileMappings}, mappings...)
	}
	verifier := awsident.NewVerifier(awsident.Config{
		ExpectedServerID:            cfg.AWS.ServerID,
		ExtractEmailFromSessionName: cfg.AWS.ExtractEmailFromSessionName,
	}, dir, logger, mappings...)

	az := authorizer.New(auditor, logger,
		&authorizer.CookieStrategy{Sessions: sessions, Resolver: resolver},
		&authorizer.BearerStrategy{Issuer: issuer, Resolver: resolver},
		&authorizer.SigV4Strategy{Verifier: verifier, Resolver: resolver},
	)

	limiter := middleware.NewDistributedRateLimiter(redisClient, &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.RateLimit.Burst,
	}, "ratelimit")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	server := api.NewServer(api.Config{
		Authorizer:     az,
		SAMLHandlers:   samlHandlers,
		DeviceHandlers: deviceflow.NewHandlers(coordinator, auditor),
		Sessions:       sessions,
		Issuer:         issuer,
		Auditor:        auditor,
		AuditStore:     dbAudit,
		Directory:      dir,
		RateLimit:      middleware.DistributedRateLimit(limiter),
		Logger:         logger,
		Metrics:        metrics,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	sweeper := cron.New()
	if cfg.Audit.RetentionDays > 0 {
		policy := audit.RetentionPolicy{RetentionDays: cfg.Audit.RetentionDays}
		_, err := sweeper.AddFunc(cfg.Audit.SweepSchedule, func() {
			removed, err := dbAudit.Sweep(context.Background(), policy)
			if err != nil {
				logger.WithError(err).Error("audit retention sweep failed")
				return
			}
			if removed > 0 {
				logger.WithField("removed", removed).Info("audit retention sweep complete")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid audit sweep schedule %q: %w", cfg.Audit.SweepSchedule, err)
		}
		sweeper.Start()
	}

	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		stopCtx := sweeper.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		return nil
	})
	sm.RegisterShutdownFunc(func(context.Context) error { return auditor.Close() })
	sm.RegisterShutdownFunc(func(context.Context) error {
		if fileMappings != nil {
			fileMappings.Close()
		}
		return nil
	})
	sm.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	sm.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			// Self-terminate so the shutdown manager unwinds cleanly.
			p, findErr := os.FindProcess(os.Getpid())
			if findErr == nil {
				_ = p.Signal(os.Interrupt)
			}
		}
	}()

	return sm.WaitForShutdown()
}

// buildSealer loads the session key from SSM when configured, otherwise from
// the environment. Key material is never logged.
func buildSealer(ctx context.Context, cfg *config.Config) (*sessioncrypto.Sealer, error) {
	var source sessioncrypto.KeySource
	if cfg.Crypto.SSMParameter != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		source = sessioncrypto.SSMKeySource{
			Client:    ssm.NewFromConfig(awsCfg),
			Parameter: cfg.Crypto.SSMParameter,
		}
	} else {
		source = sessioncrypto.EnvKeySource{Var: cfg.Crypto.KeyEnvVar}
	}

	key, err := source.Load(ctx)
	if err != nil {
		return nil, err
	}
	return sessioncrypto.NewSealer(key)
}

func buildRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis is unreachable: %w", err)
	}
	return client, nil
}

func buildSAML(cfg *config.Config, sessions *auth.SessionManager, resolver *rbac.Resolver,
	dir directory.Directory, auditor audit.Logger, logger *observability.Logger) (*saml.Handlers, error) {
	if cfg.SAML.IdPSSOURL == "" {
		logger.Info("SAML SSO is not configured; browser login disabled")
		return nil, nil
	}

	certPEM, err := cfg.SAML.IdPCertificate()
	if err != nil {
		return nil, err
	}
	provider, err := saml.NewProvider(saml.Config{
		IdPSSOURL:         cfg.SAML.IdPSSOURL,
		IdPIssuer:         cfg.SAML.IdPIssuer,
		IdPCertificatePEM: certPEM,
		SPEntityID:        cfg.SAML.SPEntityID,
		ACSURL:            cfg.Server.ExternalURL + "/saml/acs",
		GroupsAttribute:   cfg.SAML.GroupsAttribute,
	})
	if err != nil {
		return nil, err
	}

	processor := saml.NewProcessor(provider, sessions, resolver, dir, logger)
	handlers := saml.NewHandlers(processor, auditor, auth.SessionTTL)
	handlers.SecureCookies = cfg.Server.SecureCookies
	return handlers, nil
}
