package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/CoderRahul01/unideploy/internal/auth"
	"github.com/CoderRahul01/unideploy/internal/config"
	"github.com/CoderRahul01/unideploy/internal/guard"
	"github.com/CoderRahul01/unideploy/internal/httpserver"
	"github.com/CoderRahul01/unideploy/internal/platform"
	"github.com/CoderRahul01/unideploy/internal/telemetry"
	"github.com/CoderRahul01/unideploy/pkg/ai"
	"github.com/CoderRahul01/unideploy/pkg/ai/anthropic"
	"github.com/CoderRahul01/unideploy/pkg/autofix"
	"github.com/CoderRahul01/unideploy/pkg/build"
	"github.com/CoderRahul01/unideploy/pkg/deployment"
	"github.com/CoderRahul01/unideploy/pkg/intent"
	"github.com/CoderRahul01/unideploy/pkg/logbroker"
	"github.com/CoderRahul01/unideploy/pkg/notify"
	"github.com/CoderRahul01/unideploy/pkg/project"
	"github.com/CoderRahul01/unideploy/pkg/reconciler"
	"github.com/CoderRahul01/unideploy/pkg/sandbox"
	"github.com/CoderRahul01/unideploy/pkg/sandbox/mock"
	"github.com/CoderRahul01/unideploy/pkg/sandbox/remote"
	"github.com/CoderRahul01/unideploy/pkg/system"
	"github.com/CoderRahul01/unideploy/pkg/user"
	"github.com/CoderRahul01/unideploy/pkg/vectorindex"
	"github.com/CoderRahul01/unideploy/pkg/wisdom"
	"github.com/CoderRahul01/unideploy/pkg/wsgateway"
)

// Run is the application entry point: it reads configuration, connects to
// infrastructure, wires every domain package, and serves HTTP (or runs the
// maintenance loop standalone) until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting control plane", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	if cfg.Mode == "migrate" {
		return nil
	}

	metricsReg := telemetry.NewRegistry(append(telemetry.All(), httpserver.HTTPCollectors()...)...)

	w, err := newWiring(cfg, logger, db, rdb)
	if err != nil {
		return fmt.Errorf("wiring dependencies: %w", err)
	}

	w.intentWriter.Start(ctx)
	defer w.intentWriter.Close()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, w)
	case "reconciler":
		return runReconcilerStandalone(ctx, cfg, logger, w)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// wiring bundles every domain collaborator built from cfg, shared between
// the api and reconciler run modes.
type wiring struct {
	userService  *user.Service
	projectStore *project.Store
	deployStore  *deployment.Store
	sandboxes    sandbox.Provider
	limits       guard.Limits
	logs         *logbroker.Broker
	costLedger   *intent.CostLedger
	intentWriter *intent.Writer
	pipeline     *deployment.Pipeline
	projectSvc   *project.Service
	analyzer     *deployment.Analyzer
	autofixer    deployment.FixApplier
}

func newWiring(cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) (*wiring, error) {
	limits := guard.DefaultLimits()
	limits.MaxUploadBytes = cfg.PlatformMaxBuildBytes
	limits.PlatformMaxRunning = cfg.PlatformMaxRunningTotal
	limits.MaxSeedRunningPerOwner = cfg.PlatformMaxSeedPerOwner

	userService := user.NewService(pool, logger)
	projectStore := project.NewStore(pool)
	deployStore := deployment.NewStore(pool)

	logs := logbroker.New(rdb, logger)
	costLedger := intent.NewCostLedger(cfg.CostLogPath)
	intentWriter := intent.NewWriter(pool, logger)

	var sandboxes sandbox.Provider
	switch cfg.SandboxProvider {
	case "remote":
		sandboxes = remote.New(cfg.SandboxAPIURL, cfg.SandboxAPIKey)
	default:
		sandboxes = mock.New()
		logger.Info("sandbox provider: using in-process mock (set SANDBOX_PROVIDER=remote for a real provider)")
	}

	orchestrator := build.NewOrchestrator()

	var aiClient ai.Client
	if cfg.AnthropicAPIKey != "" {
		aiClient = anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	} else {
		logger.Info("AutoFix disabled: ANTHROPIC_API_KEY not set")
	}

	notifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)

	pipelineCfg := deployment.PipelineConfig{
		WorkspaceRoot:   cfg.WorkspaceRoot,
		ImageRegistry:   cfg.ImageRegistryURL,
		PublicSuffix:    cfg.PublicSuffix,
		DeploymentTotal: telemetry.DeploymentsTotal,
		DeployDuration:  telemetry.DeploymentDurationSeconds,
		SandboxesActive: telemetry.SandboxesActive,
	}

	// Pipeline is built first with no AutoFixer: Flow needs a Redeployer,
	// and Pipeline.Redeploy is that Redeployer, so Flow can only be built
	// once Pipeline exists. SetAutoFixer closes the loop afterward.
	pipeline := deployment.NewPipeline(
		pipelineCfg,
		deployStore,
		projectStore,
		sandboxes,
		orchestrator,
		vectorindex.NoopClient{},
		nil,
		logs,
		notifier,
		intentWriter,
		costLedger,
		logger,
	)

	var autofixer deployment.FixApplier
	if aiClient != nil {
		flow := autofix.NewFlow(aiClient, vectorindex.NoopClient{}, wisdom.NoopClient{}, sandboxes, pipeline, telemetry.AutofixMetrics{}, logger)
		pipeline.SetAutoFixer(flow)
		autofixer = flow
	}

	projectSvc := project.NewService(pool, projectStore, deployStore, pipeline, sandboxes, limits, intentWriter, logger)
	analyzer := deployment.NewAnalyzer(cfg.WorkspaceRoot)

	return &wiring{
		userService:  userService,
		projectStore: projectStore,
		deployStore:  deployStore,
		sandboxes:    sandboxes,
		limits:       limits,
		logs:         logs,
		costLedger:   costLedger,
		intentWriter: intentWriter,
		pipeline:     pipeline,
		projectSvc:   projectSvc,
		analyzer:     analyzer,
		autofixer:    autofixer,
	}, nil
}

// resolveVerifier picks the OIDC verifier when both OIDC_ISSUER_URL and
// OIDC_CLIENT_ID are set and otherwise falls back to the development
// bearer-token stub. cfg.Mode is not consulted, so a deployment without the
// OIDC variables accepts dev tokens.
func resolveVerifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Verifier, error) {
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("initializing OIDC verifier: %w", err)
		}
		logger.Info("authentication: OIDC verifier enabled", "issuer", cfg.OIDCIssuerURL)
		return v, nil
	}
	logger.Info("authentication: using dev-token verifier (OIDC_ISSUER_URL not set)")
	return auth.NewDevVerifier(), nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, w *wiring) error {
	verifier, err := resolveVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, rdb, metricsReg, verifier, w.userService)

	projectHandler := project.NewHandler(w.projectSvc, logger)
	projectHandler.Mount(srv.APIRouter)

	deployHandler := deployment.NewHandler(w.deployStore, w.projectStore, w.pipeline, w.analyzer, w.limits, w.projectStore, w.autofixer, w.intentWriter, logger)
	deployHandler.Mount(srv.APIRouter)

	systemHandler := system.NewHandler(w.limits, w.costLedger)
	systemHandler.Mount(srv.APIRouter)

	wsHandler := wsgateway.NewHandler(w.deployStore, w.logs, cfg.CORSAllowedOrigins, logger)
	wsHandler.Mount(srv.Router)

	go func() {
		if err := runReconcilerLoop(ctx, cfg, logger, w); err != nil {
			logger.Error("reconciler loop stopped", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// runReconcilerStandalone runs only the maintenance loop, for a deployment
// that splits the reconciler into its own process (cfg.Mode=reconciler).
func runReconcilerStandalone(ctx context.Context, cfg *config.Config, logger *slog.Logger, w *wiring) error {
	return runReconcilerLoop(ctx, cfg, logger, w)
}

func runReconcilerLoop(ctx context.Context, cfg *config.Config, logger *slog.Logger, w *wiring) error {
	interval, err := time.ParseDuration(cfg.ReconcileInterval)
	if err != nil {
		return fmt.Errorf("parsing RECONCILE_INTERVAL: %w", err)
	}
	idleAfter, err := time.ParseDuration(cfg.IdleSleepAfter)
	if err != nil {
		return fmt.Errorf("parsing IDLE_SLEEP_AFTER: %w", err)
	}

	rc := reconciler.New(
		project.NewReconcilerStore(w.projectStore),
		w.sandboxes,
		w.sandboxes,
		deployment.NewReconcilerDeployments(w.deployStore),
		w.costLedger,
		w.intentWriter,
		interval,
		idleAfter,
		w.limits.DailyRuntimeLimitMins,
		logger,
	)
	return rc.Run(ctx)
}
