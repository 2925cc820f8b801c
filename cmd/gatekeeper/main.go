// Command gatekeeper runs the API Similarity Gatekeeper Signature
// Service: it hydrates the LSH index from durable storage, serves the
// admission API over HTTP, and (optionally) runs the background
// reconciler that heals drift between the store and the index. It also
// exposes one-shot subcommands for driving the same Service operations
// from a terminal or a script, without standing up the HTTP server.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/audit"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/reconciler"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/service"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/sigstore"
	"github.com/chartly-platform/gatekeeper/internal/gatekeeper/transport"
	"github.com/chartly-platform/gatekeeper/internal/rulesetconfig"
	"github.com/chartly-platform/gatekeeper/pkg/telemetry"
)

const serviceName = "gatekeeper"

type cfg struct {
	Addr            string
	Env             string
	LogLevel        telemetry.Level
	ShutdownTimeout time.Duration
	StoreDriver     string // postgres|sqlite|memory
	StoreDSN        string
	RulesetPath     string
	AuditMaxEntries int
	ReconcileEvery  time.Duration
	ReconcileJitter float64
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "check":
		cmdCheck(os.Args[2:])
	case "index":
		cmdIndex(os.Args[2:])
	case "remove":
		cmdRemove(os.Args[2:])
	case "init-schema":
		cmdInitSchema(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("gatekeeper serve [flags]")
	fmt.Println("gatekeeper check --tenant T --api-id ID --spec path.json [flags]")
	fmt.Println("gatekeeper index --tenant T --api-id ID --spec path.json [flags]")
	fmt.Println("gatekeeper remove --tenant T --api-id ID [flags]")
	fmt.Println("gatekeeper init-schema [flags]")
}

// storeFlags registers the flags shared by every subcommand that needs a
// Signature Store, returning accessors bound to the FlagSet.
type storeFlags struct {
	driver      *string
	dsn         *string
	rulesetPath *string
}

func registerStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		driver:      fs.String("store-driver", getenv("GATEKEEPER_STORE_DRIVER", "memory"), "postgres|sqlite|memory"),
		dsn:         fs.String("store-dsn", getenv("GATEKEEPER_STORE_DSN", ""), "data source name for the chosen store driver"),
		rulesetPath: fs.String("ruleset", getenv("GATEKEEPER_RULESET_PATH", ""), "path to a ruleset YAML file (defaults built in if empty)"),
	}
}

// buildService opens the store and constructs + hydrates a Service, for
// use by the one-shot subcommands. Callers own the returned closeStore.
func buildService(sf storeFlags, logger *telemetry.Logger) (*service.Service, sigstore.Store, func(), error) {
	ruleset := rulesetconfig.Default()
	if *sf.rulesetPath != "" {
		loaded, err := rulesetconfig.Load(*sf.rulesetPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading ruleset: %w", err)
		}
		ruleset = loaded
	}

	store, closeStore, err := openStore(cfg{StoreDriver: *sf.driver, StoreDSN: *sf.dsn})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening signature store: %w", err)
	}

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("ensuring schema: %w", err)
	}

	svcCfg := service.DefaultConfig()
	svcCfg.Width = ruleset.NumHashFunctions
	svcCfg.Bands = ruleset.NumBands
	svcCfg.Logger = logger
	svc, err := service.New(svcCfg, store)
	if err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("constructing service: %w", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("hydrating index: %w", err)
	}
	return svc, store, closeStore, nil
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	sf := registerStoreFlags(fs)
	tenant := fs.String("tenant", "", "tenant id")
	apiID := fs.String("api-id", "", "API id to check")
	specPath := fs.String("spec", "", "path to the OpenAPI spec file")
	threshold := fs.Float64("threshold", 0, "similarity threshold override (0 = ruleset default)")
	_ = fs.Parse(args)

	requireFlags(map[string]string{"tenant": *tenant, "api-id": *apiID, "spec": *specPath})

	logger := telemetry.Nop
	svc, _, closeStore, err := buildService(sf, logger)
	fatalOn(err)
	defer closeStore()

	spec, err := os.ReadFile(*specPath)
	fatalOn(err)

	res, err := svc.CheckForDuplicates(context.Background(), spec, *apiID, *tenant, *threshold)
	fatalOn(err)
	printJSON(res)
	if res.IsDuplicate {
		os.Exit(1)
	}
}

func cmdIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	sf := registerStoreFlags(fs)
	tenant := fs.String("tenant", "", "tenant id")
	apiID := fs.String("api-id", "", "API id to index")
	specPath := fs.String("spec", "", "path to the OpenAPI spec file")
	_ = fs.Parse(args)

	requireFlags(map[string]string{"tenant": *tenant, "api-id": *apiID, "spec": *specPath})

	logger := telemetry.Nop
	svc, _, closeStore, err := buildService(sf, logger)
	fatalOn(err)
	defer closeStore()

	spec, err := os.ReadFile(*specPath)
	fatalOn(err)

	dto, err := svc.IndexAPI(context.Background(), spec, *apiID, *tenant)
	fatalOn(err)
	printJSON(dto)
}

func cmdRemove(args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	sf := registerStoreFlags(fs)
	tenant := fs.String("tenant", "", "tenant id")
	apiID := fs.String("api-id", "", "API id to remove")
	_ = fs.Parse(args)

	requireFlags(map[string]string{"tenant": *tenant, "api-id": *apiID})

	logger := telemetry.Nop
	svc, _, closeStore, err := buildService(sf, logger)
	fatalOn(err)
	defer closeStore()

	err = svc.RemoveAPI(context.Background(), *apiID, *tenant)
	fatalOn(err)
	fmt.Println("removed")
}

func cmdInitSchema(args []string) {
	fs := flag.NewFlagSet("init-schema", flag.ExitOnError)
	sf := registerStoreFlags(fs)
	_ = fs.Parse(args)

	store, closeStore, err := openStore(cfg{StoreDriver: *sf.driver, StoreDSN: *sf.dsn})
	fatalOn(err)
	defer closeStore()

	fatalOn(store.EnsureSchema(context.Background()))
	fmt.Println("schema ready")
}

func requireFlags(vals map[string]string) {
	for name, v := range vals {
		if strings.TrimSpace(v) == "" {
			fmt.Fprintf(os.Stderr, "missing required --%s\n", name)
			os.Exit(2)
		}
	}
}

func fatalOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdServe(args []string) {
	c := loadCfg(args)
	logger := telemetry.NewLogger(os.Stdout, telemetry.Options{Service: serviceName, Level: c.LogLevel, Timestamp: true})

	if err := runServe(c, logger); err != nil {
		logger.Error(context.Background(), "gatekeeper: fatal startup error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func runServe(c cfg, logger *telemetry.Logger) error {
	ctx := context.Background()

	ruleset := rulesetconfig.Default()
	if c.RulesetPath != "" {
		loaded, err := rulesetconfig.Load(c.RulesetPath)
		if err != nil {
			return fmt.Errorf("loading ruleset: %w", err)
		}
		ruleset = loaded
	}
	if !ruleset.Enabled {
		logger.Info(ctx, "gatekeeper: ruleset disabled, admission checks will not block", nil)
	}

	store, closeStore, err := openStore(c)
	if err != nil {
		return fmt.Errorf("opening signature store: %w", err)
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	svcCfg := service.DefaultConfig()
	svcCfg.Width = ruleset.NumHashFunctions
	svcCfg.Bands = ruleset.NumBands
	svcCfg.Logger = logger
	svc, err := service.New(svcCfg, store)
	if err != nil {
		return fmt.Errorf("constructing service: %w", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("hydrating index: %w", err)
	}
	logger.Info(ctx, "gatekeeper: index hydrated", map[string]any{"indexed_apis": svc.GetIndexSize()})

	healthFn := buildHealthFn(c, svc, store)

	srv := transport.NewServer(svc, logger, healthFn)
	srv.SetDefaultThreshold(ruleset.SimilarityThreshold)
	srv.SetAuditLedger(audit.New(c.AuditMaxEntries))

	recon := reconciler.New(store, svc.Index(), svcCfg.Width, c.ReconcileEvery, c.ReconcileJitter, logger)
	recon.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = recon.Stop(stopCtx)
	}()

	httpSrv := &http.Server{
		Addr:         c.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "gatekeeper: server starting", map[string]any{"addr": c.Addr, "env": c.Env})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info(ctx, "gatekeeper: shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "gatekeeper: graceful shutdown failed", map[string]any{"error": err.Error()})
		return httpSrv.Close()
	}
	logger.Info(ctx, "gatekeeper: shutdown complete", nil)
	return nil
}

func openStore(c cfg) (sigstore.Store, func(), error) {
	switch strings.ToLower(c.StoreDriver) {
	case "memory", "":
		return sigstore.NewMemStore(), func() {}, nil
	case "postgres":
		db, err := sql.Open("postgres", c.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		st, err := sigstore.NewPostgresStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, func() { _ = db.Close() }, nil
	case "sqlite":
		db, err := sql.Open("sqlite3", c.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		st, err := sigstore.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q (want postgres, sqlite, or memory)", c.StoreDriver)
	}
}

func buildHealthFn(c cfg, svc *service.Service, store sigstore.Store) func() telemetry.HealthSnapshot {
	storeCheck := telemetry.NewSignatureStoreHealthCheck("signature_store", func() error {
		return store.EnsureSchema(context.Background())
	})
	indexCheck := telemetry.NewLSHIndexHealthCheck("lsh_index", svc.GetIndexSize)
	return func() telemetry.HealthSnapshot {
		comps := []telemetry.ComponentStatus{storeCheck(), indexCheck()}
		snap, err := telemetry.NewHealthSnapshot(serviceName, c.Env, "", comps, time.Time{})
		if err != nil {
			return telemetry.HealthSnapshot{Service: serviceName, Overall: telemetry.StatusUnknown}
		}
		return snap
	}
}

func loadCfg(args []string) cfg {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", getenv("GATEKEEPER_ADDR", ":8088"), "listen address")
	env := fs.String("env", getenv("GATEKEEPER_ENV", "local"), "deployment environment")
	logLevel := fs.String("log-level", getenv("GATEKEEPER_LOG_LEVEL", "info"), "debug|info|warn|error")
	shutdownMS := fs.Int("shutdown-timeout-ms", intFromEnv("GATEKEEPER_SHUTDOWN_TIMEOUT_MS", 10000), "graceful shutdown timeout in ms")
	storeDriver := fs.String("store-driver", getenv("GATEKEEPER_STORE_DRIVER", "memory"), "postgres|sqlite|memory")
	storeDSN := fs.String("store-dsn", getenv("GATEKEEPER_STORE_DSN", ""), "data source name for the chosen store driver")
	rulesetPath := fs.String("ruleset", getenv("GATEKEEPER_RULESET_PATH", ""), "path to a ruleset YAML file (defaults built in if empty)")
	auditMax := fs.Int("audit-max-entries", intFromEnv("GATEKEEPER_AUDIT_MAX_ENTRIES", 0), "bound on in-memory audit ledger size (0 = package default)")
	reconcileEveryMS := fs.Int("reconcile-interval-ms", intFromEnv("GATEKEEPER_RECONCILE_INTERVAL_MS", 300000), "reconciler poll interval in ms")
	reconcileJitter := fs.Float64("reconcile-jitter", floatFromEnv("GATEKEEPER_RECONCILE_JITTER", 0.1), "fractional jitter applied to the reconciler interval")
	_ = fs.Parse(args)

	return cfg{
		Addr:            *addr,
		Env:             *env,
		LogLevel:        telemetry.Level(strings.ToLower(*logLevel)),
		ShutdownTimeout: time.Duration(*shutdownMS) * time.Millisecond,
		StoreDriver:     *storeDriver,
		StoreDSN:        *storeDSN,
		RulesetPath:     *rulesetPath,
		AuditMaxEntries: *auditMax,
		ReconcileEvery:  time.Duration(*reconcileEveryMS) * time.Millisecond,
		ReconcileJitter: *reconcileJitter,
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
