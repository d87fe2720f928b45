package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sipico/freesub/internal/config"
	"github.com/sipico/freesub/internal/logging"
	"github.com/sipico/freesub/internal/metrics"
	"github.com/sipico/freesub/internal/provider"
	"github.com/sipico/freesub/internal/record"
	"github.com/sipico/freesub/internal/storage"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configFile   string
	policyFile   string
	storePath    string
	storeBackend string
	logLevel     string
	metricsFile  string

	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	policies *record.PolicySet
	store    storage.Store
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "freesub",
		Short:         "Validate, deploy and audit free subdomain requests",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "optional YAML settings file")
	flags.StringVar(&a.policyFile, "policy", "", "domain policy file (default config/domains.yml)")
	flags.StringVar(&a.storePath, "store", "", "record store directory or database file (default domains)")
	flags.StringVar(&a.storeBackend, "store-backend", "", "record store backend: file or sqlite")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(newValidateCmd(a), newDeployCmd(a), newHealthCheckCmd(a))
	return root
}

// setup loads settings, then applies command-line flags on top.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("policy") {
		cfg.PolicyFile = a.policyFile
	}
	if flags.Changed("store") {
		cfg.StorePath = a.storePath
	}
	if flags.Changed("store-backend") {
		cfg.StoreBackend = a.storeBackend
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = a.metricsFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.LogLevel, a.stderr)
	if err != nil {
		return err
	}
	a.logger = logger.With("run_id", uuid.NewString(), "command", cmd.Name())

	a.registry = prometheus.NewRegistry()
	if err := metrics.Init(a.registry); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	policies, err := config.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		return err
	}
	a.policies = policies

	store, err := openStore(cmd.Context(), cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		return err
	}
	a.store = store

	a.logger.Debug("configuration loaded",
		"policy_file", cfg.PolicyFile,
		"store_backend", cfg.StoreBackend,
		"store_path", cfg.StorePath,
		"domains", len(policies.Domains))
	return nil
}

func openStore(ctx context.Context, backend, path string) (storage.Store, error) {
	switch backend {
	case "sqlite":
		store, err := storage.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close() //nolint:errcheck
			return nil, fmt.Errorf("record database %s is not usable: %w", path, err)
		}
		return store, nil
	case "file", "":
		return storage.NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// providerClient checks the token and builds the provider client.
func (a *app) providerClient() (*provider.Client, error) {
	if err := a.cfg.RequireProviderToken(); err != nil {
		return nil, err
	}
	burst := int(math.Ceil(a.cfg.ProviderRateLimit))
	httpClient := &http.Client{
		Transport: &provider.LoggingTransport{Transport: http.DefaultTransport, Logger: a.logger},
	}
	return provider.NewClient(a.cfg.ProviderAPIToken,
		provider.WithBaseURL(a.cfg.ProviderAPIURL),
		provider.WithHTTPClient(httpClient),
		provider.WithTimeout(a.cfg.ProviderTimeout),
		provider.WithRateLimit(a.cfg.ProviderRateLimit, burst),
		provider.WithLogger(a.logger),
	), nil
}

// verifiedClient is providerClient plus a token check against the provider,
// so credential problems are reported before any record is touched.
func (a *app) verifiedClient(ctx context.Context) (*provider.Client, error) {
	client, err := a.providerClient()
	if err != nil {
		return nil, err
	}
	status, err := client.VerifyToken(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("provider token verified", "token_id", status.ID, "status", status.Status)
	return client, nil
}

// registered lists the store. Unreadable entries are logged and skipped.
func (a *app) registered(ctx context.Context) ([]*record.Registered, error) {
	recs, err := a.store.List(ctx)
	var partial *storage.PartialError
	if errors.As(err, &partial) {
		for name, ferr := range partial.Failures {
			a.logger.Warn("skipping unreadable record", "record", name, "error", ferr)
		}
		return recs, nil
	}
	return recs, err
}

// close releases the store and writes the metrics file.
func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.cfg != nil && a.cfg.MetricsFile != "" && a.registry != nil {
		errs = append(errs, metrics.WriteTextfile(a.registry, a.cfg.MetricsFile))
	}
	return errors.Join(errs...)
}

func (a *app) printf(format string, args ...any) {
	//nolint:errcheck
	fmt.Fprintf(a.stdout, format, args...)
}
