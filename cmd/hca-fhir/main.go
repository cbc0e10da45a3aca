package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/hcafhir/internal/config"
	"github.com/ehr/hcafhir/internal/domain/identity"
	"github.com/ehr/hcafhir/internal/domain/oncology"
	"github.com/ehr/hcafhir/internal/domain/terminology"
	"github.com/ehr/hcafhir/internal/pipeline"
	"github.com/ehr/hcafhir/internal/platform/auth"
	"github.com/ehr/hcafhir/internal/platform/db"
	"github.com/ehr/hcafhir/internal/platform/delivery"
	"github.com/ehr/hcafhir/internal/platform/fhir"
	"github.com/ehr/hcafhir/internal/platform/receiver"
	"github.com/ehr/hcafhir/internal/platform/tabular"
)

// tokenSubject identifies the converter in the tokens it signs.
const tokenSubject = "hca-fhir-convert"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "hca-fhir",
		Short:        "Convert HCA oncology extracts to FHIR DSTU2",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(receiveCmd())
	rootCmd.AddCommand(tablesCmd())
	return rootCmd
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [base-url]",
		Short: "Convert the CSV extract; print payloads or submit them to base-url",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.FHIRBaseURL = strings.TrimRight(strings.TrimSpace(args[0]), "/")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			start := time.Now()
			sum, err := runConvert(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			logger.Info().
				Int("rows", sum.Rows).
				Dur("elapsed", time.Since(start)).
				Msg("done")
			return nil
		},
	}

	f := cmd.Flags()
	f.String("input", "", "CSV extract to convert")
	f.String("condition-map", "", "condition lookup table (.json, .yaml)")
	f.String("procedure-map", "", "procedure lookup table (.json, .yaml)")
	f.String("medication-map", "", "medication lookup table (.json, .yaml)")
	f.String("bundle-mode", "", "run, patient or none")
	f.String("field-policy", "", "strict or lenient")
	f.String("fhir-version", "", "payload schema; only dstu2")
	f.String("id-prefix", "", "prefix for generated resource ids")
	f.Duration("timeout", 0, "per-request timeout for the FHIR endpoint")
	return cmd
}

func receiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Run a minimal FHIR endpoint for local conversion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runReceive(ctx, cfg, logger)
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	return cmd
}

func tablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Load the lookup tables and report their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			tables, err := loadTables(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range []*terminology.Table{tables.Condition, tables.Procedure, tables.Medication} {
				fmt.Fprintf(out, "%-10s %4d entries (%s match)\n", t.Name(), t.Len(), t.Policy())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("condition-map", "", "condition lookup table (.json, .yaml)")
	f.String("procedure-map", "", "procedure lookup table (.json, .yaml)")
	f.String("medication-map", "", "medication lookup table (.json, .yaml)")
	return cmd
}

// newLogger writes JSON to w, or console output in development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func loadTables(cfg *config.Config) (*terminology.Tables, error) {
	return terminology.LoadTables(terminology.Paths{
		Condition:  cfg.ConditionMap,
		Procedure:  cfg.ProcedureMap,
		Medication: cfg.MedicationMap,
	})
}

func runConvert(ctx context.Context, cfg *config.Config, logger zerolog.Logger, stdout io.Writer) (pipeline.Summary, error) {
	tables, err := loadTables(cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}

	src, err := tabular.Open(cfg.InputCSV)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer src.Close()

	norm := oncology.NewNormalizer(tables, identity.NewSynthesizer(),
		oncology.WithFieldPolicy(oncology.FieldPolicy(cfg.FieldPolicy)),
		oncology.WithIDPrefix(cfg.IDPrefix),
		oncology.WithLogger(logger),
	)

	var sink delivery.Sink = delivery.NewStdoutSink(stdout)
	if cfg.HasTarget() {
		opts := []fhir.ClientOption{fhir.WithTimeout(cfg.HTTPTimeout)}
		if cfg.AuthSecret != "" {
			opts = append(opts, fhir.WithTokenSource(auth.NewTokenSource(cfg.AuthSecret, cfg.AuthIssuer, tokenSubject)))
		}
		sink = delivery.NewRemoteSink(fhir.NewClient(cfg.FHIRBaseURL, opts...), logger)
		logger.Info().Str("target", cfg.FHIRBaseURL).Str("bundle_mode", cfg.BundleMode).Msg("submitting to FHIR endpoint")
	}

	p := pipeline.New(src, norm, sink,
		pipeline.WithBundleMode(pipeline.BundleMode(cfg.BundleMode)),
		pipeline.WithBaseURL(cfg.FHIRBaseURL),
		pipeline.WithLogger(logger),
	)
	return p.Run(ctx)
}

func runReceive(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var (
		store    receiver.Store = receiver.NewMemoryStore()
		backend                 = "memory"
		describe func() interface{}
	)

	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := receiver.NewPGStore(pool)
		applied, err := pg.EnsureSchema(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int("applied", applied).Msg("receiver schema ready")
		store, backend, describe = pg, "postgres", pg.Stats
	}

	if cfg.AuthSecret == "" {
		logger.Warn().Msg("FHIR_AUTH_SECRET is not set, receiver accepts unauthenticated writes")
	}

	e := receiver.NewServer(receiver.ServerConfig{
		Store:      store,
		Logger:     logger,
		Backend:    backend,
		Describe:   describe,
		AuthSecret: cfg.AuthSecret,
		AuthIssuer: cfg.AuthIssuer,
	})
	return receiver.Serve(ctx, e, cfg.ReceiveAddr, logger)
}
