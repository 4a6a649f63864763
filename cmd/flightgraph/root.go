package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/systemshift/flightgraph/internal/config"
	"github.com/systemshift/flightgraph/internal/graph"
	"github.com/systemshift/flightgraph/internal/logging"
)

type globalOptions struct {
	EnvFiles  []string
	Store     string
	LogLevel  string
	LogFormat string
}

// app holds what every subcommand needs after flags are applied.
type app struct {
	cfg *config.Config
	log *logrus.Logger
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:           "flightgraph",
		Short:         "Load airline on-time performance data into a property graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "env files to load (default .env, .env.local)")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "graph store: neo4j or sqlite")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format: text or json")

	cmd.AddCommand(newImportCmd(&opts))
	cmd.AddCommand(newSchemaCmd(&opts))
	cmd.AddCommand(newServeCmd(&opts))
	cmd.AddCommand(newRunsCmd(&opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and builds the logger.
func setup(opts *globalOptions) (*app, error) {
	cfg, err := config.Load(opts.EnvFiles...)
	if err != nil {
		return nil, err
	}
	if opts.Store != "" {
		cfg.Store = opts.Store
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) openStore(ctx context.Context) (graph.Store, error) {
	switch a.cfg.Store {
	case config.StoreSQLite:
		store, err := graph.NewSQLite(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.log.WithField("path", a.cfg.SQLitePath).Info("opened sqlite graph store")
		return store, nil
	default:
		store, err := graph.NewNeo4j(ctx, a.cfg.Neo4j.GraphConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
		}
		a.log.WithField("uri", a.cfg.Neo4j.URI()).Info("connected to Neo4j")
		return store, nil
	}
}
