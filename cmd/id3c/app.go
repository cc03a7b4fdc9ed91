package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/seattleflu/id3c-sub000/internal/config"
	"github.com/seattleflu/id3c-sub000/internal/domain/identifier"
	"github.com/seattleflu/id3c-sub000/internal/platform/db"
	"github.com/seattleflu/id3c-sub000/internal/platform/metrics"
)

// app is the state shared by every command that talks to the database.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg)

	m, err := metrics.New()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, applicationName(cmd))
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("session", db.SessionInfo(pool)).Msg("connected to database")

	return &app{cfg: cfg, logger: logger, pool: pool, metrics: m}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func newLogger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	pretty, _ := cmd.Flags().GetBool("pretty")
	level := cfg.Level()
	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(s)); err == nil {
			level = lvl
		}
	}

	var logger zerolog.Logger
	if pretty || cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// applicationName reports the command path, e.g. "id3c etl manifest", to
// PostgreSQL so sessions can be told apart in pg_stat_activity.
func applicationName(cmd *cobra.Command) string {
	return cmd.CommandPath()
}

// sessions returns a session runner that prompts on the command's terminal.
func (a *app) sessions(cmd *cobra.Command) *db.Sessions {
	return &db.Sessions{
		Pool:     a.pool,
		Logger:   a.logger,
		Prompter: db.TerminalPrompter{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()},
	}
}

func (a *app) identifiers() *identifier.Service {
	svc := identifier.NewService(identifier.NewRepo(a.pool), a.logger)
	svc.SetMetrics(a.metrics.Identifiers)
	svc.SetCache(a.cfg.IdentifierCacheTTL)
	svc.SetMaxConsecutiveFailures(a.cfg.MintMaxFailures)
	return svc
}

// addActionFlags registers --dry-run, --prompt and --commit. Dry run is the
// default.
func addActionFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "Only go through the motions of changing the database (default)")
	cmd.Flags().Bool("prompt", false, "Ask if changes to the database should be saved")
	cmd.Flags().Bool("commit", false, "Save changes to the database")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "prompt", "commit")
}

func actionFromFlags(cmd *cobra.Command) db.Action {
	if commit, _ := cmd.Flags().GetBool("commit"); commit {
		return db.ActionCommit
	}
	if prompt, _ := cmd.Flags().GetBool("prompt"); prompt {
		return db.ActionPrompt
	}
	return db.ActionDryRun
}

// columnWidth is the widest of values plus padding, for aligned listings.
func columnWidth(values []string) int {
	w := 0
	for _, v := range values {
		w = max(w, len(v))
	}
	return w + 3
}

func printRow(cmd *cobra.Command, widths []int, cols ...string) {
	var b strings.Builder
	for i, c := range cols {
		if i < len(widths) {
			fmt.Fprintf(&b, "%-*s", widths[i], c)
		} else {
			b.WriteString(c)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(b.String(), " "))
}
