package db

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Action decides the fate of a run's outer transaction.
type Action string

const (
	ActionDryRun Action = "dry-run"
	ActionPrompt Action = "prompt"
	ActionCommit Action = "commit"
)

// ParseAction accepts the CLI spellings of an Action. The empty string is a
// dry run.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case "", ActionDryRun, "rollback":
		return ActionDryRun, nil
	case ActionPrompt:
		return ActionPrompt, nil
	case ActionCommit:
		return ActionCommit, nil
	}
	return "", fmt.Errorf("unknown session action %q", s)
}

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(question string) (bool, error)
}

// TerminalPrompter reads an answer from In after writing the question to Out.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

// Confirm defaults to "no" on an empty answer or EOF.
func (p TerminalPrompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.Out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Session is one processing run's database transaction. Every statement of
// the run goes through it; savepoints give each document its own
// sub-transaction.
type Session struct {
	tx     pgx.Tx
	logger zerolog.Logger
	done   bool
}

var _ Tx = (*Session)(nil)

// Beginner opens transactions. *pgxpool.Pool and *pgx.Conn satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Begin opens a transaction on a pooled connection.
func Begin(ctx context.Context, b Beginner, logger zerolog.Logger) (*Session, error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if pool, ok := b.(*pgxpool.Pool); ok {
		logger.Debug().Str("session", SessionInfo(pool)).Msg("opened database session")
	}
	return NewSession(tx, logger), nil
}

// NewSession wraps an already open transaction.
func NewSession(tx pgx.Tx, logger zerolog.Logger) *Session {
	return &Session{tx: tx, logger: logger}
}

func (s *Session) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return s.tx.Exec(ctx, sql, args...)
}

func (s *Session) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return s.tx.Query(ctx, sql, args...)
}

func (s *Session) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return s.tx.QueryRow(ctx, sql, args...)
}

func (s *Session) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return s.tx.CopyFrom(ctx, tableName, columnNames, rowSrc)
}

// Savepoint names are free text; they are quoted as SQL identifiers.
func (s *Session) Savepoint(ctx context.Context, name string) error {
	s.logger.Debug().Str("savepoint", name).Msg("creating savepoint")
	_, err := s.tx.Exec(ctx, "savepoint "+quoteIdent(name))
	return err
}

func (s *Session) Release(ctx context.Context, name string) error {
	s.logger.Debug().Str("savepoint", name).Msg("releasing savepoint")
	_, err := s.tx.Exec(ctx, "release savepoint "+quoteIdent(name))
	return err
}

func (s *Session) RollbackTo(ctx context.Context, name string) error {
	s.logger.Debug().Str("savepoint", name).Msg("rolling back to savepoint")
	_, err := s.tx.Exec(ctx, "rollback to savepoint "+quoteIdent(name))
	return err
}

func (s *Session) Commit(ctx context.Context) error {
	s.done = true
	return s.tx.Commit(ctx)
}

func (s *Session) Rollback(ctx context.Context) error {
	s.done = true
	return s.tx.Rollback(ctx)
}

// Finish commits or rolls back the outer transaction according to action.
// runErr is the run's outcome; it only changes how the prompt is phrased,
// since partial progress may still be committed on request.
func (s *Session) Finish(ctx context.Context, action Action, runErr error, prompter Prompter) (bool, error) {
	commit, err := decide(action, runErr, prompter)
	if err != nil {
		_ = s.Rollback(context.WithoutCancel(ctx))
		return false, err
	}

	// Ending the transaction must happen even when the run was interrupted.
	ctx = context.WithoutCancel(ctx)

	if !commit {
		s.logger.Info().Msg("Rolling back all changes; the database will not be modified")
		return false, s.Rollback(ctx)
	}

	if runErr == nil {
		s.logger.Info().Msg("Committing all changes")
	} else {
		s.logger.Info().Msg("Committing successfully processed records up to this point")
	}
	if err := s.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func decide(action Action, runErr error, prompter Prompter) (bool, error) {
	switch action {
	case ActionCommit:
		return true, nil
	case ActionPrompt:
		if prompter == nil {
			return false, errors.New("prompt requested but no prompter configured")
		}
		question := "Commit all changes?"
		if runErr != nil {
			question = "Commit successfully processed records up to this point?"
		}
		return prompter.Confirm(question)
	}
	return false, nil
}

// Sessions opens one Session per unit of work against a pool.
type Sessions struct {
	Pool     Beginner
	Logger   zerolog.Logger
	Prompter Prompter
}

// Run executes fn inside a fresh session attached to ctx, then applies
// action. The transaction is always ended, including when fn panics. The
// returned error joins fn's error with any error from ending the
// transaction, so a failed commit after a failed run is still reported.
func (ss *Sessions) Run(ctx context.Context, action Action, fn func(ctx context.Context) error) (err error) {
	sess, err := Begin(ctx, ss.Pool, ss.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if !sess.done {
			_ = sess.Rollback(context.WithoutCancel(ctx))
		}
	}()

	runErr := fn(ContextWithTx(ctx, sess))
	if runErr != nil {
		ss.Logger.Error().Err(runErr).Msg("Aborting with error")
	}

	_, finErr := sess.Finish(ctx, action, runErr, ss.Prompter)
	return errors.Join(runErr, finErr)
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
