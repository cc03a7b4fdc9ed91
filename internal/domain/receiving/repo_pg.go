package receiving

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seattleflu/id3c-sub000/internal/platform/db"
)

// maxLineSize bounds a single NDJSON document.
const maxLineSize = 64 << 20

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Insert(ctx context.Context, table Table, body []byte) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(
		`insert into %s (document) values ($1) returning %s`,
		table.Identifier().Sanitize(), pgx.Identifier{table.IDColumn()}.Sanitize(),
	), string(body)).Scan(&id)
	return id, err
}

func (r *repoPG) CopyNDJSON(ctx context.Context, table Table, src io.Reader) (int64, error) {
	copier, ok := r.conn(ctx).(db.Copier)
	if !ok {
		return 0, errors.New("connection does not support copy")
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0

	next := func() ([]any, error) {
		for scanner.Scan() {
			line++
			doc := bytes.TrimSpace(scanner.Bytes())
			if len(doc) == 0 {
				continue
			}
			if !json.Valid(doc) {
				return nil, &BadDocumentError{Line: line, Err: errors.New("not valid JSON")}
			}
			return []any{string(doc)}, nil
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read line %d: %w", line+1, err)
		}
		return nil, nil
	}

	return copier.CopyFrom(ctx, table.Identifier(), []string{"document"}, pgx.CopyFromFunc(next))
}

func (r *repoPG) Claim(ctx context.Context, table Table, tag Tag, opts ClaimOptions) ([]*Document, error) {
	filter, err := json.Marshal([]Tag{tag})
	if err != nil {
		return nil, err
	}

	idCol := pgx.Identifier{table.IDColumn()}.Sanitize()
	sql := fmt.Sprintf(`
		select %s, document, received
		  from %s
		 where not processing_log @> $1
		 order by %s`, idCol, table.Identifier().Sanitize(), idCol)
	args := []interface{}{string(filter)}
	if opts.Limit > 0 {
		sql += ` limit $2`
		args = append(args, opts.Limit)
	}
	sql += ` for update`
	if opts.SkipLocked {
		sql += ` skip locked`
	}

	// All rows are read before returning: the connection cannot run the
	// transforms' statements while a result set is open.
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", table, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d := &Document{Table: table}
		var body []byte
		if err := rows.Scan(&d.ID, &body, &d.Received); err != nil {
			return nil, err
		}
		d.Body = json.RawMessage(body)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *repoPG) AppendLog(ctx context.Context, table Table, id int64, entry LogEntry) error {
	payload, err := json.Marshal([]LogEntry{entry})
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(
		`update %s set processing_log = processing_log || $2 where %s = $1`,
		table.Identifier().Sanitize(), pgx.Identifier{table.IDColumn()}.Sanitize(),
	), id, string(payload))
	if err != nil {
		return fmt.Errorf("append processing log to %s %d: %w", table, id, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("append processing log: %s %d not found", table, id)
	}
	return nil
}

func (r *repoPG) ProcessingLog(ctx context.Context, table Table, id int64) ([]LogEntry, error) {
	var raw []byte
	err := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(
		`select processing_log from %s where %s = $1`,
		table.Identifier().Sanitize(), pgx.Identifier{table.IDColumn()}.Sanitize(),
	), id).Scan(&raw)
	if err != nil {
		return nil, err
	}
	var entries []LogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode processing log of %s %d: %w", table, id, err)
	}
	return entries, nil
}
