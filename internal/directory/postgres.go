package directory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/nessievoice/internal/session"
)

// LoadPostgres reads every caller and their ordered security questions.
// The pool is closed before returning; lookups are served from memory.
func LoadPostgres(ctx context.Context, databaseURL string) (*Directory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := initSchema(ctx, pool); err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx,
		`SELECT c.name, c.customer_id, c.account_id, q.question, q.answer
		 FROM callers c
		 JOIN caller_security_questions q ON q.customer_id = c.customer_id
		 ORDER BY c.customer_id, q.position`,
	)
	if err != nil {
		return nil, fmt.Errorf("query callers: %w", err)
	}
	defer rows.Close()

	var (
		entries []Identity
		byID    = make(map[string]int)
	)
	for rows.Next() {
		var (
			id Identity
			q  session.SecurityQuestion
		)
		if err := rows.Scan(&id.Name, &id.CustomerID, &id.AccountID, &q.Question, &q.Answer); err != nil {
			return nil, fmt.Errorf("scan caller row: %w", err)
		}
		idx, ok := byID[id.CustomerID]
		if !ok {
			idx = len(entries)
			byID[id.CustomerID] = idx
			entries = append(entries, id)
		}
		entries[idx].Questions = append(entries[idx].Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate caller rows: %w", err)
	}

	return New(entries), nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS callers (
			customer_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			account_id TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS caller_security_questions (
			customer_id TEXT NOT NULL REFERENCES callers (customer_id) ON DELETE CASCADE,
			position INT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			PRIMARY KEY (customer_id, position)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}
