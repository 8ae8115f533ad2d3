package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const directorySchema = `
CREATE TABLE IF NOT EXISTS directory_entries (
	email        TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	email_domain TEXT NOT NULL,
	search_key   TEXT NOT NULL
)`

// OpenPostgres opens and pings a pgx-backed connection pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Postgres serves suggestions from the directory_entries table, a mirror of
// the corporate address book.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Name() string {
	return "postgres"
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, directorySchema); err != nil {
		return fmt.Errorf("create directory schema: %w", err)
	}
	return nil
}

// Suggest matches the folded query against search_key with LIKE and
// restricts rows to the allow-listed domains.
func (p *Postgres) Suggest(ctx context.Context, q Query) ([]Suggestion, error) {
	if len(q.Domains) == 0 {
		return []Suggestion{}, nil
	}
	args := []any{"%" + escapeLike(Fold(q.Text)) + "%"}
	placeholders := make([]string, 0, len(q.Domains))
	for _, domain := range q.Domains {
		args = append(args, domain)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	args = append(args, ClampLimit(q.Limit))
	query := fmt.Sprintf(`
		SELECT email, display_name
		FROM directory_entries
		WHERE search_key LIKE $1 AND email_domain IN (%s)
		ORDER BY email
		LIMIT $%d`, strings.Join(placeholders, ", "), len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query directory: %w", err)
	}
	defer rows.Close()

	out := []Suggestion{}
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Email, &entry.Display); err != nil {
			return nil, fmt.Errorf("scan directory row: %w", err)
		}
		out = append(out, entry.suggestion())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directory rows: %w", err)
	}
	return out, nil
}

// Seed upserts entries inside one transaction.
func (p *Postgres) Seed(ctx context.Context, entries []Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO directory_entries (email, display_name, email_domain, search_key)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (email) DO UPDATE
			SET display_name = EXCLUDED.display_name,
				email_domain = EXCLUDED.email_domain,
				search_key = EXCLUDED.search_key`,
			entry.Email, entry.Display, emailDomain(entry.Email), Fold(entry.Email+" "+entry.Display),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", entry.Email, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
