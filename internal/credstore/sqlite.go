package credstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"golang.org/x/oauth2"

	"github.com/jobvault/jobvault/internal/tokenfile"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed row names in the credentials table.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyTokenType    = "token_type"
	keyExpiry       = "expiry"
)

const (
	sqlSelectCredentials = `SELECT name, value FROM credentials`

	sqlUpsertCredential = `INSERT INTO credentials (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlDeleteCredentials = `DELETE FROM credentials` //nolint:gosec // G101: table name, not a credential
)

// SQLiteStore keeps the credential pair as rows of a name/value table.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies
// migrations. Use ":memory:" for tests.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), tokenfile.DirPerms); err != nil {
			return nil, fmt.Errorf("credstore: creating directory for %s: %w", dbPath, err)
		}

		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
			dbPath,
		)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("credstore: opening database %s: %w", dbPath, err)
	}

	// Single writer; also keeps ":memory:" databases alive on one connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if dbPath != ":memory:" {
		if err := os.Chmod(dbPath, tokenfile.FilePerms); err != nil {
			logger.Warn("could not restrict credential database permissions",
				slog.String("path", dbPath),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.Debug("credential database ready", slog.String("path", dbPath))

	return &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies pending schema migrations with the goose Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("credstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("credstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("credstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*oauth2.Token, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectCredentials)
	if err != nil {
		return nil, fmt.Errorf("credstore: loading credentials: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 4)

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("credstore: scanning credential row: %w", err)
		}

		values[name] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credstore: iterating credential rows: %w", err)
	}

	if values[keyAccessToken] == "" && values[keyRefreshToken] == "" {
		return nil, nil //nolint:nilnil // no credentials stored
	}

	tok := &oauth2.Token{
		AccessToken:  values[keyAccessToken],
		RefreshToken: values[keyRefreshToken],
		TokenType:    values[keyTokenType],
	}

	if raw := values[keyExpiry]; raw != "" {
		exp, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			s.logger.Warn("ignoring unparseable stored expiry",
				slog.String("raw", raw),
				slog.String("error", err.Error()),
			)
		} else {
			tok.Expiry = exp
		}
	}

	return tok, nil
}

// Save replaces every stored row in one transaction so a crash never leaves
// an access credential from one pair next to a refresh credential from another.
func (s *SQLiteStore) Save(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return fmt.Errorf("credstore: refusing to save nil token")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credstore: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, sqlDeleteCredentials); err != nil {
		return fmt.Errorf("credstore: clearing previous credentials: %w", err)
	}

	now := s.nowFunc().Unix()
	rows := map[string]string{
		keyAccessToken:  tok.AccessToken,
		keyRefreshToken: tok.RefreshToken,
		keyTokenType:    tok.TokenType,
	}

	if !tok.Expiry.IsZero() {
		rows[keyExpiry] = tok.Expiry.UTC().Format(time.RFC3339Nano)
	}

	for name, value := range rows {
		if value == "" {
			continue
		}

		if _, err := tx.ExecContext(ctx, sqlUpsertCredential, name, value, now); err != nil {
			return fmt.Errorf("credstore: writing %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credstore: committing credentials: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteCredentials); err != nil {
		return fmt.Errorf("credstore: clearing credentials: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
