// Package sharelink is the external share-link store consumed by spec
// §4.8: the core exposes no callbacks to it, but OnMoveCompleted lets the
// transport layer's move handler tell it a path was renamed so it can rewrite its own
// records. Grounded on phase2/internal/sharing/sharelinks.go, trimmed to
// the operations the core's contract actually needs.
package sharelink

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/canopyfs/canopy/internal/logging"
)

// Link is one share link row.
type Link struct {
	ID            string
	Path          string
	CreatedBy     string
	ExpiresAt     *time.Time
	PasswordHash  string
	MaxDownloads  int
	DownloadCount int
	IsActive      bool
	CreatedAt     time.Time
}

// Store is a Postgres-backed share-link store.
type Store struct {
	db *sql.DB
}

// Open connects to a Postgres database and ensures the share_links table
// exists.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS share_links (
	id             TEXT PRIMARY KEY,
	path           TEXT NOT NULL,
	created_by     TEXT NOT NULL,
	expires_at     TIMESTAMPTZ,
	password_hash  TEXT,
	max_downloads  INTEGER NOT NULL DEFAULT 0,
	download_count INTEGER NOT NULL DEFAULT 0,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create mints a new share link for path.
func (s *Store) Create(ctx context.Context, path, createdBy, password string, expiresInSec int64, maxDownloads int) (*Link, error) {
	id, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	var passwordHash sql.NullString
	if password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = sql.NullString{String: string(hashed), Valid: true}
	}

	var expiresAt *time.Time
	if expiresInSec > 0 {
		t := time.Now().Add(time.Duration(expiresInSec) * time.Second)
		expiresAt = &t
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO share_links (id, path, created_by, expires_at, password_hash, max_downloads)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, path, createdBy, expiresAt, passwordHash, maxDownloads)
	if err != nil {
		return nil, fmt.Errorf("insert share link: %w", err)
	}

	return &Link{
		ID:           id,
		Path:         path,
		CreatedBy:    createdBy,
		ExpiresAt:    expiresAt,
		MaxDownloads: maxDownloads,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}, nil
}

// Validate checks a share link exists, is active, unexpired, under its
// download limit, and (if protected) matches password.
func (s *Store) Validate(ctx context.Context, id, password string) (*Link, error) {
	var link Link
	var expiresAt sql.NullTime
	var passwordHash sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, created_by, expires_at, password_hash, max_downloads, download_count, is_active, created_at
		 FROM share_links WHERE id = $1`, id).
		Scan(&link.ID, &link.Path, &link.CreatedBy, &expiresAt, &passwordHash,
			&link.MaxDownloads, &link.DownloadCount, &link.IsActive, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("share link not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query share link: %w", err)
	}
	if expiresAt.Valid {
		link.ExpiresAt = &expiresAt.Time
	}
	if passwordHash.Valid {
		link.PasswordHash = passwordHash.String
	}

	if !link.IsActive {
		return nil, fmt.Errorf("share link has been revoked")
	}
	if link.ExpiresAt != nil && time.Now().After(*link.ExpiresAt) {
		return nil, fmt.Errorf("share link has expired")
	}
	if link.MaxDownloads > 0 && link.DownloadCount >= link.MaxDownloads {
		return nil, fmt.Errorf("share link download limit reached")
	}
	if link.PasswordHash != "" {
		if password == "" {
			return nil, fmt.Errorf("password required")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)); err != nil {
			return nil, fmt.Errorf("invalid password")
		}
	}
	return &link, nil
}

// Revoke deactivates a share link.
func (s *Store) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE share_links SET is_active = FALSE WHERE id = $1`, id)
	return err
}

// ListByPath returns active share links rooted at exactly path.
func (s *Store) ListByPath(ctx context.Context, path string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, created_by, expires_at, password_hash, max_downloads, download_count, is_active, created_at
		 FROM share_links WHERE path = $1 AND is_active = TRUE`, path)
	if err != nil {
		return nil, fmt.Errorf("list share links by path: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]Link, error) {
	var links []Link
	for rows.Next() {
		var l Link
		var expiresAt sql.NullTime
		var passwordHash sql.NullString
		if err := rows.Scan(&l.ID, &l.Path, &l.CreatedBy, &expiresAt, &passwordHash,
			&l.MaxDownloads, &l.DownloadCount, &l.IsActive, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share link: %w", err)
		}
		if expiresAt.Valid {
			l.ExpiresAt = &expiresAt.Time
		}
		if passwordHash.Valid {
			l.PasswordHash = passwordHash.String
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// OnMoveCompleted rewrites every share link whose path is oldPath or a
// descendant of it to the corresponding path under newPath, per spec
// §4.8: "callers are responsible for rewriting share-link targets when a
// move renames them."
func (s *Store) OnMoveCompleted(ctx context.Context, oldPath, newPath string) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE share_links SET path = $2 WHERE path = $1`, oldPath, newPath)
	if err != nil {
		logging.Warn("sharelink: rewrite exact path failed", logging.String("path", oldPath), logging.Err(err))
	} else if n, _ := res.RowsAffected(); n > 0 {
		logging.Info("sharelink: rewrote path", logging.String("old", oldPath), logging.String("new", newPath))
	}

	prefix := oldPath
	if prefix != "/" {
		prefix += "/"
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, path FROM share_links WHERE path LIKE $1`, prefix+"%")
	if err != nil {
		logging.Warn("sharelink: scan descendants failed", logging.Err(err))
		return
	}
	defer rows.Close()

	type rewrite struct{ id, path string }
	var rewrites []rewrite
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			continue
		}
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rewrites = append(rewrites, rewrite{id: id, path: newPath + "/" + strings.TrimPrefix(path, prefix)})
	}

	for _, rw := range rewrites {
		if _, err := s.db.ExecContext(ctx, `UPDATE share_links SET path = $2 WHERE id = $1`, rw.id, rw.path); err != nil {
			logging.Warn("sharelink: rewrite descendant failed", logging.String("id", rw.id), logging.Err(err))
		}
	}
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
