// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store reads the library from a SQLite file maintained by the host.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database and ensures the schema exists.
// WAL + busy_timeout suit the read-heavy workload and avoid "database
// locked" errors while a host writes concurrently.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artists (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		genres TEXT NOT NULL DEFAULT '',
		added_at TEXT NOT NULL,
		album_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS albums (
		id INTEGER PRIMARY KEY,
		artist_id INTEGER NOT NULL REFERENCES artists(id),
		title TEXT NOT NULL,
		genres TEXT NOT NULL DEFAULT '',
		added_at TEXT NOT NULL,
		rating REAL NOT NULL DEFAULT 0,
		rating_votes INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_albums_artist ON albums(artist_id);
	CREATE INDEX IF NOT EXISTS idx_artists_added ON artists(added_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Artists returns all artists ordered by id.
func (s *Store) Artists(ctx context.Context) ([]Artist, error) {
	query := `
	SELECT id, name, genres, added_at, album_count
	FROM artists
	ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var artists []Artist
	for rows.Next() {
		var (
			a          Artist
			genresStr  string
			addedAtStr string
		)
		if err := rows.Scan(&a.ID, &a.Name, &genresStr, &addedAtStr, &a.AlbumCount); err != nil {
			return nil, err
		}
		a.Genres = splitGenres(genresStr)
		a.AddedAt, _ = time.Parse(time.RFC3339, addedAtStr)
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// Albums returns all albums ordered by id, with the artist name joined in.
func (s *Store) Albums(ctx context.Context) ([]Album, error) {
	query := `
	SELECT al.id, ar.name, al.title, al.genres, al.added_at, al.rating, al.rating_votes
	FROM albums al
	JOIN artists ar ON ar.id = al.artist_id
	ORDER BY al.id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var albums []Album
	for rows.Next() {
		var (
			a          Album
			genresStr  string
			addedAtStr string
		)
		if err := rows.Scan(&a.ID, &a.Artist, &a.Title, &genresStr, &addedAtStr, &a.Rating, &a.RatingVotes); err != nil {
			return nil, err
		}
		a.Genres = splitGenres(genresStr)
		a.AddedAt, _ = time.Parse(time.RFC3339, addedAtStr)
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// Fingerprint hashes every row in id order into a short stable identifier.
func (s *Store) Fingerprint(ctx context.Context) (string, error) {
	artists, err := s.Artists(ctx)
	if err != nil {
		return "", err
	}
	albums, err := s.Albums(ctx)
	if err != nil {
		return "", err
	}

	d := newDigest()
	for _, a := range artists {
		d.artist(a)
	}
	for _, a := range albums {
		d.album(a)
	}
	return d.sum(), nil
}

// Replace swaps the whole catalog in one transaction. Hosts ingest with
// it; the recommendation core only ever reads.
func (s *Store) Replace(ctx context.Context, artists []Artist, albums []Album) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM albums`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artists`); err != nil {
		return err
	}

	artistIDs := make(map[string]int64, len(artists))
	for _, a := range artists {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO artists (id, name, genres, added_at, album_count)
		VALUES (?, ?, ?, ?, ?)
		`, a.ID, a.Name, joinGenres(a.Genres), a.AddedAt.Format(time.RFC3339), a.AlbumCount)
		if err != nil {
			return fmt.Errorf("insert artist %q: %w", a.Name, err)
		}
		artistIDs[a.Name] = a.ID
	}

	for _, a := range albums {
		artistID, ok := artistIDs[a.Artist]
		if !ok {
			return fmt.Errorf("album %q references unknown artist %q", a.Title, a.Artist)
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO albums (id, artist_id, title, genres, added_at, rating, rating_votes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		`, a.ID, artistID, a.Title, joinGenres(a.Genres), a.AddedAt.Format(time.RFC3339), a.Rating, a.RatingVotes)
		if err != nil {
			return fmt.Errorf("insert album %q: %w", a.Title, err)
		}
	}

	return tx.Commit()
}

func splitGenres(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func joinGenres(genres []string) string {
	return strings.Join(genres, ",")
}
