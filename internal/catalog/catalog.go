// SPDX-License-Identifier: MIT

// Package catalog exposes the user's music library to the recommendation
// core: a read-only accessor contract, a SQLite store, and derived
// profile statistics. The core never mutates catalog items.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"
	"time"
)

// Artist is one owned artist.
type Artist struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Genres     []string  `json:"genres,omitempty"`
	AddedAt    time.Time `json:"added_at"`
	AlbumCount int       `json:"album_count"`
}

// Album is one owned album. Artist carries the display name so dedup
// keys can be built without a join.
type Album struct {
	ID          int64     `json:"id"`
	Artist      string    `json:"artist"`
	Title       string    `json:"title"`
	Genres      []string  `json:"genres,omitempty"`
	AddedAt     time.Time `json:"added_at"`
	Rating      float64   `json:"rating"`
	RatingVotes int       `json:"rating_votes"`
}

// Catalog is the read-only library accessor the core consumes.
type Catalog interface {
	Artists(ctx context.Context) ([]Artist, error)
	Albums(ctx context.Context) ([]Album, error)

	// Fingerprint is a stable short identifier of the catalog content.
	// It changes when the library changes and keys plan caching and
	// operation dedup.
	Fingerprint(ctx context.Context) (string, error)
}

// MemoryCatalog is an in-process Catalog for tests and for hosts that
// hand over a snapshot instead of a database file.
type MemoryCatalog struct {
	artists []Artist
	albums  []Album
}

func NewMemoryCatalog(artists []Artist, albums []Album) *MemoryCatalog {
	return &MemoryCatalog{artists: artists, albums: albums}
}

func (m *MemoryCatalog) Artists(ctx context.Context) ([]Artist, error) {
	out := make([]Artist, len(m.artists))
	copy(out, m.artists)
	return out, nil
}

func (m *MemoryCatalog) Albums(ctx context.Context) ([]Album, error) {
	out := make([]Album, len(m.albums))
	copy(out, m.albums)
	return out, nil
}

func (m *MemoryCatalog) Fingerprint(ctx context.Context) (string, error) {
	d := newDigest()
	artists := make([]Artist, len(m.artists))
	copy(artists, m.artists)
	sort.Slice(artists, func(i, j int) bool { return artists[i].ID < artists[j].ID })
	for _, a := range artists {
		d.artist(a)
	}
	albums := make([]Album, len(m.albums))
	copy(albums, m.albums)
	sort.Slice(albums, func(i, j int) bool { return albums[i].ID < albums[j].ID })
	for _, a := range albums {
		d.album(a)
	}
	return d.sum(), nil
}

// digest accumulates catalog rows into a stable fingerprint. Rows must be
// fed in a deterministic order.
type digest struct {
	h hash.Hash
}

func newDigest() *digest {
	return &digest{h: sha256.New()}
}

func (d *digest) artist(a Artist) {
	fmt.Fprintf(d.h, "a|%d|%s|%d|%d|%s\n", a.ID, a.Name, a.AddedAt.Unix(), a.AlbumCount, strings.Join(a.Genres, ","))
}

func (d *digest) album(a Album) {
	fmt.Fprintf(d.h, "l|%d|%s|%s|%d|%.2f|%d|%s\n", a.ID, a.Artist, a.Title, a.AddedAt.Unix(), a.Rating, a.RatingVotes, strings.Join(a.Genres, ","))
}

func (d *digest) sum() string {
	return hex.EncodeToString(d.h.Sum(nil))[:16]
}
