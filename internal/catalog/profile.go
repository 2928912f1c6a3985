// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"math"
	"sort"
	"time"
)

const (
	profileTopN    = 10
	profileRecentN = 10
)

// GenreCount is one genre with its occurrence count across the library.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}

// Profile is the derived shape of a library: totals, dominant genres and
// artists, recent additions, plus typed collection signals. All slices
// are deterministically ordered.
type Profile struct {
	TotalArtists  int            `json:"total_artists"`
	TotalAlbums   int            `json:"total_albums"`
	TopGenres     []GenreCount   `json:"top_genres,omitempty"`
	TopArtists    []string       `json:"top_artists,omitempty"`
	RecentArtists []string       `json:"recent_artists,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// BuildProfile derives the profile from a catalog snapshot.
func BuildProfile(ctx context.Context, c Catalog) (Profile, error) {
	artists, err := c.Artists(ctx)
	if err != nil {
		return Profile{}, err
	}
	albums, err := c.Albums(ctx)
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		TotalArtists: len(artists),
		TotalAlbums:  len(albums),
		Metadata:     map[string]any{},
	}

	albumsByArtist := make(map[string]int, len(artists))
	genreCounts := map[string]int{}
	for _, a := range artists {
		for _, g := range a.Genres {
			genreCounts[g]++
		}
	}
	ratedAlbums := 0
	ratingSum := 0.0
	for _, a := range albums {
		albumsByArtist[a.Artist]++
		for _, g := range a.Genres {
			genreCounts[g]++
		}
		if a.RatingVotes > 0 {
			ratedAlbums++
			ratingSum += a.Rating
		}
	}

	p.TopGenres = topGenres(genreCounts)
	p.TopArtists = topArtists(artists, albumsByArtist)
	p.RecentArtists = recentArtists(artists)

	p.Metadata["distinct_genres"] = len(genreCounts)
	p.Metadata["rated_albums"] = ratedAlbums
	if ratedAlbums > 0 {
		p.Metadata["average_rating"] = math.Round(ratingSum/float64(ratedAlbums)*100) / 100
	}
	if newest := newestAddition(artists); !newest.IsZero() {
		p.Metadata["newest_addition"] = newest.UTC().Format(time.RFC3339)
	}

	return p, nil
}

func topGenres(counts map[string]int) []GenreCount {
	out := make([]GenreCount, 0, len(counts))
	for g, n := range counts {
		out = append(out, GenreCount{Genre: g, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Genre < out[j].Genre
	})
	if len(out) > profileTopN {
		out = out[:profileTopN]
	}
	return out
}

// topArtists ranks by album count. Artists whose album_count column was
// never filled fall back to the per-artist album tally.
func topArtists(artists []Artist, albumsByArtist map[string]int) []string {
	type ranked struct {
		name  string
		count int
	}
	out := make([]ranked, 0, len(artists))
	for _, a := range artists {
		count := a.AlbumCount
		if count == 0 {
			count = albumsByArtist[a.Name]
		}
		out = append(out, ranked{name: a.Name, count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	if len(out) > profileTopN {
		out = out[:profileTopN]
	}
	names := make([]string, len(out))
	for i, r := range out {
		names[i] = r.name
	}
	return names
}

func recentArtists(artists []Artist) []string {
	sorted := make([]Artist, len(artists))
	copy(sorted, artists)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].AddedAt.Equal(sorted[j].AddedAt) {
			return sorted[i].AddedAt.After(sorted[j].AddedAt)
		}
		return sorted[i].Name < sorted[j].Name
	})
	if len(sorted) > profileRecentN {
		sorted = sorted[:profileRecentN]
	}
	names := make([]string, len(sorted))
	for i, a := range sorted {
		names[i] = a.Name
	}
	return names
}

func newestAddition(artists []Artist) time.Time {
	var newest time.Time
	for _, a := range artists {
		if a.AddedAt.After(newest) {
			newest = a.AddedAt
		}
	}
	return newest
}
