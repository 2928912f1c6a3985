// SPDX-License-Identifier: MIT

// Package rec defines the recommendation domain vocabulary shared by the
// planner, parser, history and orchestration packages.
package rec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Mode selects what kind of items a fetch produces.
type Mode string

const (
	ModeAlbum      Mode = "album"
	ModeArtistOnly Mode = "artist"
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "album", "albums", "":
		return ModeAlbum, nil
	case "artist", "artists", "artist_only", "artistonly":
		return ModeArtistOnly, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// DiscoveryMode biases how far suggestions stray from the library.
type DiscoveryMode string

const (
	DiscoverySimilar     DiscoveryMode = "similar"
	DiscoveryAdjacent    DiscoveryMode = "adjacent"
	DiscoveryExploratory DiscoveryMode = "exploratory"
)

// ParseDiscoveryMode maps a configuration string to a DiscoveryMode.
func ParseDiscoveryMode(s string) (DiscoveryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "similar", "":
		return DiscoverySimilar, nil
	case "adjacent":
		return DiscoveryAdjacent, nil
	case "exploratory", "explore":
		return DiscoveryExploratory, nil
	}
	return "", fmt.Errorf("unknown discovery mode %q", s)
}

// SamplingTier is the prompt budget class.
type SamplingTier string

const (
	TierMinimal       SamplingTier = "minimal"
	TierBalanced      SamplingTier = "balanced"
	TierComprehensive SamplingTier = "comprehensive"
)

// ParseSamplingTier maps a configuration string to a SamplingTier.
func ParseSamplingTier(s string) (SamplingTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return TierMinimal, nil
	case "balanced", "":
		return TierBalanced, nil
	case "comprehensive", "full":
		return TierComprehensive, nil
	}
	return "", fmt.Errorf("unknown sampling tier %q", s)
}

// Ratio returns the prompt budget ratio for the tier.
func (t SamplingTier) Ratio() float64 {
	switch t {
	case TierMinimal:
		return 0.35
	case TierComprehensive:
		return 1.0
	default:
		return 0.60
	}
}

// Request describes one recommendation fetch.
type Request struct {
	BackendID    string
	ModelID      string
	TargetCount  int
	Mode         Mode
	Discovery    DiscoveryMode
	Tier         SamplingTier
	StyleFilters []string
}

// Validate reports the first constraint violation, if any.
func (r Request) Validate() error {
	if r.BackendID == "" {
		return fmt.Errorf("backend id must not be empty")
	}
	if r.TargetCount < 1 {
		return fmt.Errorf("target count must be >= 1, got %d", r.TargetCount)
	}
	switch r.Mode {
	case ModeAlbum, ModeArtistOnly:
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
	switch r.Discovery {
	case DiscoverySimilar, DiscoveryAdjacent, DiscoveryExploratory:
	default:
		return fmt.Errorf("unknown discovery mode %q", r.Discovery)
	}
	switch r.Tier {
	case TierMinimal, TierBalanced, TierComprehensive:
	default:
		return fmt.Errorf("unknown sampling tier %q", r.Tier)
	}
	return nil
}

// Hash returns a stable short digest of the request fields. Style filters
// are sorted so ordering does not change the digest.
func (r Request) Hash() string {
	styles := append([]string(nil), r.StyleFilters...)
	sort.Strings(styles)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%d\x1f%s\x1f%s\x1f%s\x1f%s",
		r.BackendID, r.ModelID, r.TargetCount, r.Mode, r.Discovery, r.Tier,
		strings.Join(styles, "\x1e"))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// OperationKey coalesces concurrent fetches: equal requests against an equal
// library state share one in-flight execution. Style filters shape the
// prompt, not the operation identity, and are deliberately excluded.
func (r Request) OperationKey(libraryFingerprint string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%d\x1f%s\x1f%s\x1f%s\x1f%s",
		r.BackendID, r.ModelID, r.TargetCount, r.Mode, r.Discovery, r.Tier,
		libraryFingerprint)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Recommendation is one suggested item returned to the host.
type Recommendation struct {
	Artist     string  `json:"artist"`
	Album      string  `json:"album"`
	Genre      string  `json:"genre"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Key derives the dedup identity for the item under the given mode. The
// second return is false when the item is invalid for that mode (empty
// artist, or empty album in album mode) and must be dropped.
func (r Recommendation) Key(mode Mode) (string, bool) {
	return Key(mode, r.Artist, r.Album)
}
