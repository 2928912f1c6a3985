// SPDX-License-Identifier: MIT

package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/catalog"
	"github.com/cratedig/cratedig/internal/llm"
	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/metrics"
	"github.com/cratedig/cratedig/internal/rec"
)

const (
	smallLibraryMax = 50
	largeLibraryMin = 201

	smallArtistCap = 40
	smallAlbumCap  = 100

	// shrink floor for the artist-list compression step
	minSampledArtists = 10

	maxRejectedShown    = 10
	maxRecommendedShown = 15
)

// IterationContext carries negative context for rounds after the first:
// what was already rejected or surfaced, so the backend stops repeating
// itself.
type IterationContext struct {
	Iteration          int
	RejectedCount      int
	RejectedKeys       []string
	RecommendedArtists []string
}

// PlanRequest bundles everything a single plan render needs. Artists and
// Albums are the full catalog snapshot; the planner samples from them.
type PlanRequest struct {
	Spec               rec.Request
	Profile            catalog.Profile
	Artists            []catalog.Artist
	Albums             []catalog.Album
	LibraryFingerprint string
	Capability         llm.Capability

	// RequestCount is how many suggestions this round asks for. The
	// iterative strategy inflates it above Spec.TargetCount to absorb
	// duplicates.
	RequestCount int

	// Iteration is nil on the first round. Plans with iteration context
	// are never cached.
	Iteration *IterationContext
}

// Plan is a rendered prompt with its provenance and budget accounting.
type Plan struct {
	System string
	Prompt string

	RequestCount      int
	SampleFingerprint string
	Seed              uint32
	Budget            Budget

	Compressed bool
	Trimmed    bool

	SampledArtists      int
	SampledAlbums       int
	EstimatedTokensPre  int
	EstimatedTokensPost int
}

// Planner renders deterministic prompts: equal inputs produce
// byte-identical output, so plans are cacheable and tests can assert
// exact text.
type Planner struct {
	tokens                *TokenizerRegistry
	cache                 PlanCache
	sink                  metrics.Sink
	logger                zerolog.Logger
	comprehensiveOverride int
}

type PlannerOptions struct {
	Tokens *TokenizerRegistry
	Cache  PlanCache
	Sink   metrics.Sink

	// ComprehensiveTokenOverride caps the comprehensive tier target when
	// positive.
	ComprehensiveTokenOverride int
}

func NewPlanner(opts PlannerOptions) *Planner {
	sink := opts.Sink
	if sink == nil {
		sink = metrics.Nop()
	}
	return &Planner{
		tokens:                opts.Tokens,
		cache:                 opts.Cache,
		sink:                  sink,
		logger:                log.WithComponent("prompt"),
		comprehensiveOverride: opts.ComprehensiveTokenOverride,
	}
}

// Plan resolves the budget, samples the library, and renders the prompt.
// First-round plans are served from the cache when the fingerprint,
// request, and target budget all still match.
func (p *Planner) Plan(ctx context.Context, pr PlanRequest) (Plan, error) {
	if err := pr.Spec.Validate(); err != nil {
		return Plan{}, err
	}
	if pr.RequestCount < 1 {
		pr.RequestCount = pr.Spec.TargetCount
	}

	budget := ResolveBudget(pr.Spec, pr.Capability, p.comprehensiveOverride)

	cacheable := pr.Iteration == nil && p.cache != nil
	cacheKey := ""
	if cacheable {
		cacheKey = planCacheKey(pr.LibraryFingerprint, pr.Spec.Hash())
		if cached, ok := p.cache.Get(cacheKey); ok {
			if cached.Budget.TargetTokens == budget.TargetTokens && cached.RequestCount == pr.RequestCount {
				p.sink.Count(metrics.SeriesPlanCacheHit, 1, metrics.Tags{"outcome": "hit"})
				return cached, nil
			}
			// Stale budget: rebuild below and overwrite.
		}
		p.sink.Count(metrics.SeriesPlanCacheHit, 1, metrics.Tags{"outcome": "miss"})
	}

	plan := p.render(pr, budget)

	p.sink.Observe(metrics.SeriesPromptActualTokens, float64(plan.EstimatedTokensPost), metrics.Tags{"backend": pr.Spec.BackendID})
	if plan.EstimatedTokensPre > 0 {
		ratio := float64(plan.EstimatedTokensPost) / float64(plan.EstimatedTokensPre)
		p.sink.Observe(metrics.SeriesPromptCompressionRatio, ratio, metrics.Tags{"backend": pr.Spec.BackendID})
	}

	if cacheable {
		if plan.Trimmed {
			// A trimmed plan means the budget cannot hold this library
			// shape; never serve it from cache.
			p.cache.Delete(cacheKey)
		} else {
			p.cache.Set(cacheKey, plan)
		}
	}

	p.logger.Debug().
		Str("event", "prompt.planned").
		Str(log.FieldBackend, pr.Spec.BackendID).
		Int("artists", plan.SampledArtists).
		Int("albums", plan.SampledAlbums).
		Int("tokens", plan.EstimatedTokensPost).
		Bool("compressed", plan.Compressed).
		Bool("trimmed", plan.Trimmed).
		Msg("prompt plan rendered")

	return plan, nil
}

func (p *Planner) render(pr PlanRequest, budget Budget) Plan {
	estimate := p.tokens.For(budget.ModelKey)
	seed := planSeed(pr.Spec, pr.Profile)
	rng := rand.New(rand.NewPCG(uint64(seed), 0))

	d := draft{
		spec:            pr.Spec,
		profile:         pr.Profile,
		requestCount:    pr.RequestCount,
		iter:            pr.Iteration,
		verboseGuidance: true,
	}
	d.sample = sampleLibrary(pr, budget, rng, estimate)

	pre := estimate(d.user())
	post := pre
	compressed := false
	trimmed := false

	for post > budget.TargetTokens {
		if !d.compressOnce() {
			trimmed = true
			break
		}
		compressed = true
		post = estimate(d.user())
	}

	return Plan{
		System:              systemPrompt(pr.Spec.Mode),
		Prompt:              d.user(),
		RequestCount:        pr.RequestCount,
		SampleFingerprint:   d.sample.fingerprint(),
		Seed:                seed,
		Budget:              budget,
		Compressed:          compressed,
		Trimmed:             trimmed,
		SampledArtists:      len(d.sample.artists),
		SampledAlbums:       len(d.sample.albums),
		EstimatedTokensPre:  pre,
		EstimatedTokensPost: post,
	}
}

// planSeed hashes the ordered inputs that shape a plan into the 32-bit
// PRNG seed. Every list is sorted first so map ordering and caller
// ordering cannot leak into the output.
func planSeed(spec rec.Request, profile catalog.Profile) uint32 {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%d\x1f%s", spec.BackendID, spec.Tier, spec.Discovery, spec.TargetCount, spec.Mode)
	fmt.Fprintf(h, "\x1f%d\x1f%d", profile.TotalArtists, profile.TotalAlbums)

	signals := make([]string, 0, len(profile.TopGenres))
	for _, g := range profile.TopGenres {
		signals = append(signals, fmt.Sprintf("%s:%d", g.Genre, g.Count))
	}
	writeSorted(h, signals)

	writeSorted(h, append([]string(nil), spec.StyleFilters...))
	writeSorted(h, append([]string(nil), profile.RecentArtists...))

	meta := make([]string, 0, len(profile.Metadata))
	for k, v := range profile.Metadata {
		meta = append(meta, fmt.Sprintf("%s=%v", k, v))
	}
	writeSorted(h, meta)

	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

func writeSorted(h hash.Hash, items []string) {
	sort.Strings(items)
	fmt.Fprintf(h, "\x1f%s", strings.Join(items, "\x1e"))
}

type sample struct {
	artists []catalog.Artist
	albums  []catalog.Album
}

func (s sample) fingerprint() string {
	h := sha256.New()
	for _, a := range s.artists {
		fmt.Fprintf(h, "a|%s\n", a.Name)
	}
	for _, a := range s.albums {
		fmt.Fprintf(h, "l|%s|%s\n", a.Artist, a.Title)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// sampleLibrary picks the catalog slice that represents the library within
// the plan budget. The band is chosen by artist count.
func sampleLibrary(pr PlanRequest, budget Budget, rng *rand.Rand, estimate Estimator) sample {
	switch k := len(pr.Artists); {
	case k <= smallLibraryMax:
		return sampleSmall(pr)
	case k < largeLibraryMin:
		return sampleMedium(pr, rng)
	default:
		return sampleLarge(pr, budget, estimate)
	}
}

// sampleSmall includes the library nearly whole: top artists and the
// best-rated albums, hard-capped.
func sampleSmall(pr PlanRequest) sample {
	artists := rankedByAlbumCount(pr.Artists)
	if len(artists) > smallArtistCap {
		artists = artists[:smallArtistCap]
	}
	albums := rankedAlbumsByRating(pr.Albums)
	if len(albums) > smallAlbumCap {
		albums = albums[:smallAlbumCap]
	}
	return sample{artists: artists, albums: albums}
}

// sampleMedium mixes top, recent, and seeded-random artists with
// discovery-dependent shares, then carries the sampled artists' albums.
func sampleMedium(pr PlanRequest, rng *rand.Rand) sample {
	target := min(smallArtistCap, len(pr.Artists))

	topShare := 0.6
	switch pr.Spec.Discovery {
	case rec.DiscoveryAdjacent:
		topShare = 0.4
	case rec.DiscoveryExploratory:
		topShare = 0.3
	}
	const recentShare = 0.3

	picked := make(map[string]bool, target)
	out := make([]catalog.Artist, 0, target)
	take := func(list []catalog.Artist, n int) {
		for _, a := range list {
			if n <= 0 || len(out) >= target {
				return
			}
			if picked[a.Name] {
				continue
			}
			picked[a.Name] = true
			out = append(out, a)
			n--
		}
	}

	take(rankedByAlbumCount(pr.Artists), int(float64(target)*topShare))
	take(rankedByRecency(pr.Artists), int(float64(target)*recentShare))

	rest := make([]catalog.Artist, 0, len(pr.Artists))
	for _, a := range pr.Artists {
		if !picked[a.Name] {
			rest = append(rest, a)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Name < rest[j].Name })
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	take(rest, target-len(out))

	albums := make([]catalog.Album, 0, smallAlbumCap)
	for _, a := range rankedAlbumsByRating(pr.Albums) {
		if len(albums) >= smallAlbumCap {
			break
		}
		if picked[a.Artist] {
			albums = append(albums, a)
		}
	}
	return sample{artists: out, albums: albums}
}

// sampleLarge fills token budgets progressively: the target budget is
// split between artists and albums by discovery mode, and each line must
// fit before it is appended.
func sampleLarge(pr PlanRequest, budget Budget, estimate Estimator) sample {
	artistShare := 0.6
	switch pr.Spec.Discovery {
	case rec.DiscoverySimilar:
		artistShare = 0.7
	case rec.DiscoveryExploratory:
		artistShare = 0.4
	}
	artistBudget := int(float64(budget.TargetTokens) * artistShare)
	albumBudget := budget.TargetTokens - artistBudget

	var artists []catalog.Artist
	used := 0
	for _, a := range rankedByAlbumCount(pr.Artists) {
		cost := estimate(artistLine(a))
		if used+cost > artistBudget {
			break
		}
		used += cost
		artists = append(artists, a)
	}

	var albums []catalog.Album
	used = 0
	seen := make(map[string]bool)
	topRated := rankedAlbumsByRating(pr.Albums)
	recent := rankedAlbumsByRecency(pr.Albums)
	for i := 0; i < len(topRated) || i < len(recent); i++ {
		for _, list := range [][]catalog.Album{topRated, recent} {
			if i >= len(list) {
				continue
			}
			a := list[i]
			id := a.Artist + "\x1f" + a.Title
			if seen[id] {
				continue
			}
			cost := estimate(albumLine(a))
			if used+cost > albumBudget {
				return sample{artists: artists, albums: albums}
			}
			seen[id] = true
			used += cost
			albums = append(albums, a)
		}
	}
	return sample{artists: artists, albums: albums}
}

func rankedByAlbumCount(artists []catalog.Artist) []catalog.Artist {
	out := make([]catalog.Artist, len(artists))
	copy(out, artists)
	sort.Slice(out, func(i, j int) bool {
		if out[i].AlbumCount != out[j].AlbumCount {
			return out[i].AlbumCount > out[j].AlbumCount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func rankedByRecency(artists []catalog.Artist) []catalog.Artist {
	out := make([]catalog.Artist, len(artists))
	copy(out, artists)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.After(out[j].AddedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func rankedAlbumsByRating(albums []catalog.Album) []catalog.Album {
	out := make([]catalog.Album, len(albums))
	copy(out, albums)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		if out[i].RatingVotes != out[j].RatingVotes {
			return out[i].RatingVotes > out[j].RatingVotes
		}
		if out[i].Artist != out[j].Artist {
			return out[i].Artist < out[j].Artist
		}
		return out[i].Title < out[j].Title
	})
	return out
}

func rankedAlbumsByRecency(albums []catalog.Album) []catalog.Album {
	out := make([]catalog.Album, len(albums))
	copy(out, albums)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.After(out[j].AddedAt)
		}
		if out[i].Artist != out[j].Artist {
			return out[i].Artist < out[j].Artist
		}
		return out[i].Title < out[j].Title
	})
	return out
}

type draft struct {
	spec            rec.Request
	profile         catalog.Profile
	sample          sample
	requestCount    int
	iter            *IterationContext
	verboseGuidance bool
}

// compressOnce applies the first still-available compression step: drop
// the album section, then shrink the artist list, then drop the verbose
// guidance. Returns false when nothing is left to compress.
func (d *draft) compressOnce() bool {
	if len(d.sample.albums) > 0 {
		d.sample.albums = nil
		return true
	}
	if len(d.sample.artists) > minSampledArtists {
		half := len(d.sample.artists) / 2
		if half < minSampledArtists {
			half = minSampledArtists
		}
		d.sample.artists = d.sample.artists[:half]
		return true
	}
	if d.verboseGuidance {
		d.verboseGuidance = false
		return true
	}
	return false
}

func artistLine(a catalog.Artist) string {
	if a.AlbumCount > 0 {
		return fmt.Sprintf("- %s (%d albums)", a.Name, a.AlbumCount)
	}
	return "- " + a.Name
}

func albumLine(a catalog.Album) string {
	return fmt.Sprintf("- %s - %s", a.Artist, a.Title)
}

func (d *draft) user() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Library: %d artists, %d albums.\n", d.profile.TotalArtists, d.profile.TotalAlbums)
	if len(d.profile.TopGenres) > 0 {
		parts := make([]string, len(d.profile.TopGenres))
		for i, g := range d.profile.TopGenres {
			parts[i] = fmt.Sprintf("%s (%d)", g.Genre, g.Count)
		}
		fmt.Fprintf(&b, "Dominant genres: %s.\n", strings.Join(parts, ", "))
	}
	if len(d.spec.StyleFilters) > 0 {
		styles := append([]string(nil), d.spec.StyleFilters...)
		sort.Strings(styles)
		fmt.Fprintf(&b, "Restrict suggestions to these styles: %s.\n", strings.Join(styles, ", "))
	}

	if len(d.sample.artists) > 0 {
		b.WriteString("\nOwned artists:\n")
		for _, a := range d.sample.artists {
			b.WriteString(artistLine(a))
			b.WriteByte('\n')
		}
	}
	if len(d.sample.albums) > 0 {
		b.WriteString("\nOwned albums:\n")
		for _, a := range d.sample.albums {
			b.WriteString(albumLine(a))
			b.WriteByte('\n')
		}
	}

	noun := "albums"
	if d.spec.Mode == rec.ModeArtistOnly {
		noun = "artists"
	}
	fmt.Fprintf(&b, "\nSuggest exactly %d %s that are not in this library.\n", d.requestCount, noun)
	switch d.spec.Discovery {
	case rec.DiscoverySimilar:
		b.WriteString("Stay close to the library's core sound.\n")
	case rec.DiscoveryAdjacent:
		b.WriteString("Explore styles adjacent to the library's core sound.\n")
	case rec.DiscoveryExploratory:
		b.WriteString("Push into territory the library does not cover yet.\n")
	}

	if d.spec.Mode == rec.ModeArtistOnly {
		if d.verboseGuidance {
			b.WriteString("\nRespond with a JSON array; each element has fields artist, genre, confidence (0 to 1), and reason. The reason explains in one sentence why the artist fits this library.\n")
		} else {
			b.WriteString("\nRespond with a JSON array; fields: artist, genre, confidence.\n")
		}
	} else {
		if d.verboseGuidance {
			b.WriteString("\nRespond with a JSON array; each element has fields artist, album, genre, confidence (0 to 1), and reason. The reason explains in one sentence why the album fits this library.\n")
		} else {
			b.WriteString("\nRespond with a JSON array; fields: artist, album, genre, confidence.\n")
		}
	}

	if d.iter != nil {
		d.appendix(&b)
	}
	return b.String()
}

func (d *draft) appendix(b *strings.Builder) {
	fmt.Fprintf(b, "\nEarlier rounds rejected %d duplicate suggestions.\n", d.iter.RejectedCount)

	if len(d.iter.RejectedKeys) > 0 {
		keys := d.iter.RejectedKeys
		if len(keys) > maxRejectedShown {
			keys = keys[:maxRejectedShown]
		}
		fmt.Fprintf(b, "Do not repeat: %s.\n", strings.Join(keys, "; "))
	}
	if len(d.iter.RecommendedArtists) > 0 {
		names := d.iter.RecommendedArtists
		if len(names) > maxRecommendedShown {
			names = names[:maxRecommendedShown]
		}
		fmt.Fprintf(b, "Already suggested this session: %s.\n", strings.Join(names, ", "))
	}
	b.WriteString("Diversify: vary genres, eras, and scenes relative to the lists above.\n")
}

func systemPrompt(mode rec.Mode) string {
	if mode == rec.ModeArtistOnly {
		return "You are a record-collection curator. Recommend artists the listener does not have yet, grounded in the shape of their library. Output only the requested JSON."
	}
	return "You are a record-collection curator. Recommend albums the listener does not own yet, grounded in the shape of their library. Output only the requested JSON."
}
