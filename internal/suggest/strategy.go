// SPDX-License-Identifier: MIT

// Package suggest turns a planned prompt into a converged recommendation
// list: the iterative strategy re-asks the backend until the target count
// is met or the iteration budget runs out, and the orchestrator wraps one
// fetch in single-flight, health gating, and history filtering.
package suggest

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/catalog"
	"github.com/cratedig/cratedig/internal/llm"
	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/parse"
	"github.com/cratedig/cratedig/internal/prompt"
	"github.com/cratedig/cratedig/internal/ratelimit"
	"github.com/cratedig/cratedig/internal/rec"
	"github.com/cratedig/cratedig/internal/telemetry"
)

const (
	maxIterations  = 3
	maxRequestSize = 50

	// stop iterating once the last batch was mostly unique and the quota
	// is mostly filled
	goodSuccessRate = 0.7
	goodFillRate    = 0.8
)

// Loop end reasons. Emitted as the fetch.empty_reason tag when a fetch
// returns nothing.
const (
	ReasonUnhealthy     = "unhealthy"
	ReasonEmptyResponse = "empty_response"
	ReasonExhausted     = "exhausted"
	ReasonBackendError  = "backend_error"
	ReasonAuth          = "auth"
	ReasonRateLimited   = "rate_limited"
	ReasonDeadline      = "deadline"
	ReasonCancelled     = "cancelled"
)

// multiplier inflates the ask to absorb expected duplicate loss; later
// rounds ask for proportionally more.
func multiplier(iteration int) float64 {
	switch iteration {
	case 1:
		return 1.5
	case 2:
		return 2.0
	default:
		return 3.0
	}
}

func requestSize(needed, iteration int) int {
	size := int(math.Ceil(float64(needed) * multiplier(iteration)))
	if size < needed {
		size = needed
	}
	return min(maxRequestSize, size)
}

// Input is one fetch's working set: the validated request, a consistent
// catalog snapshot, and the backend that will serve it.
type Input struct {
	Spec        rec.Request
	Profile     catalog.Profile
	Artists     []catalog.Artist
	Albums      []catalog.Album
	Fingerprint string
	Generator   llm.Generator
}

// Outcome reports what the loop produced and why it stopped. Reason is
// empty when the target count was reached.
type Outcome struct {
	Items        []rec.Recommendation
	Iterations   int
	Received     int
	Unique       int
	Rejected     int
	InputTokens  int
	OutputTokens int
	Reason       string
}

// Strategy drives the plan-invoke-filter loop for a single fetch. It never
// returns an error: any failure ends the loop and whatever was collected
// so far is the result.
type Strategy struct {
	planner *prompt.Planner
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

func NewStrategy(planner *prompt.Planner, limiter *ratelimit.Limiter) *Strategy {
	return &Strategy{
		planner: planner,
		limiter: limiter,
		logger:  log.WithComponent("suggest"),
	}
}

// Recommend converges on up to Spec.TargetCount items absent from the
// library. Each round filters the parsed batch against the library and
// everything collected so far; duplicate keys are fed back into the next
// round's prompt as negative context.
func (s *Strategy) Recommend(ctx context.Context, in Input) Outcome {
	target := in.Spec.TargetCount
	library := libraryKeys(in)
	logger := log.WithContext(ctx, s.logger)

	var out Outcome
	collected := make([]rec.Recommendation, 0, target)
	collectedKeys := make(map[string]struct{}, target)
	rejected := make(map[string]struct{})

	for i := 1; i <= maxIterations; i++ {
		needed := target - len(collected)
		if needed <= 0 {
			break
		}
		out.Iterations = i
		ask := requestSize(needed, i)

		plan, err := s.planner.Plan(ctx, s.planRequest(in, ask, i, rejected, collected))
		if err != nil {
			out.Reason = ReasonBackendError
			logger.Error().Err(err).Str(log.FieldEvent, "fetch.plan_failed").Msg("prompt planning failed")
			break
		}

		result, err := s.invoke(ctx, in, plan)
		if err != nil {
			out.Reason = abortReason(err)
			logger.Warn().Err(err).
				Str(log.FieldEvent, "fetch.iteration_aborted").
				Int(log.FieldIteration, i).
				Str("reason", out.Reason).
				Msg("iteration aborted")
			break
		}
		out.InputTokens += result.InputTokens
		out.OutputTokens += result.OutputTokens

		items := parse.Response(result.Text)
		received := len(items)
		out.Received += received
		if received == 0 {
			out.Reason = ReasonEmptyResponse
			logger.Debug().
				Str(log.FieldEvent, "fetch.empty_batch").
				Int(log.FieldIteration, i).
				Msg("backend returned no usable items")
			break
		}

		unique := 0
		for _, item := range items {
			key, ok := item.Key(in.Spec.Mode)
			if !ok {
				continue
			}
			if _, dup := collectedKeys[key]; dup {
				rejected[key] = struct{}{}
				continue
			}
			if _, owned := library[key]; owned {
				rejected[key] = struct{}{}
				continue
			}
			collectedKeys[key] = struct{}{}
			collected = append(collected, item)
			unique++
		}
		out.Unique += unique
		out.Rejected = len(rejected)

		successRate := float64(unique) / float64(received)
		fillRate := float64(len(collected)) / float64(target)

		logger.Debug().
			Str(log.FieldEvent, "fetch.iteration").
			Int(log.FieldIteration, i).
			Int("requested", ask).
			Int("received", received).
			Int("unique", unique).
			Int("rejected", len(rejected)).
			Float64("success_rate", successRate).
			Float64("fill_rate", fillRate).
			Msg("iteration finished")

		if len(collected) >= target {
			break
		}
		if successRate >= goodSuccessRate && fillRate >= goodFillRate {
			break
		}
	}

	if len(collected) > target {
		collected = collected[:target]
	}
	out.Items = collected
	if len(collected) == 0 && out.Reason == "" {
		out.Reason = ReasonExhausted
	}
	return out
}

func (s *Strategy) invoke(ctx context.Context, in Input, plan prompt.Plan) (llm.Result, error) {
	var result llm.Result
	start := time.Now()
	err := s.limiter.Execute(ctx, in.Spec.BackendID, func(ctx context.Context) error {
		var err error
		result, err = in.Generator.Invoke(ctx, llm.Prompt{
			System:    plan.System,
			User:      plan.Prompt,
			MaxTokens: plan.Budget.CompletionTokens,
		})
		return err
	})
	if err == nil {
		telemetry.EmitGenerationObs(ctx, in.Spec.BackendID, in.Generator.Model().ID,
			result.InputTokens, result.OutputTokens, time.Since(start).Milliseconds())
	}
	return result, err
}

func (s *Strategy) planRequest(in Input, ask, iteration int, rejected map[string]struct{}, collected []rec.Recommendation) prompt.PlanRequest {
	pr := prompt.PlanRequest{
		Spec:               in.Spec,
		Profile:            in.Profile,
		Artists:            in.Artists,
		Albums:             in.Albums,
		LibraryFingerprint: in.Fingerprint,
		Capability:         in.Generator.Capability(),
		RequestCount:       ask,
	}
	if iteration == 1 {
		return pr
	}

	keys := make([]string, 0, len(rejected))
	for k := range rejected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]bool, len(collected))
	artists := make([]string, 0, len(collected))
	for _, item := range collected {
		if seen[item.Artist] {
			continue
		}
		seen[item.Artist] = true
		artists = append(artists, item.Artist)
	}

	pr.Iteration = &prompt.IterationContext{
		Iteration:          iteration,
		RejectedCount:      len(rejected),
		RejectedKeys:       keys,
		RecommendedArtists: artists,
	}
	return pr
}

// libraryKeys is the owned-item set suggestions are filtered against.
// Album mode excludes owned albums; a new album by an owned artist stays
// eligible. Artist mode excludes owned artists.
func libraryKeys(in Input) map[string]struct{} {
	if in.Spec.Mode == rec.ModeArtistOnly {
		keys := make(map[string]struct{}, len(in.Artists))
		for _, a := range in.Artists {
			if k, ok := rec.Key(rec.ModeArtistOnly, a.Name, ""); ok {
				keys[k] = struct{}{}
			}
		}
		return keys
	}
	keys := make(map[string]struct{}, len(in.Albums))
	for _, al := range in.Albums {
		if k, ok := rec.Key(rec.ModeAlbum, al.Artist, al.Title); ok {
			keys[k] = struct{}{}
		}
	}
	return keys
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonDeadline
	case errors.Is(err, ratelimit.ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, llm.ErrAuth):
		return ReasonAuth
	default:
		return ReasonBackendError
	}
}
