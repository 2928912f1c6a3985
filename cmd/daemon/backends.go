// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cratedig/cratedig/internal/config"
	"github.com/cratedig/cratedig/internal/health"
	"github.com/cratedig/cratedig/internal/llm"
	"github.com/cratedig/cratedig/internal/metrics"
	"github.com/cratedig/cratedig/internal/resilience"
)

// buildBackends constructs one generator per configured backend, wraps it
// in the retry/health/metrics service decorator and registers it. The
// returned probe map feeds the background health loop.
func buildBackends(ctx context.Context, cfg config.Config, monitor *health.Monitor, sink metrics.Sink) (*llm.Registry, map[string]health.ProbeFunc, error) {
	registry := llm.NewRegistry()
	probes := make(map[string]health.ProbeFunc, len(cfg.Backends))

	for _, b := range cfg.Backends {
		gen, err := buildGenerator(ctx, b)
		if err != nil {
			return nil, nil, fmt.Errorf("backend %q: %w", b.Name, err)
		}

		svc := llm.NewService(gen, llm.ServiceOptions{
			Monitor:        monitor,
			Sink:           sink,
			Retry:          resilience.Default(),
			CredentialHash: credentialHash(b.Credential),
		})
		if err := registry.Register(svc); err != nil {
			return nil, nil, fmt.Errorf("backend %q: %w", b.Name, err)
		}
		probes[b.Name] = svc.Probe
	}

	return registry, probes, nil
}

func buildGenerator(ctx context.Context, b config.BackendSettings) (llm.Generator, error) {
	capability := llm.Capability{
		ContextTokens:    b.ContextTokens,
		PromptCeiling:    b.PromptCeiling,
		SupportsThinking: b.SupportsThinking,
	}

	if b.Kind == config.KindCloud {
		gen, err := llm.NewCloud(llm.CloudOptions{
			Name:             b.Name,
			URL:              b.URL,
			Model:            b.Model,
			Credential:       b.Credential,
			CredentialHeader: b.CredentialHeader,
			Temperature:      b.Temperature,
			Timeout:          b.Timeout,
			Capability:       capability,
		})
		if err != nil {
			return nil, err
		}
		return gen, nil
	}

	gen, err := llm.NewLocal(ctx, llm.LocalOptions{
		Name:        b.Name,
		BaseURL:     b.URL,
		Chat:        b.Chat,
		Model:       b.Model,
		Temperature: b.Temperature,
		Timeout:     b.Timeout,
		Capability:  capability,
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// credentialHash is a short stable identifier for operator-facing auth
// warnings. It never round-trips back to the credential.
func credentialHash(credential string) string {
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:12]
}
