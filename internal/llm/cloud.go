// SPDX-License-Identifier: MIT

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/platform/httpx"
	pnet "github.com/cratedig/cratedig/internal/platform/net"
)

const defaultCloudTimeout = 120 * time.Second

// CloudOptions configures a vendor messages backend. The credential is an
// opaque string sent in the configured header; it never appears in logs.
type CloudOptions struct {
	Name  string
	URL   string
	Model string

	Credential       string
	CredentialHeader string
	CredentialPrefix string
	ExtraHeaders     map[string]string

	Temperature float64
	Timeout     time.Duration
	Capability  Capability

	Client      *http.Client
	ProbeClient *http.Client
}

// Cloud is the vendor "messages" backend variant.
type Cloud struct {
	name     string
	endpoint string
	headers  map[string]string

	temperature float64
	timeout     time.Duration
	capability  Capability

	model  atomic.Pointer[ModelSpec]
	logger zerolog.Logger

	client      httpDoer
	probeClient httpDoer
}

// NewCloud validates the endpoint URL and returns the backend.
func NewCloud(opts CloudOptions) (*Cloud, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("cloud backend: name required")
	}
	u, ok := pnet.ParseDirectHTTPURL(opts.URL)
	if !ok {
		return nil, fmt.Errorf("cloud backend %s: invalid url %q", opts.Name, pnet.SanitizeURL(opts.URL))
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.Credential != "" {
		header := opts.CredentialHeader
		if header == "" {
			header = "Authorization"
		}
		prefix := opts.CredentialPrefix
		if prefix == "" && http.CanonicalHeaderKey(header) == "Authorization" {
			prefix = "Bearer "
		}
		headers[header] = prefix + opts.Credential
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCloudTimeout
	}
	client := httpDoer(opts.Client)
	if opts.Client == nil {
		client = httpx.NewGenerationClient(timeout)
	}
	probeClient := httpDoer(opts.ProbeClient)
	if opts.ProbeClient == nil {
		probeClient = httpx.NewClient(probeTimeout)
	}

	b := &Cloud{
		name:        opts.Name,
		endpoint:    u.String(),
		headers:     headers,
		temperature: opts.Temperature,
		timeout:     timeout,
		capability:  opts.Capability,
		logger:      log.WithComponent("llm").With().Str(log.FieldBackend, opts.Name).Logger(),
		client:      client,
		probeClient: probeClient,
	}
	b.UpdateModel(opts.Model)
	return b, nil
}

func (b *Cloud) Name() string { return b.name }

func (b *Cloud) Capability() Capability { return b.capability }

func (b *Cloud) Model() ModelSpec { return *b.model.Load() }

// UpdateModel parses the identifier. The thinking suffix stays effective
// only when the capability descriptor supports it.
func (b *Cloud) UpdateModel(id string) {
	spec := ParseModel(id)
	if spec.Thinking && !b.capability.SupportsThinking {
		b.logger.Warn().
			Str("event", "backend.thinking_ignored").
			Str(log.FieldModel, spec.ID).
			Msg("thinking suffix ignored: backend has no extended reasoning mode")
		spec.Thinking = false
		spec.ThinkingBudget = 0
	}
	b.model.Store(&spec)
}

type cloudRequest struct {
	Model       string         `json:"model"`
	System      string         `json:"system,omitempty"`
	Messages    []chatMessage  `json:"messages"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	Thinking    *cloudThinking `json:"thinking,omitempty"`
}

type cloudThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type cloudResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke POSTs the messages body and concatenates the text content
// blocks. Thinking blocks are skipped; usage is passed through.
func (b *Cloud) Invoke(ctx context.Context, p Prompt) (Result, error) {
	model := b.Model()

	payload := cloudRequest{
		Model:       model.ID,
		System:      p.System,
		Messages:    []chatMessage{{Role: "user", Content: p.User}},
		MaxTokens:   p.MaxTokens,
		Temperature: b.temperature,
	}
	if model.Thinking {
		payload.Thinking = &cloudThinking{Type: "auto", BudgetTokens: model.ThinkingBudget}
	}

	data, err := postJSON(ctx, b.client, b.name, b.endpoint, b.timeout, b.headers, payload)
	if err != nil {
		return Result{}, err
	}

	var out cloudResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, &BackendError{Backend: b.name, Op: "invoke", Snippet: snippet(data), Err: fmt.Errorf("%w: malformed response", ErrTransient)}
	}

	var parts []string
	for _, block := range out.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if strings.TrimSpace(text) == "" {
		return Result{}, &BackendError{Backend: b.name, Op: "invoke", Snippet: snippet(data), Err: fmt.Errorf("%w: empty completion", ErrTransient)}
	}

	return Result{
		Text:         text,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

// Probe issues a GET against the endpoint. Vendor APIs answer with 4xx
// for the wrong method, which still proves reachability and TLS.
func (b *Cloud) Probe(ctx context.Context) error {
	return probeGet(ctx, b.probeClient, b.name, b.endpoint, b.headers)
}
