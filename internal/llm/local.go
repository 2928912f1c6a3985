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

const (
	defaultGeneratePath = "/api/generate"
	defaultChatPath     = "/v1/chat/completions"
	defaultProbePath    = "/api/version"

	defaultLocalTimeout = 120 * time.Second
	probeTimeout        = 5 * time.Second
)

// LocalOptions configures a generation backend on a loopback or private
// host. No credential is sent.
type LocalOptions struct {
	Name         string
	BaseURL      string
	GeneratePath string
	ChatPath     string
	ProbePath    string

	// Chat switches to the chat-completions wire shape instead of the
	// single-prompt generate shape.
	Chat bool

	Model       string
	Temperature float64
	TopP        float64
	Timeout     time.Duration
	Capability  Capability

	Client      *http.Client
	ProbeClient *http.Client
}

// Local is the single-endpoint private-network backend variant.
type Local struct {
	name       string
	base       string
	invokePath string
	probePath  string
	chat       bool

	temperature float64
	topP        float64
	timeout     time.Duration
	capability  Capability

	model  atomic.Pointer[ModelSpec]
	logger zerolog.Logger

	client      httpDoer
	probeClient httpDoer
}

// NewLocal validates the base URL against the private-host guard and
// returns the backend. Hosts resolving outside loopback/RFC1918 are
// rejected here, before any request is made.
func NewLocal(ctx context.Context, opts LocalOptions) (*Local, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("local backend: name required")
	}
	base, err := pnet.RequireLocalURL(ctx, opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("local backend %s: %w", opts.Name, err)
	}
	base = strings.TrimRight(base, "/")

	invokePath := opts.GeneratePath
	if opts.Chat {
		invokePath = opts.ChatPath
		if invokePath == "" {
			invokePath = defaultChatPath
		}
	} else if invokePath == "" {
		invokePath = defaultGeneratePath
	}
	probePath := opts.ProbePath
	if probePath == "" {
		probePath = defaultProbePath
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultLocalTimeout
	}

	client := httpDoer(opts.Client)
	if opts.Client == nil {
		client = httpx.NewGenerationClient(timeout)
	}
	probeClient := httpDoer(opts.ProbeClient)
	if opts.ProbeClient == nil {
		probeClient = httpx.NewClient(probeTimeout)
	}

	b := &Local{
		name:        opts.Name,
		base:        base,
		invokePath:  invokePath,
		probePath:   probePath,
		chat:        opts.Chat,
		temperature: opts.Temperature,
		topP:        opts.TopP,
		timeout:     timeout,
		capability:  opts.Capability,
		logger:      log.WithComponent("llm").With().Str(log.FieldBackend, opts.Name).Logger(),
		client:      client,
		probeClient: probeClient,
	}
	b.UpdateModel(opts.Model)
	return b, nil
}

func (b *Local) Name() string { return b.name }

func (b *Local) Capability() Capability { return b.capability }

func (b *Local) Model() ModelSpec { return *b.model.Load() }

// UpdateModel parses the identifier; a thinking suffix is stripped with a
// warning because local backends have no extended-reasoning mode.
func (b *Local) UpdateModel(id string) {
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

type localGenerateRequest struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Stream  bool         `json:"stream"`
	Options localOptions `json:"options"`
}

type localOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

type localGenerateResponse struct {
	Response string `json:"response"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type localChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke POSTs the prompt and extracts the generated text. A 2xx with an
// empty or undecodable body is a transient failure, never a silent
// success.
func (b *Local) Invoke(ctx context.Context, p Prompt) (Result, error) {
	model := b.Model()

	var payload any
	if b.chat {
		messages := make([]chatMessage, 0, 2)
		if p.System != "" {
			messages = append(messages, chatMessage{Role: "system", Content: p.System})
		}
		messages = append(messages, chatMessage{Role: "user", Content: p.User})
		payload = localChatRequest{
			Model:       model.ID,
			Messages:    messages,
			Temperature: b.temperature,
			MaxTokens:   p.MaxTokens,
		}
	} else {
		prompt := p.User
		if p.System != "" {
			prompt = p.System + "\n\n" + p.User
		}
		payload = localGenerateRequest{
			Model:  model.ID,
			Prompt: prompt,
			Options: localOptions{
				Temperature: b.temperature,
				TopP:        b.topP,
				MaxTokens:   p.MaxTokens,
			},
		}
	}

	data, err := postJSON(ctx, b.client, b.name, b.base+b.invokePath, b.timeout, nil, payload)
	if err != nil {
		return Result{}, err
	}

	text, err := b.extractText(data)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

func (b *Local) extractText(data []byte) (string, error) {
	var text string
	if b.chat {
		var out localChatResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return "", &BackendError{Backend: b.name, Op: "invoke", Snippet: snippet(data), Err: fmt.Errorf("%w: malformed response", ErrTransient)}
		}
		if len(out.Choices) > 0 {
			text = out.Choices[0].Message.Content
		}
	} else {
		var out localGenerateResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return "", &BackendError{Backend: b.name, Op: "invoke", Snippet: snippet(data), Err: fmt.Errorf("%w: malformed response", ErrTransient)}
		}
		text = out.Response
	}

	if strings.TrimSpace(text) == "" {
		return "", &BackendError{Backend: b.name, Op: "invoke", Snippet: snippet(data), Err: fmt.Errorf("%w: empty completion", ErrTransient)}
	}
	return text, nil
}

// Probe checks the version endpoint with the short-timeout client.
func (b *Local) Probe(ctx context.Context) error {
	return probeGet(ctx, b.probeClient, b.name, b.base+b.probePath, nil)
}
