package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"

	"finvoice-go/internal/logger"
	"finvoice-go/internal/types"
)

type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // overrides the Gemini API base URL, for proxies and tests
	Timeout    time.Duration
	MaxRetries int
}

// GeminiCompleter uses Gemini structured output with the record schema.
type GeminiCompleter struct {
	client     *genai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	newBackOff func() backoff.BackOff
	log        *logger.Logger
}

var recordSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":          {Type: genai.TypeString},
		"sentiment":        {Type: genai.TypeString, Enum: []string{"Positive", "Neutral", "Negative"}},
		"speakers":         {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"topics":           {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"intent":           {Type: genai.TypeString},
		"emotional_state":  {Type: genai.TypeString},
		"financial_events": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"compliance_notes": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"amount":           {Type: genai.TypeNumber, Nullable: types.Ptr(true)},
		"currency":         {Type: genai.TypeString, Nullable: types.Ptr(true)},
		"interest_rate":    {Type: genai.TypeNumber, Nullable: types.Ptr(true)},
		"due_date":         {Type: genai.TypeString, Nullable: types.Ptr(true)},
	},
	Required: []string{
		"summary",
		"sentiment",
		"speakers",
		"topics",
		"intent",
		"emotional_state",
		"financial_events",
		"compliance_notes",
	},
}

func NewGeminiCompleter(ctx context.Context, cfg GeminiConfig, log *logger.Logger) (*GeminiCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &types.ConfigurationError{Setting: "LLM_API_KEY", Err: types.ErrMissingCredentials}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, &types.ConfigurationError{Setting: "LLM_MODEL", Err: errors.New("required for gemini")}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiCompleter{
		client:     client,
		model:      strings.TrimSpace(cfg.Model),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		log:        log.Component("extractor.gemini"),
	}, nil
}

func (g *GeminiCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	temperature := float32(req.Temperature)
	gc := &genai.GenerateContentConfig{
		CandidateCount: 1,
		Temperature:    &temperature,
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = recordSchema
	}

	var text string
	op := func() error {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), gc)
		if err != nil {
			if isTransientGeminiError(err) && ctx.Err() == nil {
				g.log.WithError(err).Warn("gemini request failed, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		text = resp.Text()
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), uint64(max(g.maxRetries, 0))), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", fmt.Errorf("gemini generate (%s): %w", g.model, err)
	}
	return text, nil
}

func isTransientGeminiError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code/100 == 5
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
