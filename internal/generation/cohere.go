package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	cohereBaseURL      = "https://api.cohere.com/v1"
	cohereDefaultModel = "command-r"
)

// CohereProvider calls the Cohere chat API, passing the grounding prompt as
// the preamble.
type CohereProvider struct {
	apiKey  string
	model   string
	params  Params
	baseURL string
	http    *http.Client
}

func NewCohereProvider(apiKey, model string, params Params) *CohereProvider {
	if model == "" {
		model = cohereDefaultModel
	}
	return &CohereProvider{
		apiKey:  apiKey,
		model:   model,
		params:  params,
		baseURL: cohereBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *CohereProvider) Model() string { return p.model }

type cohereChatRequest struct {
	Model       string  `json:"model"`
	Message     string  `json:"message"`
	Preamble    string  `json:"preamble"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type cohereChatResponse struct {
	Text string `json:"text"`
	Meta struct {
		BilledUnits struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
}

func (p *CohereProvider) Generate(ctx context.Context, systemPrompt, userMessage string) (*Result, error) {
	body, _ := json.Marshal(cohereChatRequest{
		Model:       p.model,
		Message:     userMessage,
		Preamble:    systemPrompt,
		Temperature: p.params.Temperature,
		MaxTokens:   p.params.MaxTokens,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}

	var out cohereChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrTransient, err)
	}

	return &Result{
		Text:         strings.TrimSpace(out.Text),
		Model:        p.model,
		InputTokens:  out.Meta.BilledUnits.InputTokens,
		OutputTokens: out.Meta.BilledUnits.OutputTokens,
	}, nil
}
