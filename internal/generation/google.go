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
	googleBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	googleDefaultModel = "gemini-1.5-flash"
)

// GoogleProvider calls the Generative Language generateContent API. The
// grounding prompt goes into system_instruction.
type GoogleProvider struct {
	apiKey  string
	model   string
	params  Params
	baseURL string
	http    *http.Client
}

func NewGoogleProvider(apiKey, model string, params Params) *GoogleProvider {
	if model == "" {
		model = googleDefaultModel
	}
	return &GoogleProvider{
		apiKey:  apiKey,
		model:   model,
		params:  params,
		baseURL: googleBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *GoogleProvider) Model() string { return p.model }

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleGenerateRequest struct {
	SystemInstruction *googleContent  `json:"system_instruction,omitempty"`
	Contents          []googleContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type googleGenerateResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (p *GoogleProvider) Generate(ctx context.Context, systemPrompt, userMessage string) (*Result, error) {
	greq := googleGenerateRequest{
		SystemInstruction: &googleContent{Parts: []googlePart{{Text: systemPrompt}}},
		Contents:          []googleContent{{Role: "user", Parts: []googlePart{{Text: userMessage}}}},
	}
	greq.GenerationConfig.Temperature = p.params.Temperature
	greq.GenerationConfig.MaxOutputTokens = p.params.MaxTokens
	body, _ := json.Marshal(greq)

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}

	var out googleGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrTransient, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty candidate list", ErrTransient)
	}

	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return &Result{
		Text:         strings.TrimSpace(text.String()),
		Model:        p.model,
		InputTokens:  out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
	}, nil
}
