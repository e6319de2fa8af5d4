package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kevinmichaelchen/star-catalog/internal/config"
	"github.com/kevinmichaelchen/star-catalog/internal/models"
)

var (
	// ErrRequestFailed covers transport errors and non-2xx responses.
	ErrRequestFailed = errors.New("completion request failed")
	// ErrMalformedResponse covers missing choices and unparseable content.
	ErrMalformedResponse = errors.New("malformed completion response")
)

// Client talks to an OpenAI-compatible chat completion endpoint. The API
// key is chosen per call so callers can rotate credentials.
type Client struct {
	cfg        config.OpenAIConfig
	httpClient *http.Client
}

func NewClient(cfg config.OpenAIConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: newSamplingTransport(http.DefaultTransport, cfg),
		},
	}
}

func (c *Client) openai(apiKey string) *openai.Client {
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = strings.TrimSuffix(c.cfg.APIBase, "/")
	oc.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(oc)
}

const systemPrompt = `You are a technical analyst cataloging GitHub repositories. Return ONLY a JSON object. No markdown, no code fences, no commentary.`

func classifyPrompt(req models.ClassifyRequest) string {
	cats := strings.Join(req.Categories, ", ")

	var b strings.Builder
	b.WriteString("Classify and summarize this repository.\n\n")
	fmt.Fprintf(&b, "Repository: %s\n", req.Name)
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	fmt.Fprintf(&b, "Language: %s\n", req.Language)
	fmt.Fprintf(&b, "Topics: %s\n", strings.Join(req.Topics, ", "))
	fmt.Fprintf(&b, "README excerpt:\n%s\n\n", req.ReadmeExcerpt)
	fmt.Fprintf(&b, "Allowed categories: %s\n\n", cats)
	b.WriteString(`Respond with {"category": "<one allowed category>", "summary": "<one sentence, at most 50 words>"}.` + "\n")
	fmt.Fprintf(&b, "The category MUST be exactly one of: %s\n", cats)
	return b.String()
}

func categoriesPrompt(repos []models.RepoBrief) (string, error) {
	list, err := json.MarshalIndent(repos, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding repository list: %w", err)
	}
	return fmt.Sprintf(`Analyze these GitHub repositories and propose 5-10 categories that together cover them.
Each category needs a clear scope, should apply to several repositories and have a short name (at most 4 words).

Repositories:
%s

Respond with {"categories": ["..."], "category_descriptions": {"<category>": "<what belongs here>"}}.`, list), nil
}

// Classify asks for a category and summary of one repository. The category
// is returned as the model gave it; validating it is the caller's job.
func (c *Client) Classify(ctx context.Context, apiKey string, req models.ClassifyRequest) (*models.ClassifyResult, error) {
	content, err := c.complete(ctx, apiKey, classifyPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("classifying %s: %w", req.Name, err)
	}

	var result models.ClassifyResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("classifying %s: %w: %v", req.Name, ErrMalformedResponse, err)
	}
	return &result, nil
}

// GenerateCategories proposes a category set for the given repositories.
func (c *Client) GenerateCategories(ctx context.Context, apiKey string, repos []models.RepoBrief) (*models.CategorySet, error) {
	prompt, err := categoriesPrompt(repos)
	if err != nil {
		return nil, err
	}
	content, err := c.complete(ctx, apiKey, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating categories: %w", err)
	}

	var set models.CategorySet
	if err := json.Unmarshal([]byte(content), &set); err != nil {
		return nil, fmt.Errorf("generating categories: %w: %v", ErrMalformedResponse, err)
	}
	if len(set.Categories) == 0 {
		return nil, fmt.Errorf("generating categories: %w: no categories", ErrMalformedResponse)
	}
	return &set, nil
}

func (c *Client) complete(ctx context.Context, apiKey, userMsg string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		MaxTokens:        c.cfg.MaxTokens,
		Temperature:      c.cfg.Temperature,
		TopP:             c.cfg.TopP,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		N:                1,
	}
	// Not all OpenAI-compatible models support json_object mode.
	if c.cfg.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.openai(apiKey).CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}
	return stripCodeFences(resp.Choices[0].Message.Content), nil
}

// stripCodeFences removes markdown code fences that some models wrap around JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		// Remove opening fence (```json or ```)
		if i := strings.Index(s, "\n"); i != -1 {
			s = s[i+1:]
		}
		// Remove closing fence
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
