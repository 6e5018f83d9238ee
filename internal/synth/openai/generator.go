// Package openai generates answers through an OpenAI-compatible chat completions endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"coursebot/internal/domain"
	"coursebot/internal/resilience"
)

const systemPrompt = "You are an assistant for the Physical AI & Humanoid Robotics course. " +
	"Answer the question using only the course excerpts you are given. " +
	"Do not add facts that are not in the excerpts. " +
	"If the excerpts do not cover the question, say that the course materials do not cover it."

// Config configures the chat generator.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float32
	MaxTokens   int
	// ExcerptChars truncates each excerpt in the prompt. Zero keeps whole chunks.
	ExcerptChars int
}

// Generator asks a chat model to answer from the excerpts.
type Generator struct {
	client *openai.Client
	cfg    Config
}

// NewGenerator creates a generator; the API key is read from cfg.APIKeyEnv.
func NewGenerator(cfg Config) (*Generator, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &Generator{client: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

func (g *Generator) Name() string { return "openai" }

// Generate returns the model's answer. Request errors the endpoint will repeat (bad key, bad request)
// are marked permanent so they are not retried.
func (g *Generator) Generate(ctx context.Context, question string, excerpts []domain.ScoredChunk) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(question, excerpts, g.cfg.ExcerptChars)},
		},
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		err = fmt.Errorf("openai chat: %w", err)
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && permanentStatus(apiErr.HTTPStatusCode) {
			return "", resilience.Permanent(err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
}

// BuildPrompt lays out the excerpts, labelled by module and chapter, followed by the question.
func BuildPrompt(question string, excerpts []domain.ScoredChunk, excerptChars int) string {
	var b strings.Builder
	b.WriteString("Course excerpts:\n\n")
	for i, ex := range excerpts {
		text := ex.Chunk.Text
		if excerptChars > 0 {
			if r := []rune(text); len(r) > excerptChars {
				text = string(r[:excerptChars]) + "..."
			}
		}
		fmt.Fprintf(&b, "Excerpt %d (Module: %s, Chapter: %s):\n", i+1, ex.Chunk.Module, ex.Chunk.Chapter)
		fmt.Fprintf(&b, "Title: %s\n", ex.Chunk.Title)
		fmt.Fprintf(&b, "Content: %s\n---\n", text)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\n", question)
	b.WriteString("Answer based ONLY on the course excerpts above, and mention which module and chapter the answer comes from.")
	return b.String()
}
