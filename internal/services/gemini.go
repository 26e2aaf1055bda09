package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"serenity-backend/internal/models"
)

const answerTemperature = 0.7

const rewriteInstruction = `Rewrite the user's final question so it can be understood on its own, ` +
	`using the earlier messages only to resolve references. Output ONLY the rewritten standalone question. ` +
	`If the message is a greeting, return it unchanged.`

// GeminiService wraps the Gemini API client for rewriting, grounded answer
// generation, and query embedding. The client handle is created once at
// startup and is safe for concurrent use; a token bucket caps in-flight calls.
type GeminiService struct {
	client     *genai.Client
	chatModel  string
	embedModel string
	rateChan   chan struct{} // Token bucket
}

func NewGeminiService(apiKey, chatModel, embedModel string, concurrentReqs int) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:     client,
		chatModel:  chatModel,
		embedModel: embedModel,
		rateChan:   rateChan,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// RewriteQuestion turns a possibly-elliptical follow-up into a standalone
// question. The prompt is the prior user-authored texts newline-joined,
// followed by the follow-up itself.
func (s *GeminiService) RewriteQuestion(ctx context.Context, question string, priorUserTexts []string) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	model := s.client.GenerativeModel(s.chatModel)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(rewriteInstruction)}}

	var prompt strings.Builder
	for _, t := range priorUserTexts {
		prompt.WriteString(t)
		prompt.WriteString("\n")
	}
	prompt.WriteString(question)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		return "", fmt.Errorf("Gemini rewrite error: %w", err)
	}

	return strings.TrimSpace(extractText(resp)), nil
}

// GenerateAnswer runs the grounded generation call. The last turn must be
// the user's standalone question; everything before it becomes chat history.
func (s *GeminiService) GenerateAnswer(ctx context.Context, turns []models.ChatTurn, systemInstruction string) (string, error) {
	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return "", fmt.Errorf("conversation must end with a user turn")
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	model := s.client.GenerativeModel(s.chatModel)
	model.SetTemperature(answerTemperature)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}

	cs := model.StartChat()
	for _, t := range turns[:len(turns)-1] {
		cs.History = append(cs.History, &genai.Content{
			Role:  t.Role,
			Parts: []genai.Part{genai.Text(t.Text)},
		})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(turns[len(turns)-1].Text))
	if err != nil {
		return "", fmt.Errorf("Gemini generation error: %w", err)
	}

	return strings.TrimSpace(extractText(resp)), nil
}

// EmbedText computes the embedding vector for a query or chunk.
func (s *GeminiService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}
	defer s.releaseRate()

	em := s.client.EmbeddingModel(s.embedModel)
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("Gemini embedding error: %w", err)
	}

	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return resp.Embedding.Values, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
