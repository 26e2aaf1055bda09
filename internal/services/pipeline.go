package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"serenity-backend/internal/models"
)

const (
	contextSeparator      = "\n\n---\n\n"
	noContextPlaceholder  = "No relevant context found."
	noQuestionPlaceholder = "No question generated."

	// Returned when the model produces no text for an otherwise
	// successful generation call.
	fallbackAnswer = "I'm not sure I have the right information for that just yet. " +
		"In the meantime, gentle steps like steady sleep, short walks, and talking " +
		"with someone you trust can make a real difference."

	// Bound on each network-bound stage so a hung upstream cannot pin a request.
	stageTimeout = 30 * time.Second
)

type generativeClient interface {
	RewriteQuestion(ctx context.Context, question string, priorUserTexts []string) (string, error)
	GenerateAnswer(ctx context.Context, turns []models.ChatTurn, systemInstruction string) (string, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type snippetSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]models.RetrievedSnippet, error)
}

// ChatPipeline runs the retrieval-augmented answer flow for one request:
// normalize history, rewrite the follow-up into a standalone question,
// retrieve grounding snippets, generate the answer. Stages run strictly in
// sequence; every upstream call goes through the transient-retry wrapper.
type ChatPipeline struct {
	gemini      generativeClient
	snippets    snippetSearcher
	topK        int
	retry       RetryConfig
	isTransient func(error) bool
}

func NewChatPipeline(gemini generativeClient, snippets snippetSearcher, topK int) *ChatPipeline {
	return &ChatPipeline{
		gemini:      gemini,
		snippets:    snippets,
		topK:        topK,
		retry:       DefaultRetryConfig(),
		isTransient: IsTransient,
	}
}

// NormalizeHistory keeps entries that carry a role and a non-empty first
// text part; everything else is dropped without error. Relative order of
// the surviving entries is preserved.
func NormalizeHistory(entries []models.HistoryEntry) []models.ChatTurn {
	turns := make([]models.ChatTurn, 0, len(entries))
	for _, e := range entries {
		if e.Role == "" || len(e.Parts) == 0 {
			continue
		}
		text := e.Parts[0].Text
		if text == "" {
			continue
		}
		turns = append(turns, models.ChatTurn{Role: e.Role, Text: text})
	}
	return turns
}

// Answer executes the full pipeline and returns the grounded answer text.
func (p *ChatPipeline) Answer(ctx context.Context, question string, history []models.HistoryEntry) (string, error) {
	turns := NormalizeHistory(history)

	var priorUserTexts []string
	for _, t := range turns {
		if t.Role == "user" {
			priorUserTexts = append(priorUserTexts, t.Text)
		}
	}

	standalone, err := withRetry(ctx, p.retry, p.isTransient, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, stageTimeout)
		defer cancel()
		return p.gemini.RewriteQuestion(ctx, question, priorUserTexts)
	})
	if err != nil {
		return "", fmt.Errorf("query rewrite failed: %w", err)
	}
	if standalone == "" {
		standalone = strings.TrimSpace(question)
	}
	if standalone == "" {
		standalone = noQuestionPlaceholder
	}

	// The history handed to generation always ends with the standalone
	// question as the latest user turn, never with both the raw and
	// rewritten form of the same turn.
	if n := len(turns); n > 0 && turns[n-1].Role == "user" {
		turns[n-1].Text = standalone
	} else {
		turns = append(turns, models.ChatTurn{Role: "user", Text: standalone})
	}

	contextBlock, err := withRetry(ctx, p.retry, p.isTransient, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, stageTimeout)
		defer cancel()

		embedding, err := p.gemini.EmbedText(ctx, standalone)
		if err != nil {
			return "", err
		}
		matches, err := p.snippets.Search(ctx, embedding, p.topK)
		if err != nil {
			return "", err
		}
		return joinSnippets(matches), nil
	})
	if err != nil {
		return "", fmt.Errorf("context retrieval failed: %w", err)
	}
	if contextBlock == "" {
		contextBlock = noContextPlaceholder
	}

	instruction := buildSystemInstruction(contextBlock)

	answer, err := withRetry(ctx, p.retry, p.isTransient, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, stageTimeout)
		defer cancel()
		return p.gemini.GenerateAnswer(ctx, turns, instruction)
	})
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	if answer == "" {
		answer = fallbackAnswer
	}

	return answer, nil
}

// joinSnippets drops blank matches and joins the rest in ranked order.
func joinSnippets(matches []models.RetrievedSnippet) string {
	var texts []string
	for _, m := range matches {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		texts = append(texts, m.Text)
	}
	return strings.Join(texts, contextSeparator)
}

func buildSystemInstruction(contextBlock string) string {
	var b strings.Builder
	b.WriteString("You are Serenity, a warm and supportive wellness companion.\n\n")
	b.WriteString("Answer using ONLY the reference material below. ")
	b.WriteString("If the material does not cover the question, respond with exactly this sentence: ")
	b.WriteString(fallbackAnswer)
	b.WriteString("\n\nKeep a warm, encouraging tone. Never prescribe, recommend, or dose medicines; ")
	b.WriteString("for anything medical, suggest speaking with a qualified professional.\n\n")
	b.WriteString("Reference material:\n")
	b.WriteString(contextBlock)
	return b.String()
}
