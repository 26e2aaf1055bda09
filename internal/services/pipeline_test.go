package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"serenity-backend/internal/models"
)

// ─── Fakes ───

type fakeGemini struct {
	rewriteFunc  func(question string, prior []string) (string, error)
	generateFunc func(turns []models.ChatTurn, instruction string) (string, error)
	embedFunc    func(text string) ([]float32, error)

	generateCalls   int
	lastTurns       []models.ChatTurn
	lastInstruction string
}

func (f *fakeGemini) RewriteQuestion(_ context.Context, question string, prior []string) (string, error) {
	if f.rewriteFunc != nil {
		return f.rewriteFunc(question, prior)
	}
	return question, nil
}

func (f *fakeGemini) GenerateAnswer(_ context.Context, turns []models.ChatTurn, instruction string) (string, error) {
	f.generateCalls++
	f.lastTurns = append([]models.ChatTurn(nil), turns...)
	f.lastInstruction = instruction
	if f.generateFunc != nil {
		return f.generateFunc(turns, instruction)
	}
	return "generated answer", nil
}

func (f *fakeGemini) EmbedText(_ context.Context, text string) ([]float32, error) {
	if f.embedFunc != nil {
		return f.embedFunc(text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeSearcher struct {
	matches []models.RetrievedSnippet
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, _ int) ([]models.RetrievedSnippet, error) {
	return f.matches, f.err
}

func newTestPipeline(g *fakeGemini, s *fakeSearcher) *ChatPipeline {
	p := NewChatPipeline(g, s, 10)
	// keep retries instant in tests
	p.retry.InitialDelay = 0
	return p
}

// ─── History Normalizer ───

func TestNormalizeHistory(t *testing.T) {
	tests := []struct {
		name    string
		entries []models.HistoryEntry
		want    []models.ChatTurn
	}{
		{
			name:    "empty input",
			entries: nil,
			want:    []models.ChatTurn{},
		},
		{
			name: "drops entry without role",
			entries: []models.HistoryEntry{
				{Role: "", Parts: []models.HistoryPart{{Text: "hi"}}},
				{Role: "user", Parts: []models.HistoryPart{{Text: "hello"}}},
			},
			want: []models.ChatTurn{{Role: "user", Text: "hello"}},
		},
		{
			name: "drops entry without parts",
			entries: []models.HistoryEntry{
				{Role: "user"},
				{Role: "model", Parts: []models.HistoryPart{{Text: "hi there"}}},
			},
			want: []models.ChatTurn{{Role: "model", Text: "hi there"}},
		},
		{
			name: "drops entry with empty first text",
			entries: []models.HistoryEntry{
				{Role: "user", Parts: []models.HistoryPart{{Text: ""}}},
				{Role: "user", Parts: []models.HistoryPart{{Text: "kept"}}},
			},
			want: []models.ChatTurn{{Role: "user", Text: "kept"}},
		},
		{
			name: "keeps only first text fragment per turn",
			entries: []models.HistoryEntry{
				{Role: "user", Parts: []models.HistoryPart{{Text: "first"}, {Text: "second"}}},
			},
			want: []models.ChatTurn{{Role: "user", Text: "first"}},
		},
		{
			name: "preserves relative order of survivors",
			entries: []models.HistoryEntry{
				{Role: "user", Parts: []models.HistoryPart{{Text: "a"}}},
				{Role: "bogus", Parts: nil},
				{Role: "model", Parts: []models.HistoryPart{{Text: "b"}}},
				{Role: "user", Parts: []models.HistoryPart{{Text: "c"}}},
			},
			want: []models.ChatTurn{
				{Role: "user", Text: "a"},
				{Role: "model", Text: "b"},
				{Role: "user", Text: "c"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeHistory(tc.entries)
			if len(got) != len(tc.want) {
				t.Fatalf("Expected %d turns, got %d", len(tc.want), len(got))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("Turn %d: expected %+v, got %+v", i, tc.want[i], got[i])
				}
			}
		})
	}
}

// ─── Context block construction ───

func TestJoinSnippets(t *testing.T) {
	matches := []models.RetrievedSnippet{
		{Text: "", Score: 0.9},
		{Text: "  ", Score: 0.8},
		{Text: "A", Score: 0.7},
		{Text: "B", Score: 0.6},
	}

	got := joinSnippets(matches)
	want := "A\n\n---\n\nB"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestJoinSnippetsAllBlank(t *testing.T) {
	matches := []models.RetrievedSnippet{{Text: ""}, {Text: "\t "}}
	if got := joinSnippets(matches); got != "" {
		t.Errorf("Expected empty context, got %q", got)
	}
}

// ─── Rewrite post-step: replace vs append ───

func TestAnswerReplacesLastUserTurn(t *testing.T) {
	gemini := &fakeGemini{
		rewriteFunc: func(q string, prior []string) (string, error) {
			return "standalone form", nil
		},
	}
	p := newTestPipeline(gemini, &fakeSearcher{matches: []models.RetrievedSnippet{{Text: "ctx"}}})

	history := []models.HistoryEntry{
		{Role: "user", Parts: []models.HistoryPart{{Text: "what is mindfulness?"}}},
		{Role: "model", Parts: []models.HistoryPart{{Text: "it is..."}}},
		{Role: "user", Parts: []models.HistoryPart{{Text: "and how do I start?"}}},
	}

	if _, err := p.Answer(context.Background(), "and how do I start?", history); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if len(gemini.lastTurns) != 3 {
		t.Fatalf("Expected history length to stay 3, got %d", len(gemini.lastTurns))
	}
	last := gemini.lastTurns[2]
	if last.Role != "user" || last.Text != "standalone form" {
		t.Errorf("Expected last turn to be the rewritten user question, got %+v", last)
	}
	for _, turn := range gemini.lastTurns {
		if turn.Text == "and how do I start?" {
			t.Error("Raw follow-up should not survive alongside the rewritten form")
		}
	}
}

func TestAnswerAppendsWhenLastTurnIsModel(t *testing.T) {
	gemini := &fakeGemini{
		rewriteFunc: func(q string, prior []string) (string, error) { return "rewritten", nil },
	}
	p := newTestPipeline(gemini, &fakeSearcher{})

	history := []models.HistoryEntry{
		{Role: "model", Parts: []models.HistoryPart{{Text: "welcome"}}},
	}

	if _, err := p.Answer(context.Background(), "how do I sleep better?", history); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if len(gemini.lastTurns) != 2 {
		t.Fatalf("Expected history to grow to 2, got %d", len(gemini.lastTurns))
	}
	if gemini.lastTurns[1].Role != "user" || gemini.lastTurns[1].Text != "rewritten" {
		t.Errorf("Expected appended user turn, got %+v", gemini.lastTurns[1])
	}
}

func TestAnswerAppendsOnEmptyHistory(t *testing.T) {
	gemini := &fakeGemini{}
	p := newTestPipeline(gemini, &fakeSearcher{})

	if _, err := p.Answer(context.Background(), "What helps with stress?", nil); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if len(gemini.lastTurns) != 1 {
		t.Fatalf("Expected history length 1, got %d", len(gemini.lastTurns))
	}
}

// ─── Rewriter fallbacks ───

func TestAnswerRewriteFallsBackToOriginalQuestion(t *testing.T) {
	gemini := &fakeGemini{
		rewriteFunc: func(q string, prior []string) (string, error) { return "", nil },
	}
	p := newTestPipeline(gemini, &fakeSearcher{})

	if _, err := p.Answer(context.Background(), "what about guided breathing?", nil); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if gemini.lastTurns[0].Text != "what about guided breathing?" {
		t.Errorf("Expected fallback to the original question, got %q", gemini.lastTurns[0].Text)
	}
}

func TestAnswerRewritePlaceholderWhenEverythingEmpty(t *testing.T) {
	gemini := &fakeGemini{
		rewriteFunc: func(q string, prior []string) (string, error) { return "", nil },
	}
	p := newTestPipeline(gemini, &fakeSearcher{})

	if _, err := p.Answer(context.Background(), "   ", nil); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if gemini.lastTurns[0].Text != noQuestionPlaceholder {
		t.Errorf("Expected %q, got %q", noQuestionPlaceholder, gemini.lastTurns[0].Text)
	}
}

// ─── End-to-end scenarios ───

func TestAnswerHappyPath(t *testing.T) {
	gemini := &fakeGemini{
		generateFunc: func(turns []models.ChatTurn, instruction string) (string, error) {
			return "Try a short walk and steady breathing.", nil
		},
	}
	searcher := &fakeSearcher{matches: []models.RetrievedSnippet{
		{Text: "Walking lowers stress hormones.", Score: 0.91},
		{Text: "Slow breathing calms the nervous system.", Score: 0.88},
	}}
	p := newTestPipeline(gemini, searcher)

	answer, err := p.Answer(context.Background(), "What helps with stress?", nil)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if answer != "Try a short walk and steady breathing." {
		t.Errorf("Unexpected answer: %q", answer)
	}
	if !strings.Contains(gemini.lastInstruction, "Walking lowers stress hormones.") {
		t.Error("Instruction should embed the first retrieved snippet")
	}
	if !strings.Contains(gemini.lastInstruction, "Slow breathing calms the nervous system.") {
		t.Error("Instruction should embed the second retrieved snippet")
	}
}

func TestAnswerEmptyRetrievalUsesPlaceholder(t *testing.T) {
	gemini := &fakeGemini{
		generateFunc: func(turns []models.ChatTurn, instruction string) (string, error) {
			return "", nil // model produced no text
		},
	}
	p := newTestPipeline(gemini, &fakeSearcher{matches: []models.RetrievedSnippet{{Text: ""}, {Text: "  "}}})

	answer, err := p.Answer(context.Background(), "What helps with stress?", nil)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if gemini.generateCalls != 1 {
		t.Fatalf("Generator should still be invoked once, got %d calls", gemini.generateCalls)
	}
	if !strings.Contains(gemini.lastInstruction, noContextPlaceholder) {
		t.Error("Instruction should embed the no-context placeholder")
	}
	if answer != fallbackAnswer {
		t.Errorf("Expected the fixed fallback sentence, got %q", answer)
	}
}

func TestAnswerPropagatesGenerationFailure(t *testing.T) {
	quotaErr := errors.New("googleapi: Error 429: quota exceeded for model")
	gemini := &fakeGemini{
		generateFunc: func(turns []models.ChatTurn, instruction string) (string, error) {
			return "", quotaErr
		},
	}
	p := newTestPipeline(gemini, &fakeSearcher{})

	_, err := p.Answer(context.Background(), "What helps with stress?", nil)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !errors.Is(err, quotaErr) {
		t.Errorf("Expected the upstream error in the chain, got %v", err)
	}
	if Classify(err).Status != 503 {
		t.Errorf("Quota failure should classify as capacity (503), got %d", Classify(err).Status)
	}
}

func TestAnswerPropagatesRetrievalFailure(t *testing.T) {
	searchErr := errors.New("connection refused")
	p := newTestPipeline(&fakeGemini{}, &fakeSearcher{err: searchErr})

	_, err := p.Answer(context.Background(), "anything", nil)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !errors.Is(err, searchErr) {
		t.Errorf("Expected the search error in the chain, got %v", err)
	}
}
