package models

// HistoryPart is a single text fragment inside a conversation entry.
type HistoryPart struct {
	Text string `json:"text"`
}

// HistoryEntry is a raw conversation entry as sent by the chat widget.
// The widget maps its own "bot" role to "model" before sending.
type HistoryEntry struct {
	Role  string        `json:"role"` // "user" or "model"
	Parts []HistoryPart `json:"parts"`
}

// ChatTurn is a normalized conversation turn. Only the first text fragment
// of an entry survives normalization; insertion order is meaningful.
type ChatTurn struct {
	Role string
	Text string
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Question string         `json:"question"`
	History  []HistoryEntry `json:"history"`
}

// ChatResponse is the grounded answer returned to the widget.
type ChatResponse struct {
	Answer string `json:"answer"`
}

// RetrievedSnippet is one ranked match from the vector index.
// Score orders the matches and is never returned to the caller.
type RetrievedSnippet struct {
	Text  string
	Score float64
}
