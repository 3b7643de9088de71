package models

// Role is the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one entry of a session's history.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Passage is a unit of reference text returned by the vector store.
type Passage struct {
	ID         string  `json:"id,omitempty"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity,omitempty"`
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	PageNumber int
	ChunkID    int
	Metadata   map[string]string
}

// ChunkEmbedding is a chunk ready to be written to a vector store.
type ChunkEmbedding struct {
	Content        string
	Embedding      []float32
	SourceFilename string
	PageNumber     int
	ChunkID        int
	Metadata       map[string]string
}

type PromptResponse struct {
	Query   string
	Source  string
	Content string
}
