package domain

import (
	"context"
	"errors"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension of the collection it is written to or queried against.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNoCollection is returned when a store is used before its collection
	// has been ensured.
	ErrNoCollection = errors.New("collection not initialised")
)

// Page is the extracted plain text of one PDF page. Index starts at 0.
type Page struct {
	Index int
	Text  string
}

// Chunk is a window of words taken from a single page.
type Chunk struct {
	ID    string
	File  string
	Page  int
	Index int
	Text  string
}

// Metadata is the payload stored next to every vector.
type Metadata struct {
	File      string `json:"file"`
	Page      int    `json:"page"`
	ChunkText string `json:"chunk"`
}

// Record is a single stored vector.
type Record struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
}

// QueryResult is a nearest-neighbour match.
// Score is a similarity (higher is closer) and Distance its complement
// (lower is closer). Stores always fill both.
type QueryResult struct {
	ID       string
	Score    float64
	Distance float64
	Metadata
}

// Metric is the distance function of a collection.
type Metric string

const (
	Cosine    Metric = "cosine"
	Dot       Metric = "dot"
	Euclidean Metric = "euclid"
)

// CollectionSpec describes a vector collection.
type CollectionSpec struct {
	Name      string
	Dimension int
	Metric    Metric
}

// Embedder converts free text into a fixed-length vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role
	Content string
}

// ChatModel sends a conversation to a chat-completion service and returns the
// assistant's reply verbatim.
type ChatModel interface {
	Name() string
	Chat(ctx context.Context, messages []Message) (string, error)
}
