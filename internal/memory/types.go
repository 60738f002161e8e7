package memory

import (
	"fmt"
	"strings"
)

// Source values attached to memories on read, indicating which tier served them.
const (
	SourceHot   = "hot"
	SourceCloud = "cloud"
)

// Memory is the fundamental record: a stored natural-language fact tied to a
// user partition. Timestamps are preserved verbatim from the cloud store.
type Memory struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	UserID    string         `json:"user_id,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Source and RelevanceScore are transient fields attached on read; they are
	// never written back to the cloud store.
	Source         string  `json:"source,omitempty"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
}

// Clone returns a deep copy of the memory. The metadata map is copied so that
// response shaping (e.g. truncation markers) never mutates cached records.
func (m Memory) Clone() Memory {
	clone := m
	if m.Metadata != nil {
		clone.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// Message is a single conversational turn accepted by the write path.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WriteInput is the tagged variant accepted by add operations: either free
// text or a list of conversation messages. Exactly one of the two fields is
// expected to be set.
type WriteInput struct {
	Content  string    `json:"content,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// IsZero reports whether the input carries neither content nor messages.
func (w WriteInput) IsZero() bool {
	return w.Content == "" && len(w.Messages) == 0
}

// Validate checks that the input is usable by the write pipeline.
func (w WriteInput) Validate() error {
	if w.IsZero() {
		return &ValidationError{Field: "content", Reason: "either content or messages must be provided"}
	}
	for i, msg := range w.Messages {
		if msg.Content == "" {
			return &ValidationError{Field: fmt.Sprintf("messages[%d].content", i), Reason: "message content must not be empty"}
		}
	}
	return nil
}

// ComparisonText returns the text used for duplicate detection: the raw
// content, or the concatenation of all message contents.
func (w WriteInput) ComparisonText() string {
	if w.Content != "" {
		return w.Content
	}
	parts := make([]string, 0, len(w.Messages))
	for _, msg := range w.Messages {
		parts = append(parts, msg.Content)
	}
	return strings.Join(parts, " ")
}

// Priority controls cache tier placement for freshly written memories.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a priority string, defaulting empty input to medium.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), nil
	default:
		return "", &ValidationError{Field: "priority", Reason: fmt.Sprintf("must be one of low, medium, high; got %q", s)}
	}
}

// ValidationError reports unusable caller input. It is never retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateError is returned by the write path when the new content is too
// similar to an existing memory. It carries the existing id and the measured
// Jaccard similarity.
type DuplicateError struct {
	ExistingID string
	Similarity float64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of memory %s (similarity %.2f)", e.ExistingID, e.Similarity)
}
