package cloud

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hybridmem/mcp-memory/internal/memory"
)

// DemoStore is the in-memory substitute used when no cloud credential is
// configured. It implements the same Store interface; callers cannot tell
// the difference.
type DemoStore struct {
	mu       sync.RWMutex
	memories map[string]memory.Memory
	now      func() time.Time
}

// NewDemoStore returns an empty in-memory store.
func NewDemoStore() *DemoStore {
	return &DemoStore{
		memories: make(map[string]memory.Memory),
		now:      time.Now,
	}
}

func (s *DemoStore) AddMemory(_ context.Context, userID string, input memory.WriteInput, metadata map[string]any) ([]memory.Memory, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	ts := s.now().UTC().Format(time.RFC3339)
	m := memory.Memory{
		ID:        uuid.NewString(),
		Content:   input.ComparisonText(),
		UserID:    userID,
		CreatedAt: ts,
		UpdatedAt: ts,
		Metadata:  metadata,
	}

	s.mu.Lock()
	s.memories[m.ID] = m
	s.mu.Unlock()

	return []memory.Memory{m}, nil
}

func (s *DemoStore) Search(_ context.Context, userID, query string, limit int) ([]memory.Memory, error) {
	queryWords := strings.Fields(strings.ToLower(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		m     memory.Memory
		score float64
	}
	var matches []scored
	for _, m := range s.memories {
		if userID != "" && m.UserID != userID {
			continue
		}
		content := strings.ToLower(m.Content)
		hits := 0
		for _, w := range queryWords {
			if strings.Contains(content, w) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, scored{m: m, score: float64(hits) / float64(len(queryWords))})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].m.ID < matches[j].m.ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]memory.Memory, len(matches))
	for i, sc := range matches {
		results[i] = sc.m
		results[i].RelevanceScore = sc.score
	}
	return results, nil
}

func (s *DemoStore) Get(_ context.Context, userID, id string) (*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memories[id]
	if !ok || (userID != "" && m.UserID != userID) {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *DemoStore) ListAll(_ context.Context, userID string, limit int) ([]memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []memory.Memory
	for _, m := range s.memories {
		if userID != "" && m.UserID != userID {
			continue
		}
		results = append(results, m)
	}

	// Newest first; id as tiebreak keeps enumeration stable.
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt != results[j].CreatedAt {
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *DemoStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok {
		return nil
	}
	if userID != "" && m.UserID != userID {
		return nil
	}
	delete(s.memories, id)
	return nil
}

func (s *DemoStore) Healthy(context.Context) bool { return true }

// Seed inserts a memory verbatim, keeping its id and timestamps. Used to
// preload demo data.
func (s *DemoStore) Seed(m memory.Memory) {
	if m.CreatedAt == "" {
		m.CreatedAt = s.now().UTC().Format(time.RFC3339)
	}
	if m.UpdatedAt == "" {
		m.UpdatedAt = m.CreatedAt
	}
	s.mu.Lock()
	s.memories[m.ID] = m
	s.mu.Unlock()
}

// Len reports the number of stored memories (tests and stats).
func (s *DemoStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}
