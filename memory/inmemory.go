package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps memory in process maps.
// Useful for testing and development. Not suitable for production.
type InMemoryStore struct {
	mu       sync.RWMutex
	blocks   map[string][]Block
	records  map[string][]Record
	passages map[string][]Passage
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blocks:   make(map[string][]Block),
		records:  make(map[string][]Record),
		passages: make(map[string][]Passage),
	}
}

// LoadBlocks returns the saved blocks for an agent in the order they were first saved.
func (s *InMemoryStore) LoadBlocks(ctx context.Context, agentID string) ([]Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saved := s.blocks[agentID]
	if len(saved) == 0 {
		return nil, nil
	}
	out := make([]Block, len(saved))
	copy(out, saved)
	return out, nil
}

// SaveBlock upserts a block by label.
func (s *InMemoryStore) SaveBlock(ctx context.Context, agentID string, block Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.blocks[agentID] {
		if b.Label == block.Label {
			s.blocks[agentID][i] = block
			return nil
		}
	}
	s.blocks[agentID] = append(s.blocks[agentID], block)
	return nil
}

// AppendRecord adds a message to recall memory, assigning an ID and timestamp when missing.
func (s *InMemoryStore) AppendRecord(ctx context.Context, agentID string, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records[agentID] = append(s.records[agentID], rec)
	return rec, nil
}

// SearchRecords returns one page of matching records, oldest first, and the total match count.
func (s *InMemoryStore) SearchRecords(ctx context.Context, agentID string, q Query) ([]Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q = q.normalized()
	var hits []Record
	for _, rec := range s.records[agentID] {
		if matches(rec.Content, q.Text) {
			hits = append(hits, rec)
		}
	}
	return paginate(hits, q), len(hits), nil
}

// CountRecords returns the number of records stored for an agent.
func (s *InMemoryStore) CountRecords(ctx context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[agentID]), nil
}

// InsertPassage stores text in archival memory.
func (s *InMemoryStore) InsertPassage(ctx context.Context, agentID, text string) (Passage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Passage{ID: uuid.NewString(), Text: text, CreatedAt: time.Now()}
	s.passages[agentID] = append(s.passages[agentID], p)
	return p, nil
}

// SearchPassages returns one page of matching passages and the total match count.
func (s *InMemoryStore) SearchPassages(ctx context.Context, agentID string, q Query) ([]Passage, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q = q.normalized()
	var hits []Passage
	for _, p := range s.passages[agentID] {
		if matches(p.Text, q.Text) {
			hits = append(hits, p)
		}
	}
	return paginate(hits, q), len(hits), nil
}

// CountPassages returns the number of passages stored for an agent.
func (s *InMemoryStore) CountPassages(ctx context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.passages[agentID]), nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
