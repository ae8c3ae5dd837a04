package scoring

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mbd888/txsentinel/internal/pagination"
)

// MemoryStore is an in-memory risk score store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	scores map[string]*NormalizedScore
}

// NewMemoryStore creates an empty in-memory risk score store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scores: make(map[string]*NormalizedScore)}
}

// Upsert inserts the score or overwrites the existing record for the hash.
func (s *MemoryStore) Upsert(_ context.Context, score *NormalizedScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *score
	s.scores[strings.ToLower(score.TxHash)] = &copied
	return nil
}

// GetByTxHash returns the stored score for a transaction hash, or
// ErrScoreNotFound when no score has been recorded.
func (s *MemoryStore) GetByTxHash(_ context.Context, txHash string) (*NormalizedScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[strings.ToLower(txHash)]
	if !ok {
		return nil, ErrScoreNotFound
	}
	copied := *score
	return &copied, nil
}

// ListRecent returns scores ordered by received time descending, filtered by
// verdict when one is given, starting after the cursor position.
func (s *MemoryStore) ListRecent(_ context.Context, verdict Verdict, limit int, cursor *pagination.Cursor) ([]*NormalizedScore, error) {
	s.mu.RLock()
	all := make([]*NormalizedScore, 0, len(s.scores))
	for _, score := range s.scores {
		if verdict != "" && score.Verdict != verdict {
			continue
		}
		copied := *score
		all = append(all, &copied)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].ReceivedAt.Equal(all[j].ReceivedAt) {
			return all[i].ReceivedAt.After(all[j].ReceivedAt)
		}
		return all[i].TxHash > all[j].TxHash
	})

	if cursor != nil {
		trimmed := all[:0]
		for _, score := range all {
			if score.ReceivedAt.After(cursor.Timestamp) {
				continue
			}
			if score.ReceivedAt.Equal(cursor.Timestamp) && score.TxHash >= cursor.ID {
				continue
			}
			trimmed = append(trimmed, score)
		}
		all = trimmed
	}

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
