package graph

import (
	"maps"
	"sync"

	"github.com/Blackdeer1524/GraphTxn/src/locking"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

// store keeps the committed state of a database.
type store struct {
	mu       sync.RWMutex
	seq      uint64
	entities map[locking.ResourceType]map[locking.ResourceID]map[string]any
}

func newStore() *store {
	return &store{
		entities: map[locking.ResourceType]map[locking.ResourceID]map[string]any{
			locking.ResourceNode:         {},
			locking.ResourceRelationship: {},
		},
	}
}

func (s *store) get(rt locking.ResourceType, id locking.ResourceID) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	props, ok := s.entities[rt][id]
	if !ok {
		return nil, false
	}
	return maps.Clone(props), true
}

func (s *store) count(rt locking.ResourceType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entities[rt])
}

func (s *store) has(rt locking.ResourceType, id locking.ResourceID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entities[rt][id]
	return ok
}

func (s *store) lastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.seq
}

// apply must be called with mu held for writing.
func (s *store) apply(seq uint64, writes []Write) {
	for _, w := range writes {
		byID, ok := s.entities[w.Type]
		if !ok {
			byID = map[locking.ResourceID]map[string]any{}
			s.entities[w.Type] = byID
		}
		switch w.Op {
		case WritePut:
			byID[w.ID] = utils.CloneMap(w.Props)
		case WriteDelete:
			delete(byID, w.ID)
		}
	}
	s.seq = seq
}
