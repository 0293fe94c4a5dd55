package citizen

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps citizens in process memory for tests and development.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*Citizen
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]*Citizen)}
}

func (s *MemoryStore) Create(ctx context.Context, c *Citizen) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.DocumentType == c.DocumentType && existing.DocumentNumber == c.DocumentNumber {
			return ErrDuplicate
		}
	}

	s.nextID++
	c.ID = s.nextID
	if c.PublicID == uuid.Nil {
		c.PublicID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.byID[c.ID] = copyCitizen(c)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, c *Citizen) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[c.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range s.byID {
		if id != c.ID && existing.DocumentType == c.DocumentType && existing.DocumentNumber == c.DocumentNumber {
			return ErrDuplicate
		}
	}
	s.byID[c.ID] = copyCitizen(c)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCitizen(c), nil
}

func (s *MemoryStore) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.byID {
		if c.PublicID == publicID {
			return copyCitizen(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetByDocument(ctx context.Context, docType DocumentType, number string) (*Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.byID {
		if c.DocumentType == docType && c.DocumentNumber == number {
			return copyCitizen(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindActiveByNumber(ctx context.Context, number string) ([]*Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*Citizen
	for _, c := range s.byID {
		if c.Active && c.DocumentNumber == number {
			matches = append(matches, copyCitizen(c))
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

func (s *MemoryStore) List(ctx context.Context, offset, limit int) ([]*Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Citizen, 0, len(s.byID))
	for _, c := range s.byID {
		all = append(all, copyCitizen(c))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func copyCitizen(c *Citizen) *Citizen {
	cp := *c
	if c.BirthDate != nil {
		t := *c.BirthDate
		cp.BirthDate = &t
	}
	return &cp
}
