package certificate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps certificates in process memory for tests and development.
// It enforces the same uniqueness rules as the postgres schema.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*Certificate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]*Certificate)}
}

func (s *MemoryStore) Create(ctx context.Context, cert *Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Code == cert.Code {
			return ErrDuplicateCode
		}
		if cert.DayKey != nil && existing.DayKey != nil &&
			existing.CitizenID == cert.CitizenID &&
			existing.Channel == cert.Channel &&
			existing.Kind == cert.Kind &&
			*existing.DayKey == *cert.DayKey {
			return ErrDuplicateDaily
		}
	}

	s.nextID++
	cert.ID = s.nextID
	s.byID[cert.ID] = copyCertificate(cert)
	return nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cert := range s.byID {
		if cert.Code == code {
			return copyCertificate(cert), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindDaily(ctx context.Context, citizenID int64, channel Channel, kind Kind, dayKey string) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cert := range s.byID {
		if cert.CitizenID == citizenID && cert.Channel == channel && cert.Kind == kind &&
			cert.DayKey != nil && *cert.DayKey == dayKey {
			return copyCertificate(cert), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) RegisterDownload(ctx context.Context, code string, now time.Time) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cert := range s.byID {
		if cert.Code == code {
			cert.DownloadCount++
			t := now
			cert.DownloadedAt = &t
			return copyCertificate(cert), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CountForCitizen(ctx context.Context, citizenID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, cert := range s.byID {
		if cert.CitizenID == citizenID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) List(ctx context.Context, offset, limit int) ([]*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*Certificate, 0, len(s.byID))
	for _, cert := range s.byID {
		all = append(all, copyCertificate(cert))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func copyCertificate(cert *Certificate) *Certificate {
	cp := *cert
	if cert.DayKey != nil {
		d := *cert.DayKey
		cp.DayKey = &d
	}
	if cert.DownloadedAt != nil {
		t := *cert.DownloadedAt
		cp.DownloadedAt = &t
	}
	return &cp
}
