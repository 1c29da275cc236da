package store

import (
	"context"
	"sync"

	"github.com/koios/esphome-designer/pkg/models"
)

// MemoryStore keeps layouts in process memory
type MemoryStore struct {
	mu      sync.Mutex
	layouts map[string]*models.Device
	locks   map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		layouts: make(map[string]*models.Device),
		locks:   make(map[string]*sync.Mutex),
	}
}

// keyLock serializes writers of a single device key
func (s *MemoryStore) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *MemoryStore) load(key string) *models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.layouts[key]; ok {
		return d.Clone()
	}
	return models.DefaultDevice(key)
}

func (s *MemoryStore) store(key string, device *models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts[key] = device.Clone()
}

// Get returns a copy of the stored layout
func (s *MemoryStore) Get(ctx context.Context, key string) (*models.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load(key), nil
}

// Save replaces the stored layout
func (s *MemoryStore) Save(ctx context.Context, key string, device *models.Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	s.store(key, device)
	return nil
}

// Update runs fn while holding the key's lock
func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) (*models.Device, error) {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next, err := fn(s.load(key))
	if err != nil {
		return nil, err
	}
	s.store(key, next)
	return next.Clone(), nil
}
