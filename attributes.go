package verdict

import (
	"context"
	"errors"
	"sync"
	"time"
)

// AttributeSource supplies attribute values for subjects and resources on
// demand. It is the seam to whatever persistence layer surrounds the
// engine; implementations may return ErrNotFound for unknown identifiers.
// The engine bounds every fetch with a timeout and converts deadline
// expiry to ErrTimeout.
type AttributeSource interface {
	SubjectAttributes(ctx context.Context, subjectID string) (map[string]any, error)
	ResourceAttributes(ctx context.Context, resourceID string) (map[string]any, error)
}

// MemoryAttributeSource is an in-memory AttributeSource for embedding and
// tests.
type MemoryAttributeSource struct {
	mu        sync.RWMutex
	subjects  map[string]map[string]any
	resources map[string]map[string]any
}

func NewMemoryAttributeSource() *MemoryAttributeSource {
	return &MemoryAttributeSource{
		subjects:  make(map[string]map[string]any),
		resources: make(map[string]map[string]any),
	}
}

func (s *MemoryAttributeSource) SetSubject(id string, attrs map[string]any) {
	s.mu.Lock()
	s.subjects[id] = attrs
	s.mu.Unlock()
}

func (s *MemoryAttributeSource) SetResource(id string, attrs map[string]any) {
	s.mu.Lock()
	s.resources[id] = attrs
	s.mu.Unlock()
}

func (s *MemoryAttributeSource) SubjectAttributes(_ context.Context, id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if attrs, ok := s.subjects[id]; ok {
		return attrs, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryAttributeSource) ResourceAttributes(_ context.Context, id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if attrs, ok := s.resources[id]; ok {
		return attrs, nil
	}
	return nil, ErrNotFound
}

// fetchWithTimeout runs one attribute fetch under a deadline and normalizes
// deadline expiry to ErrTimeout.
func fetchWithTimeout(ctx context.Context, timeout time.Duration,
	fetch func(context.Context) (map[string]any, error)) (map[string]any, error) {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	attrs, err := fetch(fctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return attrs, nil
}
