package checkout

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

const (
	referencePrefix     = "ia"
	referenceSuffixLen  = 6
	referenceMaxRetries = 5
	base36              = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ReferenceStore reserves references so that none is handed out twice.
// Reserve returns false when the reference was already taken.
type ReferenceStore interface {
	Reserve(ctx context.Context, reference string) (bool, error)
}

// NewReference builds a reference from a timestamp and random bytes:
// ia_<unix millis in base36>_<6 base36 chars>.
func NewReference(now time.Time, random io.Reader) (string, error) {
	buf := make([]byte, referenceSuffixLen)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	suffix := make([]byte, referenceSuffixLen)
	for i, b := range buf {
		suffix[i] = base36[int(b)%len(base36)]
	}
	return fmt.Sprintf("%s_%s_%s", referencePrefix, strconv.FormatInt(now.UnixMilli(), 36), suffix), nil
}

// ReferenceGenerator produces references and reserves them in a store.
type ReferenceGenerator struct {
	store  ReferenceStore
	now    func() time.Time
	random io.Reader
}

func NewReferenceGenerator(store ReferenceStore) *ReferenceGenerator {
	if store == nil {
		store = NewMemoryReferenceStore()
	}
	return &ReferenceGenerator{store: store, now: time.Now, random: rand.Reader}
}

// Next returns a fresh reserved reference.
func (g *ReferenceGenerator) Next(ctx context.Context) (string, error) {
	for i := 0; i < referenceMaxRetries; i++ {
		ref, err := NewReference(g.now(), g.random)
		if err != nil {
			return "", err
		}
		ok, err := g.store.Reserve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("reserve reference: %w", err)
		}
		if ok {
			return ref, nil
		}
	}
	return "", fmt.Errorf("no free reference after %d tries", referenceMaxRetries)
}

// MemoryReferenceStore keeps every reference handed out by this process.
type MemoryReferenceStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryReferenceStore() *MemoryReferenceStore {
	return &MemoryReferenceStore{seen: make(map[string]struct{})}
}

func (s *MemoryReferenceStore) Reserve(_ context.Context, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.seen[reference]; taken {
		return false, nil
	}
	s.seen[reference] = struct{}{}
	return true, nil
}
