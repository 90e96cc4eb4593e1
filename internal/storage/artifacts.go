package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/grid"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
	"github.com/DarbotLM/Detris/internal/proofs/placement"
)

// Kind namespaces artifact keys.
type Kind string

const (
	KindGrid  Kind = "grid"
	KindChain Kind = "chain"
	KindPoL   Kind = "pol"
)

// ErrArtifactNotFound is returned when no artifact is stored under a key.
var ErrArtifactNotFound = xerrors.New(xerrors.CodeNotFound, "artifact not found")

// ArtifactStore is a flat blob store. Implementations must be safe for
// concurrent use.
type ArtifactStore interface {
	Put(ctx context.Context, kind Kind, id string, data []byte) error
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	Delete(ctx context.Context, kind Kind, id string) error
	List(ctx context.Context, kind Kind) ([]string, error)
	Close() error
}

func artifactKey(kind Kind, id string) (string, error) {
	if kind == "" || strings.TrimSpace(id) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "artifact kind and id are required")
	}
	if strings.Contains(id, "/") {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("artifact id %q must not contain '/'", id))
	}
	return string(kind) + "/" + id, nil
}

func notFound(kind Kind, id string) error {
	return xerrors.New(xerrors.CodeNotFound, "artifact not found",
		xerrors.WithMetadata("kind", string(kind)),
		xerrors.WithMetadata("id", id))
}

// SaveGrid stores g under id.
func SaveGrid(ctx context.Context, store ArtifactStore, id string, g grid.Grid) error {
	return store.Put(ctx, KindGrid, id, []byte(EncodeGrid(g)))
}

// LoadGrid loads the grid stored under id.
func LoadGrid(ctx context.Context, store ArtifactStore, id string) (grid.Grid, error) {
	data, err := store.Get(ctx, KindGrid, id)
	if err != nil {
		return grid.Grid{}, err
	}
	return DecodeGrid(string(data))
}

// SaveChain stores a placement chain under id.
func SaveChain(ctx context.Context, store ArtifactStore, id string, chain []placement.Proof) error {
	data, err := EncodeChain(chain)
	if err != nil {
		return err
	}
	return store.Put(ctx, KindChain, id, data)
}

// LoadChain loads the placement chain stored under id.
func LoadChain(ctx context.Context, store ArtifactStore, id string) ([]placement.Proof, error) {
	data, err := store.Get(ctx, KindChain, id)
	if err != nil {
		return nil, err
	}
	return DecodeChain(data)
}

// SavePoL stores a Proof-of-Learning under id.
func SavePoL(ctx context.Context, store ArtifactStore, id string, pol learning.Proof) error {
	data, err := EncodePoL(pol)
	if err != nil {
		return err
	}
	return store.Put(ctx, KindPoL, id, data)
}

// LoadPoL loads the Proof-of-Learning stored under id.
func LoadPoL(ctx context.Context, store ArtifactStore, id string) (learning.Proof, error) {
	data, err := store.Get(ctx, KindPoL, id)
	if err != nil {
		return learning.Proof{}, err
	}
	return DecodePoL(data)
}

// MemoryStore keeps artifacts in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// Put implements ArtifactStore.
func (m *MemoryStore) Put(ctx context.Context, kind Kind, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := artifactKey(kind, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[key] = slices.Clone(data)
	m.mu.Unlock()
	return nil
}

// Get implements ArtifactStore.
func (m *MemoryStore) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := artifactKey(kind, id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(kind, id)
	}
	return slices.Clone(data), nil
}

// Delete implements ArtifactStore. Deleting a missing artifact is not an error.
func (m *MemoryStore) Delete(ctx context.Context, kind Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := artifactKey(kind, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// List implements ArtifactStore. IDs are returned sorted.
func (m *MemoryStore) List(ctx context.Context, kind Kind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := string(kind) + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for key := range m.items {
		if id, ok := strings.CutPrefix(key, prefix); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Close implements ArtifactStore.
func (m *MemoryStore) Close() error { return nil }
