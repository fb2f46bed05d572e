package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrCollectionExists is returned by CreateCollection when the name is
// already taken.
var ErrCollectionExists = errors.New("collection-exists")

// ErrCollectionNotFound is returned by any collection operation on an
// unknown name.
var ErrCollectionNotFound = errors.New("collection-not-found")

// CollectionStats reports point-in-time counts for a single collection.
type CollectionStats struct {
	Name             string
	VectorCount      int
	ChunkCount       int
	WithEmbedding    int
	WithoutEmbedding int
}

// SearchFilters expresses the conjunctive equality filters Search applies
// against chunk metadata already persisted on the chunk row.
type SearchFilters struct {
	Language    string
	ContentType string
}

func (f SearchFilters) empty() bool {
	return f.Language == "" && f.ContentType == ""
}

func (f SearchFilters) matches(c *Chunk) bool {
	if f.Language != "" && c.Language != f.Language {
		return false
	}
	if f.ContentType != "" && string(c.ContentType) != f.ContentType {
		return false
	}
	return true
}

// Collection pairs a vector index and its metadata store under one name.
type Collection struct {
	Name     string
	Dim      int
	Vectors  VectorStore
	Metadata MetadataStore
	dir      string
}

func (c *Collection) vectorPath() string {
	return filepath.Join(c.dir, "vectors.hnsw")
}

// CollectionManager implements the donor's single-collection HNSWStore as a
// named, multi-collection store: one directory, one HNSWStore and one
// SQLiteStore per collection, all rooted under a shared base directory
// (`<project>/.semantica/collections/<name>/`).
type CollectionManager struct {
	mu          sync.RWMutex
	root        string
	collections map[string]*Collection
}

// NewCollectionManager returns a manager rooted at root. Call Connect to
// pick up collections a previous process already created on disk.
func NewCollectionManager(root string) *CollectionManager {
	return &CollectionManager{root: root, collections: make(map[string]*Collection)}
}

// Connect opens every collection directory already on disk under root.
func (m *CollectionManager) Connect(ctx context.Context) error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read collections directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		dir := filepath.Join(m.root, name)
		dim, err := ReadHNSWStoreDimensions(filepath.Join(dir, "vectors.hnsw"))
		if err != nil {
			return fmt.Errorf("failed to read dimensions for collection %s: %w", name, err)
		}
		if dim == 0 {
			continue // no vectors ever saved here, not a usable collection yet
		}
		coll, err := m.openCollection(name, dir, dim)
		if err != nil {
			return err
		}
		m.collections[name] = coll
	}
	return nil
}

func (m *CollectionManager) openCollection(name, dir string, dim int) (*Collection, error) {
	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(dim))
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store for %s: %w", name, err)
	}
	vectorPath := filepath.Join(dir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		if err := vectors.Load(vectorPath); err != nil {
			return nil, fmt.Errorf("failed to load vectors for %s: %w", name, err)
		}
	}

	metadata, err := NewSQLiteStore(filepath.Join(dir, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store for %s: %w", name, err)
	}

	return &Collection{Name: name, Dim: dim, Vectors: vectors, Metadata: metadata, dir: dir}, nil
}

// CreateCollection creates a new, empty collection with the given vector
// dimension. It fails with ErrCollectionExists if name is already taken.
func (m *CollectionManager) CreateCollection(ctx context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[name]; ok {
		return ErrCollectionExists
	}
	dir := filepath.Join(m.root, name)
	if _, err := os.Stat(dir); err == nil {
		return ErrCollectionExists
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}

	coll, err := m.openCollection(name, dir, dim)
	if err != nil {
		return err
	}
	m.collections[name] = coll
	return nil
}

// DeleteCollection removes a collection's directory and drops it from
// memory. Deleting an unknown collection is not an error.
func (m *CollectionManager) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if coll, ok := m.collections[name]; ok {
		_ = coll.Vectors.Close()
		_ = coll.Metadata.Close()
		delete(m.collections, name)
	}
	dir := filepath.Join(m.root, name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove collection directory: %w", err)
	}
	return nil
}

// CollectionExists reports whether a collection by that name is open.
func (m *CollectionManager) CollectionExists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok
}

func (m *CollectionManager) collection(name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[name]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return coll, nil
}

// Insert adds vectors to a collection, flushes the vector index to disk,
// and records the same embeddings in the metadata store so embedding
// completeness stats and HNSW compaction have a durable source. The
// caller is expected to have already persisted the corresponding chunk
// rows, including any fields Search filters against, via the
// collection's MetadataStore.
func (m *CollectionManager) Insert(ctx context.Context, name string, ids []string, vectors [][]float32) error {
	coll, err := m.collection(name)
	if err != nil {
		return err
	}
	if err := coll.Vectors.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("failed to insert vectors: %w", err)
	}
	if err := coll.Metadata.SaveChunkEmbeddings(ctx, ids, vectors, ""); err != nil {
		return fmt.Errorf("failed to persist embeddings: %w", err)
	}
	if err := coll.Vectors.Save(coll.vectorPath()); err != nil {
		return fmt.Errorf("failed to flush vectors: %w", err)
	}
	return nil
}

// Search runs a k-NN search against name, applying minScore and metadata
// filters server-side before truncating to limit.
func (m *CollectionManager) Search(ctx context.Context, name string, query []float32, limit int, minScore float32, filters SearchFilters) ([]*VectorResult, error) {
	coll, err := m.collection(name)
	if err != nil {
		return nil, err
	}

	// Over-fetch so post-filtering doesn't starve the result set below limit.
	fetchK := limit * 4
	if fetchK < limit {
		fetchK = limit
	}
	hits, err := coll.Vectors.Search(ctx, query, fetchK)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	scored := make([]*VectorResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		scored = append(scored, h)
	}

	if !filters.empty() && len(scored) > 0 {
		ids := make([]string, len(scored))
		for i, h := range scored {
			ids[i] = h.ID
		}
		chunks, err := coll.Metadata.GetChunks(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load chunks for filtering: %w", err)
		}
		byID := make(map[string]*Chunk, len(chunks))
		for _, c := range chunks {
			byID[c.ID] = c
		}

		kept := scored[:0]
		for _, h := range scored {
			if c, ok := byID[h.ID]; ok && filters.matches(c) {
				kept = append(kept, h)
			}
		}
		scored = kept
	}

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Delete removes ids from both the vector index and the metadata store.
func (m *CollectionManager) Delete(ctx context.Context, name string, ids []string) error {
	coll, err := m.collection(name)
	if err != nil {
		return err
	}
	if err := coll.Vectors.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := coll.Metadata.DeleteChunks(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete chunk metadata: %w", err)
	}
	return coll.Vectors.Save(coll.vectorPath())
}

// DeleteByFile resolves a file's chunk ids via the metadata store (the
// authoritative index, since HNSWStore has no native metadata filter) and
// deletes them from both stores.
func (m *CollectionManager) DeleteByFile(ctx context.Context, name, fileID string) error {
	coll, err := m.collection(name)
	if err != nil {
		return err
	}
	chunks, err := coll.Metadata.GetChunksByFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to resolve chunks for file: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return m.Delete(ctx, name, ids)
}

// GetStats reports vector and chunk counts for a collection.
func (m *CollectionManager) GetStats(ctx context.Context, name string) (*CollectionStats, error) {
	coll, err := m.collection(name)
	if err != nil {
		return nil, err
	}
	withEmbedding, withoutEmbedding, err := coll.Metadata.GetEmbeddingStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding stats: %w", err)
	}
	return &CollectionStats{
		Name:             name,
		VectorCount:      coll.Vectors.Count(),
		ChunkCount:       withEmbedding + withoutEmbedding,
		WithEmbedding:    withEmbedding,
		WithoutEmbedding: withoutEmbedding,
	}, nil
}

// HealthCheck verifies a collection's metadata database is reachable.
func (m *CollectionManager) HealthCheck(ctx context.Context, name string) error {
	coll, err := m.collection(name)
	if err != nil {
		return err
	}
	sqliteStore, ok := coll.Metadata.(*SQLiteStore)
	if !ok {
		return nil
	}
	return sqliteStore.DB().PingContext(ctx)
}

// Close shuts down every open collection.
func (m *CollectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, coll := range m.collections {
		if err := coll.Vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := coll.Metadata.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
