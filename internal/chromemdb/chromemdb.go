package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"augustine-rag/internal/config"
	"augustine-rag/internal/models"
)

var ErrNoCollection = errors.New("collection is not open")

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
}

const (
	compress = false
)

// NewVectorDBManager opens (or creates) the database and the named collection.
func NewVectorDBManager(cfg *config.ChromemConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:            db,
		dbPath:        cfg.Path,
		compress:      compress,
		encryptionKey: cfg.EncryptionKey,
		filePath:      filepath.Join(cfg.Path, cfg.Collection+".chromem"),
	}
	if _, err := m.GetOrCreateCollection(cfg.Collection); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	// Embeddings are always supplied by the caller, so no embedding func.
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// add multiple documents
func (m *VectorDBManager) CreateDocs(ctx context.Context, documents []chromem.Document) error {
	if m.collection == nil {
		return ErrNoCollection
	}
	if err := m.collection.AddDocuments(ctx, documents, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Add stores embedded chunks. IDs are derived from source, page and chunk so
// re-ingesting a file overwrites its previous chunks.
func (m *VectorDBManager) Add(ctx context.Context, chunks []models.ChunkEmbedding) error {
	docs := make([]chromem.Document, 0, len(chunks))
	for _, ce := range chunks {
		meta := map[string]string{
			"source":   ce.SourceFilename,
			"page":     strconv.Itoa(ce.PageNumber),
			"chunk_id": strconv.Itoa(ce.ChunkID),
		}
		for k, v := range ce.Metadata {
			meta[k] = v
		}
		docs = append(docs, chromem.Document{
			ID:        fmt.Sprintf("%s-%d-%d-%s", filepath.Base(ce.SourceFilename), ce.PageNumber, ce.ChunkID, meta["section"]),
			Content:   ce.Content,
			Metadata:  meta,
			Embedding: ce.Embedding,
		})
	}
	return m.CreateDocs(ctx, docs)
}

// Match runs the similarity search in chromem and drops results at or below
// threshold. The collection's ranking is kept as is.
func (m *VectorDBManager) Match(ctx context.Context, embedding []float32, threshold float64, count int) ([]models.Passage, error) {
	if m.collection == nil {
		return nil, ErrNoCollection
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding must be provided")
	}

	n := min(count, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	passages := make([]models.Passage, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) <= threshold {
			continue
		}
		passages = append(passages, models.Passage{
			ID:         r.ID,
			Content:    r.Content,
			Similarity: float64(r.Similarity),
		})
	}
	log.Debug().Int("results", len(results)).Int("matches", len(passages)).Msg("Vector query finished")
	return passages, nil
}

func (m *VectorDBManager) Ping(ctx context.Context) error {
	if m.collection == nil {
		return ErrNoCollection
	}
	return nil
}

// Count is the number of documents in the collection.
func (m *VectorDBManager) Count() int {
	if m.collection == nil {
		return 0
	}
	return m.collection.Count()
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	if m.collection == nil {
		return ErrNoCollection
	}
	name := m.collection.Name
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.collection = nil
	return nil
}

// Reset empties the collection.
func (m *VectorDBManager) Reset(ctx context.Context, _ int) error {
	if m.collection == nil {
		return ErrNoCollection
	}
	name := m.collection.Name
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	_, err := m.GetOrCreateCollection(name)
	return err
}

// export to file
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.collection == nil {
		return ErrNoCollection
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(ctx context.Context) error {
	if m.collection == nil {
		return ErrNoCollection
	}
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(m.collection.Name, nil)
	if c != nil {
		m.collection = c
	}
	return nil
}

func (m *VectorDBManager) Close() error { return nil }

func (m *VectorDBManager) Name() string { return config.StoreChromem }
