package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"augustine-rag/internal/config"
	"augustine-rag/internal/models"
)

// Vector is a pgvector value. It travels as the text form "[1,2,3]".
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func (v *Vector) Scan(src any) error {
	var s string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return fmt.Errorf("vector: cannot scan %T", src)
	}
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("vector: %w", err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            int64             `bun:"id,pk,autoincrement"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Embedding     Vector            `bun:"embedding,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the Supabase Postgres database with the configured driver.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPQ:
		return sql.Open("postgres", cfg.DSN)
	case config.DriverPG, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// InitDB creates the pgvector extension and the documents table.
func InitDB(ctx context.Context, db *bun.DB, vectorSize int) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	id bigserial PRIMARY KEY,
	content text NOT NULL,
	metadata jsonb,
	embedding vector(%d) NOT NULL
)`, vectorSize))
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

const matchFunctionSQL = `CREATE OR REPLACE FUNCTION %[1]s (
	query_embedding vector(%[2]d),
	match_threshold float,
	match_count int
)
RETURNS TABLE (id bigint, content text, metadata jsonb, similarity float)
LANGUAGE sql STABLE
AS $$
	SELECT d.id, d.content, d.metadata, 1 - (d.embedding <=> query_embedding) AS similarity
	FROM documents d
	WHERE 1 - (d.embedding <=> query_embedding) > match_threshold
	ORDER BY d.embedding <=> query_embedding
	LIMIT match_count;
$$`

// CreateMatchFunction installs the similarity function the retriever calls.
func CreateMatchFunction(ctx context.Context, db *bun.DB, name string, vectorSize int) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(matchFunctionSQL, name, vectorSize))
	return err
}

func StoreDocuments(ctx context.Context, db *bun.DB, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := db.NewInsert().Model(&docs).Exec(ctx)
	return err
}

// drop table documents
func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}

type matchRow struct {
	ID         int64   `bun:"id"`
	Content    string  `bun:"content"`
	Similarity float64 `bun:"similarity"`
}

// Store calls the match function directly over SQL instead of through the
// REST gateway.
type Store struct {
	db            *bun.DB
	matchFunction string
	table         string
}

func NewStore(db *bun.DB, matchFunction, table string) *Store {
	return &Store{db: db, matchFunction: matchFunction, table: table}
}

func (s *Store) Match(ctx context.Context, embedding []float32, threshold float64, count int) ([]models.Passage, error) {
	var rows []matchRow
	err := s.db.NewRaw(
		"SELECT id, content, similarity FROM ?(?::vector, ?, ?)",
		bun.Ident(s.matchFunction), Vector(embedding), threshold, count,
	).Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	log.Debug().Int("matches", len(rows)).Msg("Vector query finished")
	passages := make([]models.Passage, 0, len(rows))
	for _, r := range rows {
		passages = append(passages, models.Passage{
			ID:         strconv.FormatInt(r.ID, 10),
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return passages, nil
}

func (s *Store) Ping(ctx context.Context) error {
	var ids []int64
	return s.db.NewSelect().Table(s.table).Column("id").Limit(1).Scan(ctx, &ids)
}

// Add stores embedded chunks as documents.
func (s *Store) Add(ctx context.Context, chunks []models.ChunkEmbedding) error {
	docs := make([]Document, len(chunks))
	for i, ce := range chunks {
		meta := map[string]string{
			"source":   ce.SourceFilename,
			"page":     strconv.Itoa(ce.PageNumber),
			"chunk_id": strconv.Itoa(ce.ChunkID),
		}
		for k, v := range ce.Metadata {
			meta[k] = v
		}
		docs[i] = Document{Content: ce.Content, Metadata: meta, Embedding: ce.Embedding}
	}
	return StoreDocuments(ctx, s.db, docs)
}

// Reset drops and recreates the documents table and match function.
func (s *Store) Reset(ctx context.Context, vectorSize int) error {
	if err := DropDocuments(ctx, s.db); err != nil {
		return fmt.Errorf("drop documents: %w", err)
	}
	return s.Setup(ctx, vectorSize)
}

// Setup creates the table and match function if missing.
func (s *Store) Setup(ctx context.Context, vectorSize int) error {
	if err := InitDB(ctx, s.db, vectorSize); err != nil {
		return err
	}
	return CreateMatchFunction(ctx, s.db, s.matchFunction, vectorSize)
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Name() string { return config.StorePostgres }
