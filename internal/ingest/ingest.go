package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"augustine-rag/internal/embedding"
	"augustine-rag/internal/helper"
	"augustine-rag/internal/models"
	"augustine-rag/internal/parser"
)

var ErrNoChunks = errors.New("no chunks parsed from file")

// Store is a writable vector store.
type Store interface {
	Add(ctx context.Context, chunks []models.ChunkEmbedding) error
	Reset(ctx context.Context, vectorSize int) error
}

// setupStore is implemented by stores that need their schema created before
// the first write.
type setupStore interface {
	Setup(ctx context.Context, vectorSize int) error
}

// Contextualizer situates a chunk within its surrounding document.
type Contextualizer interface {
	GenerateContext(ctx context.Context, document, chunk string) (string, error)
}

type Options struct {
	DryRun        bool
	Contextualize bool
	Reset         bool
	VectorSize    int
}

// Report summarises one ingested file.
type Report struct {
	File       string
	Chunks     int
	Contextual int
	Stored     int
}

type Ingester struct {
	parser         parser.Parser
	embedder       embedding.Embedder
	store          Store
	contextualizer Contextualizer
}

// New returns an ingester. store and contextualizer may be nil for dry runs
// and runs without contextualisation.
func New(p parser.Parser, e embedding.Embedder, s Store, c Contextualizer) *Ingester {
	return &Ingester{parser: p, embedder: e, store: s, contextualizer: c}
}

// IngestFile parses filePath, optionally prefixes every chunk with an
// LLM-written context line, embeds the chunks and writes them to the store.
func (in *Ingester) IngestFile(ctx context.Context, filePath string, opts Options) (Report, error) {
	report := Report{File: filePath}

	chunks, err := in.parser.Parse(filePath)
	if err != nil {
		return report, fmt.Errorf("parse %s: %w", filePath, err)
	}
	report.Chunks = len(chunks)
	log.Info().Str("file", filePath).Int("chunks", len(chunks)).Msg("Parsed document")
	if len(chunks) == 0 {
		return report, ErrNoChunks
	}

	if opts.DryRun {
		helper.PrettyPrint(chunks)
		return report, nil
	}
	if in.store == nil {
		return report, errors.New("no writable vector store configured")
	}

	if opts.Contextualize && in.contextualizer != nil {
		report.Contextual = in.contextualize(ctx, chunks)
	}

	// Embed before touching the store so a failed run leaves it as it was.
	chunkEmbeddings, err := embedding.GenerateEmbedding(ctx, in.embedder, filepath.Base(filePath), chunks)
	if err != nil {
		return report, err
	}

	if opts.Reset {
		if err := in.store.Reset(ctx, opts.VectorSize); err != nil {
			return report, fmt.Errorf("reset store: %w", err)
		}
	} else if s, ok := in.store.(setupStore); ok {
		if err := s.Setup(ctx, opts.VectorSize); err != nil {
			return report, fmt.Errorf("setup store: %w", err)
		}
	}

	log.Info().Msgf("Adding %d documents to vector database", len(chunkEmbeddings))
	if err := in.store.Add(ctx, chunkEmbeddings); err != nil {
		return report, fmt.Errorf("store chunks: %w", err)
	}
	report.Stored = len(chunkEmbeddings)
	return report, nil
}

// contextualize rewrites chunks in place and returns how many got a
// context line. The document for a chunk is every chunk sharing its page
// and section. Failures keep the chunk as it was.
func (in *Ingester) contextualize(ctx context.Context, chunks []models.Chunk) int {
	documents := make(map[string]*strings.Builder)
	for _, c := range chunks {
		key := groupKey(c)
		b, ok := documents[key]
		if !ok {
			b = &strings.Builder{}
			documents[key] = b
		} else {
			b.WriteString("\n")
		}
		b.WriteString(c.Content)
	}

	n := 0
	for i := range chunks {
		document := documents[groupKey(chunks[i])].String()
		situated, err := in.contextualizer.GenerateContext(ctx, document, chunks[i].Content)
		if err != nil {
			log.Warn().Err(err).Int("page", chunks[i].PageNumber).Int("chunk_id", chunks[i].ChunkID).Msg("Failed to generate chunk context")
			continue
		}
		situated = strings.TrimSpace(situated)
		if situated == "" {
			continue
		}
		chunks[i].Content = situated + "\n\n" + chunks[i].Content
		n++
	}
	return n
}

func groupKey(c models.Chunk) string {
	return strconv.Itoa(c.PageNumber) + "/" + c.Metadata["section"]
}
