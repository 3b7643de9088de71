package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"augustine-rag/internal/chromemdb"
	"augustine-rag/internal/cli"
	"augustine-rag/internal/config"
	"augustine-rag/internal/db"
	"augustine-rag/internal/embedding"
	"augustine-rag/internal/helper"
	"augustine-rag/internal/ingest"
	"augustine-rag/internal/llmservice"
	"augustine-rag/internal/models"
	"augustine-rag/internal/parser"
	"augustine-rag/internal/rag"
	"augustine-rag/internal/server"
	"augustine-rag/internal/session"
	"augustine-rag/internal/supabase"
)

const configFilePath = "./configs/config.yaml"

type closableStore interface {
	rag.VectorStore
	Close() error
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	serve := flag.Bool("serve", false, "Run the HTTP server")
	query := flag.String("query", "", "Answer a single question and exit")
	filePath := flag.String("file", "", "Path to a document to ingest")
	dryRun := flag.Bool("dry-run", false, "Parse and print chunks, do not save to database")
	contextualize := flag.Bool("contextualize", false, "Prefix each chunk with an LLM-written context line before embedding")
	reset := flag.Bool("reset", false, "Empty the vector store before ingesting")
	stream := flag.Bool("stream", false, "Stream answers as they are generated")
	modelName := flag.String("model", "", "Model display name or identifier")
	personaName := flag.String("persona", "", "Persona name")
	flag.Parse()

	modes := 0
	for _, set := range []bool{*serve, *query != "", *filePath != ""} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		log.Fatal().Msg("Please provide only one of -serve, -query or -file")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if *personaName != "" {
		cfg.RAG.Persona = *personaName
	}

	var invalid error
	switch {
	case *filePath != "" && *dryRun:
	case *filePath != "":
		invalid = cfg.ValidateIngest(*contextualize)
	default:
		invalid = cfg.Validate()
	}
	if invalid != nil {
		log.Fatal().Err(invalid).Str("kind", string(rag.KindConfigMissing)).Msg("Invalid configuration")
	}

	ctx := context.Background()

	if *filePath != "" {
		ingestFile(ctx, cfg, *filePath, ingest.Options{
			DryRun:        *dryRun,
			Contextualize: *contextualize,
			Reset:         *reset,
			VectorSize:    cfg.EmbedLLM.Dimensions,
		})
		return
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}
	defer store.Close()

	pipeline, err := newPipeline(cfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building pipeline")
	}

	switch {
	case *serve:
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := server.New(cfg, pipeline, store, session.NewRegistry()).ListenAndServe(ctx); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	case *query != "":
		sess := newSession(cfg, pipeline, *modelName)
		if err := performRAG(ctx, pipeline, sess, *query); err != nil {
			log.Fatal().Err(err).Msg("Error querying")
		}
	default:
		sess := newSession(cfg, pipeline, *modelName)
		chat := cli.New(pipeline, store, sess, cfg.Models, *stream, os.Stdout)
		if err := chat.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("Chat ended with an error")
		}
	}
}

// openStore connects the backend named by vector_store.
func openStore(ctx context.Context, cfg *config.Config) (closableStore, error) {
	switch cfg.VectorStore {
	case config.StoreSupabase:
		return supabaseStore{supabase.NewStore(&cfg.Supabase)}, nil
	case config.StorePostgres:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		return db.NewStore(db.NewDB(sqldb, cfg.Database.Debug), cfg.Supabase.MatchFunction, cfg.Supabase.Table), nil
	case config.StoreChromem:
		if !cfg.Chromem.InMemory {
			if err := helper.CreateFolder(cfg.Chromem.Path); err != nil {
				return nil, err
			}
		}
		m, err := chromemdb.NewVectorDBManager(&cfg.Chromem)
		if err != nil {
			return nil, err
		}
		if cfg.Chromem.InMemory && cfg.Chromem.EncryptionKey != "" {
			if err := m.Import(ctx); err != nil {
				log.Warn().Err(err).Msg("No exported collection imported")
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown vector_store %q", cfg.VectorStore)
	}
}

// supabaseStore adds a no-op Close to the REST store.
type supabaseStore struct {
	*supabase.Store
}

func (supabaseStore) Close() error { return nil }

func newPipeline(cfg *config.Config, store rag.VectorStore) (*rag.Pipeline, error) {
	persona, err := models.LookupPersona(cfg.RAG.Persona)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	client, err := llmservice.NewClient(&cfg.ChatLLM)
	if err != nil {
		return nil, err
	}

	return rag.NewPipeline(
		embedder,
		rag.NewRetriever(store, cfg.RAG.MatchThreshold, cfg.RAG.MatchCount),
		rag.NewResponder(client, persona, cfg.ChatLLM.Temperature, cfg.ChatLLM.MaxTokens),
		rag.LogReporter{},
	), nil
}

func newSession(cfg *config.Config, pipeline *rag.Pipeline, modelName string) *session.Session {
	if len(cfg.Models) == 0 {
		log.Fatal().Msg("No models configured")
	}
	model := cfg.Models[0]
	if modelName != "" {
		m, ok := cfg.Model(modelName)
		if !ok {
			log.Fatal().Str("model", modelName).Msg("Unknown model")
		}
		model = m
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		log.Fatal().Err(err).Msg("Error generating session id")
	}
	persona := pipeline.Responder().Persona()
	return session.New(id, persona.Name, persona.SystemPrompt, model)
}

func performRAG(ctx context.Context, pipeline *rag.Pipeline, sess *session.Session, query string) error {
	res, err := pipeline.Turn(ctx, sess, query)
	if err != nil {
		return err
	}

	sources := make([]string, 0, len(res.Passages))
	for _, p := range res.Passages {
		sources = append(sources, fmt.Sprintf("[%.3f] %s", p.Similarity, p.Content))
	}
	response := models.PromptResponse{
		Query:   query,
		Source:  strings.Join(sources, models.PassageSeparator),
		Content: res.Answer,
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Source)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Content)

	if res.Failed() {
		return errors.New("generation failed")
	}
	return nil
}

func ingestFile(ctx context.Context, cfg *config.Config, filePath string, opts ingest.Options) {
	p := parser.NewFileParser(&cfg.RAG)
	if opts.DryRun {
		if _, err := ingest.New(p, nil, nil, nil).IngestFile(ctx, filePath, opts); err != nil {
			log.Fatal().Err(err).Msg("Error parsing document")
		}
		return
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}
	defer store.Close()

	writable, ok := store.(ingest.Store)
	if !ok {
		log.Fatal().Str("vector_store", cfg.VectorStore).Msg("Vector store is read-only; ingest into postgres or chromem")
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	var contextualizer ingest.Contextualizer
	if opts.Contextualize {
		client, err := llmservice.NewClient(&cfg.ChatLLM)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing chat client")
		}
		contextualizer = client
	}

	report, err := ingest.New(p, embedder, writable, contextualizer).IngestFile(ctx, filePath, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting document")
	}
	log.Info().Interface("report", report).Msg("Ingest finished")

	if m, ok := store.(*chromemdb.VectorDBManager); ok && cfg.Chromem.InMemory {
		if err := m.Export(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error exporting collection")
		}
	}
}
