package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigMissing is returned by Validate when a required credential or
// endpoint is absent.
var ErrConfigMissing = errors.New("config missing")

const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreChromem  = "chromem"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	DriverPG = "pgdriver"
	DriverPQ = "pq"
)

type Config struct {
	VectorStore string         `yaml:"vector_store"`
	Supabase    SupabaseConfig `yaml:"supabase"`
	Database    DatabaseConfig `yaml:"database"`
	Chromem     ChromemConfig  `yaml:"chromem"`
	EmbedLLM    LLMConfig      `yaml:"embed_llm"`
	ChatLLM     LLMConfig      `yaml:"chat_llm"`
	RAG         RAGConfig      `yaml:"rag"`
	Models      []ModelOption  `yaml:"models"`
	Server      ServerConfig   `yaml:"server"`
	Log         LogConfig      `yaml:"log"`
}

type SupabaseConfig struct {
	URL           string `yaml:"url"`
	AnonKey       string `yaml:"anon_key"`
	MatchFunction string `yaml:"match_function"`
	Table         string `yaml:"table"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"`
	Debug    bool   `yaml:"debug"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	EncryptionKey string `yaml:"encryption_key"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Dimensions  int     `yaml:"dimensions"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type RAGConfig struct {
	MatchThreshold float64 `yaml:"match_threshold"`
	MatchCount     int     `yaml:"match_count"`
	ChunkSize      int     `yaml:"chunk_size"`
	ChunkOverlap   int     `yaml:"chunk_overlap"`
	Persona        string  `yaml:"persona"`
	EncryptionKey  string  `yaml:"encryption_key"`
}

// ModelOption maps a display name to the backend model identifier.
type ModelOption struct {
	Name string `yaml:"name" json:"name"`
	ID   string `yaml:"id" json:"id"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads .env, the YAML file at path (if present) and the
// environment, in that order of increasing precedence, then fills defaults.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Supabase.URL, "SUPABASE_URL")
	setString(&c.Supabase.AnonKey, "SUPABASE_ANON_KEY")
	setString(&c.ChatLLM.Key, "CEREBRAS_API_KEY")
	setString(&c.ChatLLM.BaseURL, "CHAT_BASE_URL")
	setString(&c.EmbedLLM.Key, "OPENAI_API_KEY")
	setString(&c.EmbedLLM.BaseURL, "EMBED_BASE_URL")
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Database.Password, "DATABASE_PASSWORD")
	setString(&c.VectorStore, "VECTOR_STORE")
	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v, ok := os.LookupEnv("MATCH_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RAG.MatchThreshold = f
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.VectorStore == "" {
		c.VectorStore = StoreSupabase
	}
	if c.Supabase.MatchFunction == "" {
		c.Supabase.MatchFunction = "match_documents"
	}
	if c.Supabase.Table == "" {
		c.Supabase.Table = "documents"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPG
	}
	if c.Chromem.Path == "" {
		c.Chromem.Path = "./chromemdb"
	}
	if c.Chromem.Collection == "" {
		c.Chromem.Collection = "augustine"
	}

	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = ProviderOpenAI
	}
	if c.EmbedLLM.BaseURL == "" && c.EmbedLLM.Provider == ProviderOpenAI {
		c.EmbedLLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.EmbedLLM.Model == "" {
		c.EmbedLLM.Model = "text-embedding-3-large"
	}
	if c.EmbedLLM.Dimensions == 0 {
		c.EmbedLLM.Dimensions = 3072
	}

	if c.ChatLLM.Provider == "" {
		c.ChatLLM.Provider = ProviderOpenAI
	}
	if c.ChatLLM.BaseURL == "" {
		c.ChatLLM.BaseURL = "https://api.cerebras.ai/v1"
	}
	if c.ChatLLM.MaxTokens == 0 {
		c.ChatLLM.MaxTokens = 1000
	}

	if c.RAG.MatchThreshold == 0 {
		c.RAG.MatchThreshold = 0.3
	}
	if c.RAG.MatchCount == 0 {
		c.RAG.MatchCount = 5
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 1000
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 200
	}
	if c.RAG.Persona == "" {
		c.RAG.Persona = "augustine"
	}
	if c.Chromem.EncryptionKey == "" {
		c.Chromem.EncryptionKey = c.RAG.EncryptionKey
	}

	if len(c.Models) == 0 {
		c.Models = []ModelOption{
			{Name: "LLaMA 3.1 8B", ID: "llama3.1-8b"},
			{Name: "GPT-OSS 120B", ID: "gpt-oss-120b"},
		}
	}
	if c.ChatLLM.Model == "" {
		c.ChatLLM.Model = c.Models[0].ID
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "debug"
	}
}

// Validate reports every missing credential or endpoint at once. The
// returned error wraps ErrConfigMissing.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateIngest is Validate for ingest runs, which only need the chat key
// when chunks are contextualised.
func (c *Config) ValidateIngest(contextualize bool) error {
	return c.validate(contextualize)
}

func (c *Config) validate(needChat bool) error {
	var errs []error
	missing := func(key string) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrConfigMissing, key))
	}

	switch c.VectorStore {
	case StoreSupabase:
		if c.Supabase.URL == "" {
			missing("SUPABASE_URL")
		}
		if c.Supabase.AnonKey == "" {
			missing("SUPABASE_ANON_KEY")
		}
	case StorePostgres:
		if c.Database.DSN == "" {
			missing("DATABASE_URL")
		}
	case StoreChromem:
		if c.Chromem.Path == "" && !c.Chromem.InMemory {
			missing("chromem.path")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector_store %q", c.VectorStore))
	}

	if needChat && c.ChatLLM.Key == "" {
		missing("CEREBRAS_API_KEY")
	}
	if c.EmbedLLM.Provider != ProviderOllama && c.EmbedLLM.Key == "" {
		missing("OPENAI_API_KEY")
	}
	if c.RAG.MatchCount < 0 {
		errs = append(errs, fmt.Errorf("rag.match_count must not be negative"))
	}
	return errors.Join(errs...)
}

// Model returns the backend identifier for a display name or identifier.
func (c *Config) Model(nameOrID string) (ModelOption, bool) {
	for _, m := range c.Models {
		if m.Name == nameOrID || m.ID == nameOrID {
			return m, true
		}
	}
	return ModelOption{}, false
}
