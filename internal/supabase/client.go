package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/postgrest-go"

	"augustine-rag/internal/config"
	"augustine-rag/internal/models"
)

const requestTimeout = 30 * time.Second

// Client issues PostgREST calls for a Supabase project, authenticated with
// the anon key.
type Client struct {
	restURL   string
	key       string
	transport http.RoundTripper
}

// APIError carries the PostgREST error body.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: %d: %s", e.Status, e.Message)
}

// NewClient takes the project URL; requests go to its /rest/v1 endpoint. A
// nil transport means http.DefaultTransport.
func NewClient(baseURL, key string, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		restURL:   strings.TrimSuffix(baseURL, "/") + "/rest/v1",
		key:       key,
		transport: transport,
	}
}

// RPC calls a Postgres function exposed under /rest/v1/rpc and decodes the
// JSON response into out.
func (c *Client) RPC(ctx context.Context, fn string, params any, out any) error {
	data, err := c.call(ctx, func(pc *postgrest.Client) ([]byte, error) {
		return []byte(pc.Rpc(fn, "", params)), nil
	})
	if err != nil {
		return err
	}
	return decode(data, out)
}

// Select runs a read-only table query, e.g. Select(ctx, "documents", "id", 1, &rows).
func (c *Client) Select(ctx context.Context, table, columns string, limit int, out any) error {
	data, err := c.call(ctx, func(pc *postgrest.Client) ([]byte, error) {
		q := pc.From(table).Select(columns, "", false)
		if limit > 0 {
			q = q.Limit(limit, "")
		}
		data, _, err := q.Execute()
		return data, err
	})
	if err != nil {
		return err
	}
	return decode(data, out)
}

// call runs fn on a postgrest client bound to ctx. postgrest-go keeps
// errors on the client and builds requests without a context, so each call
// gets its own client and transport.
func (c *Client) call(ctx context.Context, fn func(*postgrest.Client) ([]byte, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	pc := postgrest.NewClient(c.restURL, "", nil)
	if pc.ClientError != nil {
		return nil, pc.ClientError
	}
	rt := &callTransport{ctx: ctx, base: c.transport}
	pc.Transport.Parent = rt
	pc.SetApiKey(c.key).SetAuthToken(c.key)

	data, err := fn(pc)
	if rt.status >= http.StatusMultipleChoices {
		return nil, rt.apiError()
	}
	if err != nil {
		return nil, err
	}
	if pc.ClientError != nil {
		return nil, pc.ClientError
	}
	return data, nil
}

func decode(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// callTransport puts the call's context on each request and keeps the body
// of an error response for APIError.
type callTransport struct {
	ctx    context.Context
	base   http.RoundTripper
	status int
	body   []byte
}

func (t *callTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, err
	}
	t.status = resp.StatusCode
	if resp.StatusCode >= http.StatusMultipleChoices {
		t.body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		resp.Body = io.NopCloser(bytes.NewReader(t.body))
	}
	return resp, nil
}

func (t *callTransport) apiError() *APIError {
	apiErr := &APIError{Status: t.status}
	if json.Unmarshal(t.body, apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(t.body))
	}
	return apiErr
}

type matchParams struct {
	QueryEmbedding []float32 `json:"query_embedding"`
	MatchThreshold float64   `json:"match_threshold"`
	MatchCount     int       `json:"match_count"`
}

type matchRow struct {
	ID         json.RawMessage `json:"id"`
	Content    string          `json:"content"`
	Similarity float64         `json:"similarity"`
}

// Store runs similarity queries through the project's match function.
type Store struct {
	client        *Client
	matchFunction string
	table         string
}

func NewStore(cfg *config.SupabaseConfig) *Store {
	return &Store{
		client:        NewClient(cfg.URL, cfg.AnonKey, nil),
		matchFunction: cfg.MatchFunction,
		table:         cfg.Table,
	}
}

// Match returns passages in the order the remote function ranked them.
func (s *Store) Match(ctx context.Context, embedding []float32, threshold float64, count int) ([]models.Passage, error) {
	var rows []matchRow
	err := s.client.RPC(ctx, s.matchFunction, matchParams{
		QueryEmbedding: embedding,
		MatchThreshold: threshold,
		MatchCount:     count,
	}, &rows)
	if err != nil {
		return nil, err
	}

	log.Debug().Int("matches", len(rows)).Str("function", s.matchFunction).Msg("Vector query finished")
	passages := make([]models.Passage, 0, len(rows))
	for _, r := range rows {
		passages = append(passages, models.Passage{
			ID:         strings.Trim(string(r.ID), `"`),
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return passages, nil
}

// Ping is the "select id limit 1" connectivity check.
func (s *Store) Ping(ctx context.Context) error {
	var rows []map[string]any
	return s.client.Select(ctx, s.table, "id", 1, &rows)
}

func (s *Store) Name() string { return config.StoreSupabase }
