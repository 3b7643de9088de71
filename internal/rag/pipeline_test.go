package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"augustine-rag/internal/config"
	"augustine-rag/internal/llmservice"
	"augustine-rag/internal/models"
	"augustine-rag/internal/session"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

type matchCall struct {
	embedding []float32
	threshold float64
	count     int
}

type fakeStore struct {
	passages []models.Passage
	err      error
	calls    []matchCall
}

func (f *fakeStore) Match(_ context.Context, embedding []float32, threshold float64, count int) ([]models.Passage, error) {
	f.calls = append(f.calls, matchCall{embedding, threshold, count})
	return f.passages, f.err
}

func (f *fakeStore) Ping(context.Context) error { return f.err }

type fakeStream struct {
	fragments []string
	err       error
	i         int
	text      strings.Builder
	closed    bool
}

func (s *fakeStream) Next() bool {
	if s.i >= len(s.fragments) {
		return false
	}
	s.text.WriteString(s.fragments[s.i])
	s.i++
	return true
}

func (s *fakeStream) Fragment() string { return s.fragments[s.i-1] }
func (s *fakeStream) Text() string     { return s.text.String() }
func (s *fakeStream) Err() error       { return s.err }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeCompleter struct {
	answer    string
	err       error
	stream    *fakeStream
	streamErr error
	requests  []llmservice.ChatRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llmservice.ChatRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.answer, f.err
}

func (f *fakeCompleter) Stream(_ context.Context, req llmservice.ChatRequest) (llmservice.Stream, error) {
	f.requests = append(f.requests, req)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

type recorder struct{ reported []*StageError }

func (r *recorder) Report(_ context.Context, err *StageError) { r.reported = append(r.reported, err) }

var gracePassages = []models.Passage{
	{Content: "Grace is unearned favor.", Similarity: 0.8},
	{Content: "Grace precedes faith.", Similarity: 0.5},
}

type fixture struct {
	embedder  *fakeEmbedder
	store     *fakeStore
	completer *fakeCompleter
	reporter  *recorder
	pipeline  *Pipeline
	session   *session.Session
}

func newFixture() *fixture {
	f := &fixture{
		embedder:  &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}},
		store:     &fakeStore{passages: gracePassages},
		completer: &fakeCompleter{answer: "Grace is God's gift."},
		reporter:  &recorder{},
	}
	persona := models.Personas["augustine"]
	f.pipeline = NewPipeline(
		f.embedder,
		NewRetriever(f.store, 0.3, 5),
		NewResponder(f.completer, persona, 0, 1000),
		f.reporter,
	)
	f.session = session.New("s1", persona.Name, persona.SystemPrompt, config.ModelOption{Name: "LLaMA 3.1 8B", ID: "llama3.1-8b"})
	return f
}

func TestTurn_GraceScenario(t *testing.T) {
	f := newFixture()

	res, err := f.pipeline.Turn(context.Background(), f.session, "What is grace?")
	require.NoError(t, err)

	assert.Equal(t, StateRendered, res.State)
	assert.Equal(t, "Grace is God's gift.", res.Answer)
	assert.Empty(t, res.Errors)
	assert.Contains(t, res.Prompt, "Grace is unearned favor.\n\nGrace precedes faith.")
	assert.True(t, strings.HasSuffix(res.Prompt, "질문: What is grace?\n"))

	require.Len(t, f.completer.requests, 1)
	req := f.completer.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, models.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, models.Personas["augustine"].SystemPrompt, req.Messages[0].Content)
	assert.Equal(t, models.RoleUser, req.Messages[1].Role)
	assert.Equal(t, res.Prompt, req.Messages[1].Content)
	assert.Equal(t, "llama3.1-8b", req.Model)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Equal(t, 1000, req.MaxTokens)

	require.Len(t, f.store.calls, 1)
	assert.Equal(t, 0.3, f.store.calls[0].threshold)
	assert.Equal(t, 5, f.store.calls[0].count)
}

func TestTurn_HistoryIsOnePlusTwoN(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := f.pipeline.Turn(ctx, f.session, "question")
		require.NoError(t, err)
		assert.Equal(t, 1+2*i, f.session.Len())
	}

	h := f.session.History()
	assert.Equal(t, models.RoleSystem, h[0].Role)
	assert.Equal(t, models.RoleUser, h[1].Role)
	assert.Equal(t, models.RoleAssistant, h[2].Role)
}

func TestTurn_EmbeddingFailureSkipsRetrieval(t *testing.T) {
	f := newFixture()
	f.embedder.err = errors.New("embedding provider down")

	res, err := f.pipeline.Turn(context.Background(), f.session, "What is grace?")
	require.NoError(t, err)

	assert.Empty(t, f.store.calls, "retriever must not call the store without a vector")
	assert.Empty(t, res.Passages)
	assert.Contains(t, res.Prompt, models.NotFoundMarker)
	assert.Equal(t, StateRendered, res.State)

	require.Len(t, f.reporter.reported, 1)
	assert.Equal(t, KindEmbeddingFailure, f.reporter.reported[0].Kind)
}

func TestTurn_RetrievalFailureDegrades(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("rpc failed")

	res, err := f.pipeline.Turn(context.Background(), f.session, "What is grace?")
	require.NoError(t, err)

	assert.Empty(t, res.Passages)
	assert.Contains(t, res.Prompt, "[Context: Augustine 문헌 발췌]\n"+models.NotFoundMarker+"\n")
	assert.Equal(t, "Grace is God's gift.", res.Answer)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindRetrievalFailure, res.Errors[0].Kind)
	assert.Equal(t, res.Errors, f.reporter.reported)
}

func TestTurn_GenerationFailureAppendsFallback(t *testing.T) {
	f := newFixture()
	f.completer.err = errors.New("503 overloaded")

	res, err := f.pipeline.Turn(context.Background(), f.session, "What is grace?")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, res.Failed())
	assert.Equal(t, models.FallbackAnswer, res.Answer)

	h := f.session.History()
	require.Len(t, h, 3)
	assert.Equal(t, models.FallbackAnswer, h[2].Content)
	assert.Equal(t, models.RoleAssistant, h[2].Role)

	require.Len(t, f.reporter.reported, 1)
	assert.Equal(t, KindGenerationFailure, f.reporter.reported[0].Kind)

	// the session keeps working after a failed turn
	f.completer.err = nil
	res, err = f.pipeline.Turn(context.Background(), f.session, "And faith?")
	require.NoError(t, err)
	assert.Equal(t, StateRendered, res.State)
	assert.Equal(t, 5, f.session.Len())
}

func TestTurn_EmptyQuestion(t *testing.T) {
	f := newFixture()

	_, err := f.pipeline.Turn(context.Background(), f.session, "  \n")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Equal(t, 1, f.session.Len())
	assert.Zero(t, f.embedder.calls)
}

func TestTurn_StateTransitions(t *testing.T) {
	f := newFixture()
	var states []State
	f.pipeline.OnState = func(s State) { states = append(states, s) }

	_, err := f.pipeline.Turn(context.Background(), f.session, "What is grace?")
	require.NoError(t, err)
	assert.Equal(t, []State{StateEmbedding, StateRetrieving, StateAssembling, StateGenerating, StateRendered, StateIdle}, states)

	states = nil
	f.completer.err = errors.New("boom")
	_, err = f.pipeline.Turn(context.Background(), f.session, "What is grace?")
	require.NoError(t, err)
	assert.Equal(t, []State{StateEmbedding, StateRetrieving, StateAssembling, StateGenerating, StateFailed, StateIdle}, states)
}

func TestTurn_UsesSelectedModel(t *testing.T) {
	f := newFixture()
	_, err := f.session.SelectModel([]config.ModelOption{{Name: "GPT-OSS 120B", ID: "gpt-oss-120b"}}, "GPT-OSS 120B")
	require.NoError(t, err)

	res, err := f.pipeline.Turn(context.Background(), f.session, "q")
	require.NoError(t, err)
	assert.Equal(t, "gpt-oss-120b", res.Model)
	assert.Equal(t, "gpt-oss-120b", f.completer.requests[0].Model)
}

func TestTurnStream(t *testing.T) {
	f := newFixture()
	f.completer.stream = &fakeStream{fragments: []string{"Grace ", "precedes ", "faith."}}

	var emitted []string
	res, err := f.pipeline.TurnStream(context.Background(), f.session, "What is grace?", func(s string) error {
		emitted = append(emitted, s)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Grace ", "precedes ", "faith."}, emitted)
	assert.Equal(t, "Grace precedes faith.", res.Answer)
	assert.Equal(t, "Grace precedes faith.", f.session.History()[2].Content)
	assert.True(t, f.completer.stream.closed)
}

func TestTurnStream_MidStreamErrorFailsTurn(t *testing.T) {
	f := newFixture()
	f.completer.stream = &fakeStream{fragments: []string{"Grace "}, err: errors.New("connection reset")}

	res, err := f.pipeline.TurnStream(context.Background(), f.session, "What is grace?", nil)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, models.FallbackAnswer, f.session.History()[2].Content)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindGenerationFailure, res.Errors[0].Kind)
}

func TestTurnStream_ConnectionDroppedFailsTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Grace is\"}}]}\n\n")
	}))
	defer srv.Close()

	client, err := llmservice.NewClient(&config.LLMConfig{BaseURL: srv.URL, Key: "csk-test", Model: "llama3.1-8b"})
	require.NoError(t, err)

	f := newFixture()
	persona := models.Personas["augustine"]
	reporter := &recorder{}
	pipeline := NewPipeline(f.embedder, NewRetriever(f.store, 0.3, 5), NewResponder(client, persona, 0, 1000), reporter)

	var shown strings.Builder
	res, err := pipeline.TurnStream(context.Background(), f.session, "What is grace?", func(s string) error {
		shown.WriteString(s)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Grace is", shown.String())
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, models.FallbackAnswer, res.Answer)
	assert.Equal(t, models.FallbackAnswer, f.session.History()[2].Content)
	require.Len(t, reporter.reported, 1)
	assert.Equal(t, KindGenerationFailure, reporter.reported[0].Kind)
	assert.ErrorIs(t, reporter.reported[0], io.ErrUnexpectedEOF)
}

func TestTurnStream_ReasoningIsNotShown(t *testing.T) {
	f := newFixture()
	f.completer.stream = &fakeStream{fragments: []string{"<thi", "nk>plan</th", "ink>\n", "Answer."}}

	var shown strings.Builder
	res, err := f.pipeline.TurnStream(context.Background(), f.session, "q", func(s string) error {
		shown.WriteString(s)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Answer.", shown.String())
	assert.Equal(t, "Answer.", res.Answer)
	assert.Equal(t, shown.String(), f.session.History()[2].Content)
}

func TestTurnStream_EmitErrorFailsTurn(t *testing.T) {
	f := newFixture()
	f.completer.stream = &fakeStream{fragments: []string{"a", "b"}}

	res, err := f.pipeline.TurnStream(context.Background(), f.session, "q", func(string) error {
		return errors.New("client gone")
	})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.True(t, f.completer.stream.closed)
}

func TestTurnStream_OpenError(t *testing.T) {
	f := newFixture()
	f.completer.streamErr = errors.New("401")

	res, err := f.pipeline.TurnStream(context.Background(), f.session, "q", nil)
	require.NoError(t, err)
	assert.Equal(t, models.FallbackAnswer, res.Answer)
}

func TestBuildContext(t *testing.T) {
	f := newFixture()

	block, passages, errs := f.pipeline.BuildContext(context.Background(), "What is grace?")
	assert.Equal(t, "Grace is unearned favor.\n\nGrace precedes faith.", block)
	assert.Len(t, passages, 2)
	assert.Empty(t, errs)

	f.store.err = errors.New("rpc failed")
	block, passages, errs = f.pipeline.BuildContext(context.Background(), "What is grace?")
	assert.Equal(t, models.NotFoundMarker, block)
	assert.Empty(t, passages)
	require.Len(t, errs, 1)
	assert.Equal(t, KindRetrievalFailure, errs[0].Kind)
}

func TestNewPipeline_DefaultReporter(t *testing.T) {
	p := NewPipeline(&fakeEmbedder{}, NewRetriever(&fakeStore{}, 0, 0), nil, nil)
	assert.IsType(t, LogReporter{}, p.reporter)
}
