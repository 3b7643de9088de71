package rag

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"augustine-rag/internal/embedding"
	"augustine-rag/internal/models"
	"augustine-rag/internal/session"
)

var ErrEmptyQuestion = errors.New("question is empty")

// State is the position of a turn in the pipeline.
type State string

const (
	StateIdle       State = "idle"
	StateEmbedding  State = "embedding"
	StateRetrieving State = "retrieving"
	StateAssembling State = "assembling"
	StateGenerating State = "generating"
	StateRendered   State = "rendered"
	StateFailed     State = "failed"
)

// TurnResult describes one finished turn. Errors holds every non-fatal
// failure reported during the turn, in stage order.
type TurnResult struct {
	Question string
	Answer   string
	Model    string
	Passages []models.Passage
	Prompt   string
	State    State
	Errors   []*StageError
}

// Failed reports whether the turn ended in the Failed state.
func (t *TurnResult) Failed() bool { return t.State == StateFailed }

type Pipeline struct {
	embedder  embedding.Embedder
	retriever *Retriever
	responder *Responder
	reporter  Reporter

	// OnState, if set, observes every state transition.
	OnState func(State)
}

func NewPipeline(embedder embedding.Embedder, retriever *Retriever, responder *Responder, reporter Reporter) *Pipeline {
	if reporter == nil {
		reporter = LogReporter{}
	}
	return &Pipeline{
		embedder:  embedder,
		retriever: retriever,
		responder: responder,
		reporter:  reporter,
	}
}

func (p *Pipeline) Responder() *Responder { return p.responder }

// Turn runs one blocking turn against sess and appends the user and
// assistant entries to its history.
func (p *Pipeline) Turn(ctx context.Context, sess *session.Session, question string) (TurnResult, error) {
	return p.turn(ctx, sess, question, nil)
}

// TurnStream is Turn with the completion streamed through emit.
func (p *Pipeline) TurnStream(ctx context.Context, sess *session.Session, question string, emit func(string) error) (TurnResult, error) {
	if emit == nil {
		emit = func(string) error { return nil }
	}
	return p.turn(ctx, sess, question, emit)
}

func (p *Pipeline) turn(ctx context.Context, sess *session.Session, question string, emit func(string) error) (TurnResult, error) {
	if strings.TrimSpace(question) == "" {
		return TurnResult{State: StateIdle}, ErrEmptyQuestion
	}

	done := sess.BeginTurn()
	defer done()

	model := sess.Model().ID
	res := TurnResult{Question: question, Model: model}
	sess.Append(models.RoleUser, question)

	res.Passages = p.retrieve(ctx, question, &res)

	p.setState(&res, StateAssembling)
	res.Prompt = AssemblePrompt(res.Passages, question)

	p.setState(&res, StateGenerating)
	var (
		answer string
		serr   *StageError
	)
	if emit != nil {
		answer, serr = p.responder.RespondStream(ctx, model, res.Prompt, emit)
	} else {
		answer, serr = p.responder.Respond(ctx, model, res.Prompt)
	}

	if serr != nil {
		p.report(ctx, &res, serr)
		res.Answer = models.FallbackAnswer
		sess.Append(models.RoleAssistant, res.Answer)
		p.finish(&res, StateFailed)
		return res, nil
	}

	res.Answer = answer
	sess.Append(models.RoleAssistant, answer)
	p.finish(&res, StateRendered)
	log.Ctx(ctx).Debug().Int("passages", len(res.Passages)).Str("model", model).Msg("Turn finished")
	return res, nil
}

// BuildContext embeds and retrieves for question and returns the context
// block with the passages behind it. Failures are reported and degrade to
// the not-found marker.
func (p *Pipeline) BuildContext(ctx context.Context, question string) (string, []models.Passage, []*StageError) {
	var res TurnResult
	passages := p.retrieve(ctx, question, &res)
	return ContextBlock(passages), passages, res.Errors
}

func (p *Pipeline) retrieve(ctx context.Context, question string, res *TurnResult) []models.Passage {
	p.setState(res, StateEmbedding)
	vec, err := embedding.Embed(ctx, p.embedder, question)
	if err != nil {
		p.report(ctx, res, stageError(KindEmbeddingFailure, err))
	}

	p.setState(res, StateRetrieving)
	passages, serr := p.retriever.Retrieve(ctx, vec)
	if serr != nil {
		p.report(ctx, res, serr)
		return nil
	}
	return passages
}

func (p *Pipeline) report(ctx context.Context, res *TurnResult, err *StageError) {
	res.Errors = append(res.Errors, err)
	p.reporter.Report(ctx, err)
}

// finish records the terminal state and hands control back to Idle.
func (p *Pipeline) finish(res *TurnResult, terminal State) {
	p.setState(res, terminal)
	if p.OnState != nil {
		p.OnState(StateIdle)
	}
}

func (p *Pipeline) setState(res *TurnResult, s State) {
	res.State = s
	if p.OnState != nil {
		p.OnState(s)
	}
}
