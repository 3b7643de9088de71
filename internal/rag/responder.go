package rag

import (
	"context"
	"errors"
	"fmt"

	"augustine-rag/internal/llmservice"
	"augustine-rag/internal/models"
)

var ErrEmptyCompletion = errors.New("completion is empty")

// Completer is the chat-completion provider.
type Completer interface {
	Complete(ctx context.Context, req llmservice.ChatRequest) (string, error)
	Stream(ctx context.Context, req llmservice.ChatRequest) (llmservice.Stream, error)
}

// Responder sends the persona and the assembled prompt to the completer with
// fixed sampling settings.
type Responder struct {
	completer   Completer
	persona     models.Persona
	temperature float64
	maxTokens   int
}

// NewResponder uses the persona's temperature unless temperature is positive.
func NewResponder(completer Completer, persona models.Persona, temperature float64, maxTokens int) *Responder {
	if temperature <= 0 {
		temperature = persona.Temperature
	}
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &Responder{
		completer:   completer,
		persona:     persona,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func (r *Responder) Persona() models.Persona { return r.persona }

// Request builds the two-message completion request.
func (r *Responder) Request(model, prompt string) llmservice.ChatRequest {
	return llmservice.ChatRequest{
		Model: model,
		Messages: []models.ConversationTurn{
			{Role: models.RoleSystem, Content: r.persona.SystemPrompt},
			{Role: models.RoleUser, Content: prompt},
		},
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	}
}

func (r *Responder) Respond(ctx context.Context, model, prompt string) (string, *StageError) {
	text, err := r.completer.Complete(ctx, r.Request(model, prompt))
	if err != nil {
		return "", stageError(KindGenerationFailure, err)
	}
	return finalText(text)
}

// RespondStream passes each fragment to emit as it arrives, with reasoning
// blocks removed, and returns the complete text once the stream ends. Any stream or emit error fails the
// whole response.
func (r *Responder) RespondStream(ctx context.Context, model, prompt string, emit func(string) error) (string, *StageError) {
	stream, err := r.completer.Stream(ctx, r.Request(model, prompt))
	if err != nil {
		return "", stageError(KindGenerationFailure, err)
	}
	defer stream.Close()

	var filter llmservice.ThinkFilter
	for stream.Next() {
		if err := emitVisible(emit, filter.Push(stream.Fragment())); err != nil {
			return "", err
		}
	}
	if err := stream.Err(); err != nil {
		return "", stageError(KindGenerationFailure, err)
	}
	if err := emitVisible(emit, filter.Flush()); err != nil {
		return "", err
	}
	return finalText(stream.Text())
}

func emitVisible(emit func(string) error, text string) *StageError {
	if text == "" {
		return nil
	}
	if err := emit(text); err != nil {
		return stageError(KindGenerationFailure, fmt.Errorf("render fragment: %w", err))
	}
	return nil
}

func finalText(text string) (string, *StageError) {
	text = llmservice.StripThinking(text)
	if text == "" {
		return "", stageError(KindGenerationFailure, ErrEmptyCompletion)
	}
	return text, nil
}
