package llmservice

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ErrTruncatedStream is returned when the provider closes the stream before
// sending a finish reason.
var ErrTruncatedStream = fmt.Errorf("stream ended before the completion finished: %w", io.ErrUnexpectedEOF)

// Stream is a finite, non-restartable sequence of completion fragments.
//
//	for s.Next() {
//		fmt.Print(s.Fragment())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	Next() bool
	Fragment() string
	Text() string
	Err() error
	Close() error
}

// TokenStream adapts langchaingo's streaming callback to a pull iterator.
// The completion runs in its own goroutine and hands fragments over an
// unbuffered channel, so it never runs ahead of the reader.
type TokenStream struct {
	fragments <-chan string
	result    <-chan error
	cancel    context.CancelFunc
	fragment  string
	text      strings.Builder
	err       error
	done      bool
}

// Stream starts a streaming completion. Request errors, including a non-200
// response, surface from Err once Next returns false. The caller must Close
// the stream.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	fragments := make(chan string)
	result := make(chan error, 1)

	opts := append(c.callOptions(req), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		select {
		case fragments <- string(chunk):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	go func() {
		defer close(fragments)
		res, err := c.llm.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
		result <- streamResult(res, err)
	}()

	return &TokenStream{fragments: fragments, result: result, cancel: cancel}, nil
}

// streamResult decides whether a finished stream is complete. A provider
// that drops the connection leaves the finish reason empty.
func streamResult(res *llms.ContentResponse, err error) error {
	if err != nil {
		return err
	}
	if len(res.Choices) == 0 {
		return ErrNoChoices
	}
	if res.Choices[0].StopReason == "" {
		return ErrTruncatedStream
	}
	return nil
}

// Next advances to the next fragment. It returns false at end of stream or
// on error; check Err afterwards.
func (s *TokenStream) Next() bool {
	if s.done {
		return false
	}
	fragment, ok := <-s.fragments
	if !ok {
		s.err = <-s.result
		s.finish()
		return false
	}
	s.fragment = fragment
	s.text.WriteString(fragment)
	return true
}

func (s *TokenStream) finish() {
	s.done = true
	s.fragment = ""
	s.cancel()
}

// Fragment is the text produced by the last successful Next.
func (s *TokenStream) Fragment() string { return s.fragment }

// Text is everything received so far.
func (s *TokenStream) Text() string { return s.text.String() }

func (s *TokenStream) Err() error { return s.err }

// Close stops the completion if it is still running.
func (s *TokenStream) Close() error {
	s.finish()
	return nil
}
