package engine

import (
	"context"
	"errors"

	"chatd/pkg/types"
)

// streamBuffer bounds how far the producer may run ahead of the consumer.
const streamBuffer = 32

// Stream is a finite, non-restartable token sequence from one generation.
// A producer goroutine feeds a bounded channel; the consumer reads with Next
// until the channel closes (completion or terminal error) or its context is
// canceled between reads. Cancellation is cooperative: it is observed at
// every suspension point, never mid-token.
type Stream struct {
	tokens chan string
	// err is written by the producer before close(tokens); the channel close
	// orders it before any consumer read.
	err error
}

func newStream() *Stream {
	return &Stream{tokens: make(chan string, streamBuffer)}
}

// Next blocks for the next token. ok=false means the stream ended; err is
// non-nil only when the stream terminated abnormally or ctx was canceled.
func (s *Stream) Next(ctx context.Context) (tok string, ok bool, err error) {
	select {
	case t, open := <-s.tokens:
		if !open {
			return "", false, s.err
		}
		return t, true, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// push delivers one token to the consumer, honoring cancellation.
func (s *Stream) push(ctx context.Context, tok string) error {
	select {
	case s.tokens <- tok:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) close(err error) {
	s.err = err
	close(s.tokens)
}

// errStopGeneration tells a backend token callback to stop cleanly
// (max tokens reached or stop sequence matched).
var errStopGeneration = errors.New("stop generation")

// NewStream adapts a callback-style token producer into a Stream, enforcing
// the config's max token cap and stop sequences. run is invoked on its own
// goroutine and must call onToken once per produced token, stopping when it
// returns a non-nil error. A nil return from run completes the stream.
//
// Stop sequences are matched caller-side against trailing accumulated output,
// uniformly for every backend: matched stop text is withheld, and a match
// ends the stream without error.
func NewStream(ctx context.Context, cfg types.GenerationConfig, run func(ctx context.Context, onToken func(string) error) error) *Stream {
	s := newStream()
	go func() {
		filter := newStopFilter(cfg.StopSequences)
		emitted := 0
		onToken := func(tok string) error {
			if cfg.MaxTokens > 0 && emitted >= cfg.MaxTokens {
				return errStopGeneration
			}
			emitted++
			out, hit := filter.feed(tok)
			if out != "" {
				if err := s.push(ctx, out); err != nil {
					return err
				}
			}
			if hit {
				return errStopGeneration
			}
			return nil
		}
		err := run(ctx, onToken)
		if err == nil || errors.Is(err, errStopGeneration) {
			// Clean end (backend completion or the token cap): release any
			// withheld tail. A stop match already discarded its pending text
			// in feed, so the flush is empty in that case.
			if tail := filter.flush(); tail != "" {
				if perr := s.push(ctx, tail); perr != nil {
					err = perr
				}
			}
		}
		switch {
		case errors.Is(err, errStopGeneration):
			err = nil
		case err != nil && ctx.Err() != nil:
			err = ctx.Err()
		case err != nil && !IsEngineFailure(err) && !IsNotLoaded(err):
			err = ErrEngineFailure(err)
		}
		s.close(err)
	}()
	return s
}

// stopFilter withholds just enough trailing output to guarantee that stop
// sequence text is never emitted, even when a sequence spans token boundaries.
type stopFilter struct {
	stops    []string
	holdback int
	pending  string
}

func newStopFilter(stops []string) *stopFilter {
	f := &stopFilter{stops: stops}
	for _, s := range stops {
		if len(s) > f.holdback+1 {
			f.holdback = len(s) - 1
		}
	}
	return f
}

// feed appends tok to the pending tail and returns the text that is safe to
// emit. hit=true means a stop sequence matched; everything before the match
// is returned and the rest is discarded.
func (f *stopFilter) feed(tok string) (out string, hit bool) {
	if len(f.stops) == 0 {
		return tok, false
	}
	f.pending += tok
	if idx := f.earliestStop(); idx >= 0 {
		out = f.pending[:idx]
		f.pending = ""
		return out, true
	}
	if emit := len(f.pending) - f.holdback; emit > 0 {
		out = f.pending[:emit]
		f.pending = f.pending[emit:]
	}
	return out, false
}

// flush returns withheld text at normal end of stream.
func (f *stopFilter) flush() string {
	out := f.pending
	f.pending = ""
	return out
}

func (f *stopFilter) earliestStop() int {
	idx := -1
	for _, stop := range f.stops {
		if stop == "" {
			continue
		}
		for i := 0; i+len(stop) <= len(f.pending); i++ {
			if f.pending[i:i+len(stop)] == stop {
				if idx < 0 || i < idx {
					idx = i
				}
				break
			}
		}
	}
	return idx
}
