package markov

import (
	"context"
	"log/slog"
)

// Chunk is one message of a generation stream.
type Chunk struct {
	// State is StateSeeded for the seed, StateGenerating for each sampled
	// character, and StateDone or StateFailed for the final chunk.
	State State
	// Text holds the seed context or a single generated character. It is empty
	// on the final chunk.
	Text string
	// Err is set when State is StateFailed.
	Err error
}

// GenerateStream runs the same generation as Generate but delivers the output
// piece by piece: the seed context first, then one chunk per character, then a
// terminal chunk. Request errors are returned directly. The channel is closed
// after the terminal chunk or once ctx is cancelled.
func (g *Generator) GenerateStream(ctx context.Context, text string, k, length int, opts ...GenerateOption) (<-chan Chunk, error) {
	r, err := g.start(ctx, text, k, length, opts)
	if err != nil {
		return nil, err
	}

	chunkChan := make(chan Chunk)

	go func() {
		defer close(chunkChan)

		send := func(c Chunk) bool {
			select {
			case <-ctx.Done():
				g.logger.DebugContext(ctx, "Generation stream cancelled by context",
					slog.Int("order", k),
					slog.Int("generated_length", len(r.out)-k),
				)
				return false
			case chunkChan <- c:
				return true
			}
		}

		if !send(Chunk{State: StateSeeded, Text: r.seed()}) {
			return
		}

		for r.remaining > 0 {
			c, err := r.step()
			if err != nil {
				g.logger.ErrorContext(ctx, "Generation stream failed", slog.Any("error", err))
				send(Chunk{State: StateFailed, Err: err})
				return
			}
			if !send(Chunk{State: StateGenerating, Text: string(c)}) {
				return
			}
		}

		send(Chunk{State: StateDone})
	}()

	return chunkChan, nil
}
