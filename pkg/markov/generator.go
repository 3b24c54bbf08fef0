package markov

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
)

// State is a step of the generation state machine.
type State int

const (
	// StateSeeded means the table is built and the seed context has been emitted.
	StateSeeded State = iota
	// StateGenerating means at least one character has been sampled.
	StateGenerating
	// StateDone means the requested number of characters has been produced.
	StateDone
	// StateFailed means generation stopped on an error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSeeded:
		return "seeded"
	case StateGenerating:
		return "generating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Limits caps the work a single request may ask for. A zero field disables
// that limit.
type Limits struct {
	// MaxCorpusLength is the largest accepted training text, in characters.
	MaxCorpusLength int `json:"max_corpus_length"`
	// MaxOutputLength is the largest number of characters generated after the seed.
	MaxOutputLength int `json:"max_output_length"`
}

// DefaultLimits returns the limits used by NewGenerator.
func DefaultLimits() Limits {
	return Limits{
		MaxCorpusLength: 1 << 20,
		MaxOutputLength: 100_000,
	}
}

// Generator builds transition tables and runs generation requests against them.
// It holds no per-request state, so one Generator can serve concurrent callers.
type Generator struct {
	cache  *TableCache
	limits Limits
	logger *slog.Logger
	mu     sync.RWMutex
}

// Option configures a Generator.
type Option func(*Generator)

// WithCache makes the Generator reuse tables built for the same text and order.
func WithCache(cache *TableCache) Option {
	return func(g *Generator) { g.cache = cache }
}

// WithLimits replaces the default request limits.
func WithLimits(limits Limits) Option {
	return func(g *Generator) { g.limits = limits }
}

// NewGenerator returns a Generator with DefaultLimits and no table cache.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		limits: DefaultLimits(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetLogger sets the logger for the Generator. By default, all logs are discarded.
func (g *Generator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Limits returns the limits currently applied to requests.
func (g *Generator) Limits() Limits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

// SetLimits replaces the request limits. Requests already running are unaffected.
func (g *Generator) SetLimits(limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = limits
}

// Cache returns the table cache, or nil if the Generator was built without one.
func (g *Generator) Cache() *TableCache {
	return g.cache
}

// generateOptions holds the per-call settings for Generate and GenerateStream.
type generateOptions struct {
	rng    *rand.Rand
	seed   uint64
	seeded bool
}

// GenerateOption configures a single generation call.
type GenerateOption func(*generateOptions)

// WithRand uses rng for the start position and every character draw. A
// *rand.Rand is not safe for concurrent use, so do not share one across calls
// running at the same time.
func WithRand(rng *rand.Rand) GenerateOption {
	return func(o *generateOptions) { o.rng = rng }
}

// WithSeed seeds a private PCG source, making the output reproducible.
func WithSeed(seed uint64) GenerateOption {
	return func(o *generateOptions) {
		o.seed = seed
		o.seeded = true
	}
}

func (o *generateOptions) source() *rand.Rand {
	switch {
	case o.rng != nil:
		return o.rng
	case o.seeded:
		return rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	default:
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}

// BuildTable returns the order-k table for text, from the cache when one is
// configured. Corpus limits are enforced here.
func (g *Generator) BuildTable(ctx context.Context, text string, k int) (*Table, error) {
	return g.table(ctx, []rune(text), text, k)
}

func (g *Generator) table(ctx context.Context, corpus []rune, text string, k int) (*Table, error) {
	if err := validateCorpus(corpus, k); err != nil {
		return nil, err
	}
	limits := g.Limits()
	if limits.MaxCorpusLength > 0 && len(corpus) > limits.MaxCorpusLength {
		return nil, fmt.Errorf("%w: corpus length %d exceeds limit %d", ErrInvalidParameter, len(corpus), limits.MaxCorpusLength)
	}

	if g.cache == nil {
		return buildRunes(corpus, k)
	}

	key := newCacheKey(text, k)
	if t, ok := g.cache.get(key); ok {
		g.logger.DebugContext(ctx, "Table cache hit", slog.Int("order", k), slog.Int("corpus_length", len(corpus)))
		return t, nil
	}
	t, err := buildRunes(corpus, k)
	if err != nil {
		return nil, err
	}
	g.cache.add(key, t)
	return t, nil
}

// run is the state of one generation request. The current context is always
// the last k characters of out.
type run struct {
	table     *Table
	rng       *rand.Rand
	out       []rune
	keyBuf    []byte
	remaining int
	state     State
}

// start validates the request, builds the table and picks the seed context.
func (g *Generator) start(ctx context.Context, text string, k, length int, opts []GenerateOption) (*run, error) {
	options := &generateOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if length < 0 {
		return nil, fmt.Errorf("%w: output length must not be negative, got %d", ErrInvalidParameter, length)
	}
	if limit := g.Limits().MaxOutputLength; limit > 0 && length > limit {
		return nil, fmt.Errorf("%w: output length %d exceeds limit %d", ErrInvalidParameter, length, limit)
	}

	corpus := []rune(text)
	table, err := g.table(ctx, corpus, text, k)
	if err != nil {
		return nil, err
	}

	rng := options.source()
	// Start index in [0, len(corpus)-k-1].
	offset := rng.IntN(len(corpus) - k)
	out := make([]rune, k, k+length)
	copy(out, corpus[offset:offset+k])

	r := &run{
		table:     table,
		rng:       rng,
		out:       out,
		remaining: length,
		state:     StateSeeded,
	}
	if length == 0 {
		r.state = StateDone
	}
	return r, nil
}

// step samples one character, appends it, and advances the window.
func (r *run) step() (rune, error) {
	r.keyBuf = appendKey(r.keyBuf[:0], r.out[len(r.out)-r.table.order:])
	tr, ok := r.table.chains[string(r.keyBuf)]
	if !ok {
		r.state = StateFailed
		return 0, fmt.Errorf("%w: %q after %d characters", ErrContextNotFound, string(r.keyBuf), len(r.out))
	}

	c := tr.sample(r.rng)
	r.out = append(r.out, c)
	r.remaining--
	if r.remaining == 0 {
		r.state = StateDone
	} else {
		r.state = StateGenerating
	}
	return c, nil
}

// seed returns the initial context.
func (r *run) seed() string {
	return string(r.out[:r.table.order])
}

// GenerateSequence trains an order-k table on text and produces length characters
// after a seed context chosen uniformly from the text. The result is the seed
// followed by the generated characters, k+length characters in total.
func (g *Generator) GenerateSequence(ctx context.Context, text string, k, length int, opts ...GenerateOption) ([]rune, error) {
	// ctx is polled every checkInterval steps.
	const checkInterval = 256

	r, err := g.start(ctx, text, k, length, opts)
	if err != nil {
		return nil, err
	}

	for i := 0; r.remaining > 0; i++ {
		if i%checkInterval == 0 {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
		}
		if _, err = r.step(); err != nil {
			g.logger.ErrorContext(ctx, "Generation failed",
				slog.Int("order", k),
				slog.Int("generated_length", len(r.out)-k),
				slog.Any("error", err),
			)
			return nil, err
		}
	}

	g.logger.DebugContext(ctx, "Generation completed",
		slog.Int("order", k),
		slog.Int("contexts", r.table.Len()),
		slog.Int("generated_length", length),
	)
	return r.out, nil
}

// Generate is GenerateSequence joined into a single string.
func (g *Generator) Generate(ctx context.Context, text string, k, length int, opts ...GenerateOption) (string, error) {
	seq, err := g.GenerateSequence(ctx, text, k, length, opts...)
	if err != nil {
		return "", err
	}
	return Join(seq), nil
}

// Join concatenates a generated sequence into a string, in order, with no
// separators.
func Join(seq []rune) string {
	return string(seq)
}
