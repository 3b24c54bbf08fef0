package markov

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateZeroLength(t *testing.T) {
	g := NewGenerator()
	ctx := context.Background()

	for seed := uint64(0); seed < 20; seed++ {
		output, err := g.Generate(ctx, testLyrics, 5, 0, WithSeed(seed))
		require.NoError(t, err)
		assert.Equal(t, 5, utf8.RuneCountInString(output))
		assert.Contains(t, testLyrics, output, "seed context must come from the corpus")
	}
}

func TestGenerateLength(t *testing.T) {
	g := NewGenerator()
	ctx := context.Background()

	testCases := []struct {
		name   string
		text   string
		k      int
		length int
	}{
		{name: "Lyrics order 5", text: testLyrics, k: 5, length: 1000},
		{name: "Lyrics order 10", text: testLyrics, k: 10, length: 400},
		{name: "Order 1", text: "hello world", k: 1, length: 50},
		{name: "Multibyte characters", text: "ça va, ça va très bien — ünïcödé", k: 2, length: 300},
		{name: "Order one less than text", text: "abcd", k: 3, length: 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seq, err := g.GenerateSequence(ctx, tc.text, tc.k, tc.length, WithSeed(1))
			require.NoError(t, err)
			assert.Len(t, seq, tc.k+tc.length)

			output, err := g.Generate(ctx, tc.text, tc.k, tc.length, WithSeed(1))
			require.NoError(t, err)
			assert.Equal(t, tc.k+tc.length, utf8.RuneCountInString(output))
			assert.Equal(t, Join(seq), output)
		})
	}
}

func TestGenerateFollowsTable(t *testing.T) {
	g := NewGenerator()
	const k = 4

	table, err := Build(testLyrics, k)
	require.NoError(t, err)

	seq, err := g.GenerateSequence(context.Background(), testLyrics, k, 2000, WithSeed(99))
	require.NoError(t, err)

	for i := 0; i+k < len(seq); i++ {
		window := string(seq[i : i+k])
		counts := table.Counts(window)
		require.NotNil(t, counts, "window %q at %d is not a context", window, i)
		assert.Positive(t, counts[seq[i+k]], "%q never followed %q in the corpus", seq[i+k], window)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	g := NewGenerator()
	ctx := context.Background()

	a, err := g.Generate(ctx, testLyrics, 3, 500, WithSeed(1234))
	require.NoError(t, err)
	b, err := g.Generate(ctx, testLyrics, 3, 500, WithSeed(1234))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := g.Generate(ctx, testLyrics, 3, 500, WithRand(seededRand(5)))
	require.NoError(t, err)
	d, err := g.Generate(ctx, testLyrics, 3, 500, WithRand(seededRand(5)))
	require.NoError(t, err)
	assert.Equal(t, c, d)
}

func TestGeneratePeriodicCorpus(t *testing.T) {
	g := NewGenerator()
	ctx := context.Background()
	const text = "abcabcabc"

	valid := map[string]bool{
		"abcabcabc": true,
		"bcabcabca": true,
		"cabcabcab": true,
	}

	for seed := uint64(0); seed < 30; seed++ {
		output, err := g.Generate(ctx, text, 3, 6, WithSeed(seed))
		require.NoError(t, err)
		assert.True(t, valid[output], "unexpected output %q for seed %d", output, seed)
	}
}

func TestGenerateErrors(t *testing.T) {
	g := NewGenerator(WithLimits(Limits{MaxCorpusLength: 64, MaxOutputLength: 100}))
	ctx := context.Background()

	testCases := []struct {
		name   string
		text   string
		k      int
		length int
		want   error
	}{
		{name: "Empty corpus", text: "", k: 5, length: 10, want: ErrEmptyCorpus},
		{name: "Order not less than text", text: "ab", k: 5, length: 10, want: ErrInvalidParameter},
		{name: "Zero order", text: "abcdef", k: 0, length: 10, want: ErrInvalidParameter},
		{name: "Negative length", text: "abcdef", k: 2, length: -1, want: ErrInvalidParameter},
		{name: "Output over limit", text: "abcdef", k: 2, length: 101, want: ErrInvalidParameter},
		{name: "Corpus over limit", text: strings.Repeat("a", 65), k: 2, length: 10, want: ErrInvalidParameter},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			output, err := g.Generate(ctx, tc.text, tc.k, tc.length)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, output)
		})
	}
}

func TestGenerateUnlimited(t *testing.T) {
	g := NewGenerator(WithLimits(Limits{}))
	output, err := g.Generate(context.Background(), "abcdef", 2, 200_000, WithSeed(1))
	require.NoError(t, err)
	assert.Equal(t, 200_002, utf8.RuneCountInString(output))
}

func TestGenerateCancelled(t *testing.T) {
	g := NewGenerator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, testLyrics, 3, 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateUsesCache(t *testing.T) {
	g := newTestGenerator(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Generate(ctx, testLyrics, 5, 100)
		require.NoError(t, err)
	}
	_, err := g.Generate(ctx, testLyrics, 6, 100)
	require.NoError(t, err)

	stats := g.Cache().Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestSetLimits(t *testing.T) {
	g := NewGenerator()
	assert.Equal(t, DefaultLimits(), g.Limits())

	g.SetLimits(Limits{MaxOutputLength: 10})
	_, err := g.Generate(context.Background(), testLyrics, 3, 11)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "seeded", StateSeeded.String())
	assert.Equal(t, "generating", StateGenerating.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "", Join(nil))
	assert.Equal(t, "héllo\nworld", Join([]rune("héllo\nworld")))
}

func BenchmarkGenerate(b *testing.B) {
	corpus := createBenchmarkCorpus()
	ctx := context.Background()
	g := newTestGenerator(b)

	for _, order := range []int{3, 5, 10} {
		b.Run(fmt.Sprintf("Order%d", order), func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s, err := g.Generate(ctx, corpus, order, 4000)
				if err != nil {
					b.Fatalf("Generate() failed: %v", err)
				}
				b.SetBytes(int64(len(s)))
			}
		})
	}
}
