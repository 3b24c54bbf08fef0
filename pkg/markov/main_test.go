package markov

import (
	"go/build"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

const testLyrics = `I've been walking down this road so long
I've been singing the same old song
and the road keeps walking on and on
and the song keeps singing, singing on
`

// newTestGenerator returns a Generator with a small table cache.
func newTestGenerator(t testing.TB) *Generator {
	t.Helper()
	cache, err := NewTableCache(8)
	require.NoError(t, err)
	return NewGenerator(WithCache(cache))
}

// seededRand returns a deterministic source for tests that need one directly.
func seededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

// circularOccurrences counts how often window appears in text when the first k
// characters are appended to the end, i.e. over the positions Build scans.
func circularOccurrences(text, window string) int {
	corpus := []rune(text)
	k := utf8.RuneCountInString(window)
	extended := string(append(append([]rune{}, corpus...), corpus[:k]...))
	ext := []rune(extended)
	count := 0
	for i := 0; i < len(corpus); i++ {
		if string(ext[i:i+k]) == window {
			count++
		}
	}
	return count
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = strings.Repeat(testLyrics, 200)
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}
