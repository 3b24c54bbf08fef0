package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/CTAG07/Lyrebird/pkg/markov"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag under cmd to its default and clears its
// Changed mark, so package-level commands start each run fresh.
func resetFlags(t *testing.T, cmd *cobra.Command) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(t, c)
	}
}

// executeCLI runs the root command with args and returns its stdout.
func executeCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(t, rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
		resetFlags(t, rootCmd)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGenerateCommand(t *testing.T) {
	input := filepath.Join(t.TempDir(), "lyrics.txt")
	require.NoError(t, os.WriteFile(input, []byte(testLyrics), 0644))

	out, err := executeCLI(t, "", "generate", "-k", "4", "-n", "150", "--seed", "11", input)
	require.NoError(t, err)
	output := strings.TrimSuffix(out, "\n")
	assert.Equal(t, 4+150, utf8.RuneCountInString(output))

	want, err := markov.NewGenerator().Generate(context.Background(), testLyrics, 4, 150, markov.WithSeed(11))
	require.NoError(t, err)
	assert.Equal(t, want, output)

	stdinOut, err := executeCLI(t, testLyrics, "generate", "-k", "4", "-n", "150", "--seed", "11", "-")
	require.NoError(t, err)
	assert.Equal(t, out, stdinOut)
}

func TestGenerateCommandFlagsDoNotLeak(t *testing.T) {
	_, err := executeCLI(t, testLyrics, "generate", "-k", "3", "-n", "20", "--seed", "11")
	require.NoError(t, err)
	require.True(t, generateCmd.Flags().Changed("seed"))

	out, err := executeCLI(t, testLyrics, "generate", "-n", "20")
	require.NoError(t, err)
	assert.False(t, generateCmd.Flags().Changed("seed"), "--seed from an earlier run must not carry over")
	assert.Equal(t, uint64(0), genSeed)
	assert.Equal(t, DefaultEngineConfig().DefaultOrder, genOrder)
	assert.Equal(t, 5+20, utf8.RuneCountInString(strings.TrimSuffix(out, "\n")))
}

func TestGenerateCommandErrors(t *testing.T) {
	_, err := executeCLI(t, "", "generate", "-k", "3", "-n", "10")
	assert.ErrorIs(t, err, markov.ErrEmptyCorpus)

	_, err = executeCLI(t, "", "generate", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestAnalyzeCommand(t *testing.T) {
	out, err := executeCLI(t, "xaxaxaxb", "analyze", "-k", "1")
	require.NoError(t, err)

	var stats markov.TableStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, markov.TableStats{Order: 1, Contexts: 3, Transitions: 4, TotalFrequency: 8, MaxBranching: 2, Deterministic: 2}, stats)
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCLI(t, "", "version")
	require.NoError(t, err)

	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
}
