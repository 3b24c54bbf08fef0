package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CTAG07/Lyrebird/pkg/markov"
	"github.com/spf13/cobra"
)

var (
	genOrder     int
	genLength    int
	genSeed      uint64
	genUnlimited bool
	genVerbose   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [file]",
	Short: "Generate text from a file or stdin",
	Long: "Trains an order-k character model on the input text and prints the seed context " +
		"followed by the generated characters. Reads stdin when no file (or '-') is given.",
	Args: cobra.MaximumNArgs(1),
	RunE: runGenerate,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Print transition table statistics as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAnalyze,
}

func init() {
	for _, c := range []*cobra.Command{generateCmd, analyzeCmd} {
		c.Flags().IntVarP(&genOrder, "order", "k", DefaultEngineConfig().DefaultOrder, "context length in characters")
		c.Flags().BoolVar(&genUnlimited, "unlimited", false, "disable the corpus and output length limits")
		c.Flags().BoolVarP(&genVerbose, "verbose", "v", false, "log debug output to stderr")
	}
	generateCmd.Flags().IntVarP(&genLength, "length", "n", 1000, "number of characters to generate after the seed")
	generateCmd.Flags().Uint64Var(&genSeed, "seed", 0, "random seed for reproducible output")
}

// readInput reads the named file, or stdin for "" and "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to open input: %w", err)
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func newCLIGenerator(cmd *cobra.Command) *markov.Generator {
	limits := markov.DefaultLimits()
	if genUnlimited {
		limits = markov.Limits{}
	}
	gen := markov.NewGenerator(markov.WithLimits(limits))
	if genVerbose {
		gen.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	return gen
}

func runGenerate(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	var opts []markov.GenerateOption
	if cmd.Flags().Changed("seed") {
		opts = append(opts, markov.WithSeed(genSeed))
	}

	output, err := newCLIGenerator(cmd).Generate(cmd.Context(), text, genOrder, genLength, opts...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
	return err
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	table, err := newCLIGenerator(cmd).BuildTable(cmd.Context(), text, genOrder)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(table.Stats())
}
