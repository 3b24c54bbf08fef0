package markov

import (
	"fmt"
	"slices"
	"sort"
	"unicode/utf8"
)

// Table is a transition table of a fixed order k. It maps every k-character
// context observed in a corpus to the characters that followed it and how often.
// A Table is immutable once built and is safe for concurrent readers.
type Table struct {
	order  int
	chains map[string]*Transitions
}

// Transitions holds the successors observed after a single context, sorted by
// character, along with their running totals for weighted selection.
type Transitions struct {
	chars      []rune
	counts     []int
	cumulative []int
}

// Build scans text as a circular corpus and returns the order-k transition table.
// The first k characters are appended to the end of the text before scanning, so
// every character of the original text, including the last k, has a context.
// Lengths are measured in characters (runes), not bytes.
func Build(text string, k int) (*Table, error) {
	return buildRunes([]rune(text), k)
}

func buildRunes(corpus []rune, k int) (*Table, error) {
	if err := validateCorpus(corpus, k); err != nil {
		return nil, err
	}

	extended := make([]rune, len(corpus)+k)
	copy(extended, corpus)
	copy(extended[len(corpus):], corpus[:k])

	counts := make(map[string]map[rune]int)
	var keyBuf []byte
	// len(extended)-k == len(corpus): one window per original character.
	for i := 0; i < len(corpus); i++ {
		keyBuf = appendKey(keyBuf[:0], extended[i:i+k])
		next := extended[i+k]

		successors, ok := counts[string(keyBuf)]
		if !ok {
			successors = make(map[rune]int)
			counts[string(keyBuf)] = successors
		}
		successors[next]++
	}

	chains := make(map[string]*Transitions, len(counts))
	for key, successors := range counts {
		chains[key] = newTransitions(successors)
	}

	return &Table{order: k, chains: chains}, nil
}

func newTransitions(successors map[rune]int) *Transitions {
	chars := make([]rune, 0, len(successors))
	for r := range successors {
		chars = append(chars, r)
	}
	slices.Sort(chars)

	tr := &Transitions{
		chars:      chars,
		counts:     make([]int, len(chars)),
		cumulative: make([]int, len(chars)),
	}
	running := 0
	for i, r := range chars {
		running += successors[r]
		tr.counts[i] = successors[r]
		tr.cumulative[i] = running
	}
	return tr
}

// validateCorpus checks the order against a corpus measured in characters.
func validateCorpus(corpus []rune, k int) error {
	if len(corpus) == 0 {
		return ErrEmptyCorpus
	}
	if k <= 0 {
		return fmt.Errorf("%w: order must be positive, got %d", ErrInvalidParameter, k)
	}
	if k >= len(corpus) {
		return fmt.Errorf("%w: order %d must be less than corpus length %d", ErrInvalidParameter, k, len(corpus))
	}
	return nil
}

// appendKey encodes a window of characters as UTF-8 onto buf.
func appendKey(buf []byte, window []rune) []byte {
	for _, r := range window {
		buf = utf8.AppendRune(buf, r)
	}
	return buf
}

// Order returns k, the number of characters in every context of the table.
func (t *Table) Order() int {
	return t.order
}

// Len returns the number of distinct contexts in the table.
func (t *Table) Len() int {
	return len(t.chains)
}

// Next returns the successors observed after context, or false if the context
// never occurred in the corpus.
func (t *Table) Next(context string) (*Transitions, bool) {
	tr, ok := t.chains[context]
	return tr, ok
}

// Counts returns a copy of the successor counts for context. The map is nil if
// the context is not in the table.
func (t *Table) Counts(context string) map[rune]int {
	tr, ok := t.chains[context]
	if !ok {
		return nil
	}
	out := make(map[rune]int, len(tr.chars))
	for i, r := range tr.chars {
		out[r] = tr.counts[i]
	}
	return out
}

// Contexts returns every context in the table in sorted order.
func (t *Table) Contexts() []string {
	keys := make([]string, 0, len(t.chains))
	for key := range t.chains {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Total returns the number of observations recorded for the context.
func (tr *Transitions) Total() int {
	if len(tr.cumulative) == 0 {
		return 0
	}
	return tr.cumulative[len(tr.cumulative)-1]
}

// Len returns the number of distinct successor characters.
func (tr *Transitions) Len() int {
	return len(tr.chars)
}

// Count returns how many times r followed the context.
func (tr *Transitions) Count(r rune) int {
	i, found := slices.BinarySearch(tr.chars, r)
	if !found {
		return 0
	}
	return tr.counts[i]
}

// Chars returns the successor characters in ascending order.
func (tr *Transitions) Chars() []rune {
	return slices.Clone(tr.chars)
}

// pick maps n in [0, Total()) onto a successor, so that each character owns a
// share of the range equal to its count.
func (tr *Transitions) pick(n int) rune {
	i := sort.SearchInts(tr.cumulative, n+1)
	return tr.chars[i]
}
