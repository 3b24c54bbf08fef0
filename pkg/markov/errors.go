package markov

import "errors"

var (
	// ErrInvalidParameter is returned when the order, the requested output length,
	// or the corpus size is outside the accepted range.
	ErrInvalidParameter = errors.New("markov: invalid parameter")
	// ErrEmptyCorpus is returned when the training text has no characters.
	ErrEmptyCorpus = errors.New("markov: empty corpus")
	// ErrContextNotFound is returned when a context has no entry in the table.
	// Generation only samples contexts taken from the corpus it was built from,
	// so seeing this from Generate indicates a bug rather than bad input.
	ErrContextNotFound = errors.New("markov: context not found")
)
