package markov

import (
	"fmt"
	"math/rand/v2"
)

// Sample draws the character that follows context, with each candidate weighted
// by the number of times it was observed after that context. A nil rng uses the
// process-wide source from math/rand/v2.
//
// Unseen contexts are an error; there is no smoothing or uniform fallback.
func Sample(t *Table, context string, rng *rand.Rand) (rune, error) {
	tr, ok := t.chains[context]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrContextNotFound, context)
	}
	return tr.sample(rng), nil
}

func (tr *Transitions) sample(rng *rand.Rand) rune {
	if len(tr.chars) == 1 {
		return tr.chars[0]
	}
	var n int
	if rng != nil {
		n = rng.IntN(tr.Total())
	} else {
		n = rand.IntN(tr.Total())
	}
	return tr.pick(n)
}
