package markov

// TableStats holds aggregated statistics for a single transition table.
type TableStats struct {
	Order          int `json:"order"`           // The number of characters in each context
	Contexts       int `json:"contexts"`        // The number of distinct contexts
	Transitions    int `json:"transitions"`     // The number of distinct context->character links
	TotalFrequency int `json:"total_frequency"` // The sum of all counts; equals the corpus length
	MaxBranching   int `json:"max_branching"`   // The most successors seen after any one context
	Deterministic  int `json:"deterministic"`   // Contexts with exactly one possible successor
}

// Stats returns a snapshot of statistics for the table.
func (t *Table) Stats() TableStats {
	stats := TableStats{
		Order:    t.order,
		Contexts: len(t.chains),
	}
	for _, tr := range t.chains {
		n := len(tr.chars)
		stats.Transitions += n
		stats.TotalFrequency += tr.Total()
		if n > stats.MaxBranching {
			stats.MaxBranching = n
		}
		if n == 1 {
			stats.Deterministic++
		}
	}
	return stats
}
