package templating

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// SiteTitle is shown in page titles and headers through the siteTitle function.
	SiteTitle string `json:"site_title"`

	// MaxDisplayLines caps how many lines the lines function returns, so a very
	// long generation cannot produce an unbounded page. Zero means no cap.
	MaxDisplayLines int `json:"max_display_lines"`

	// TruncateSuffix is appended by truncate when it shortens a string.
	TruncateSuffix string `json:"truncate_suffix"`
}

// DefaultConfig returns a TemplateConfig with safe default values.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		SiteTitle:       "Lyrebird",
		MaxDisplayLines: 500,
		TruncateSuffix:  "…",
	}
}
