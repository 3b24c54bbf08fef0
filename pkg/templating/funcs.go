package templating

import (
	"strings"
	"unicode/utf8"
)

// lines splits generated text on newlines for display, capped at
// MaxDisplayLines. Windows line endings are reduced to plain newlines first.
func (tm *TemplateManager) lines(s string) []string {
	tm.mu.RLock()
	limit := tm.config.MaxDisplayLines
	tm.mu.RUnlock()

	out := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// truncate shortens s to at most n characters, appending the configured suffix
// when anything was cut.
func (tm *TemplateManager) truncate(n int, s string) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	tm.mu.RLock()
	suffix := tm.config.TruncateSuffix
	tm.mu.RUnlock()
	return string([]rune(s)[:n]) + suffix
}

// siteTitle returns the configured site title.
func (tm *TemplateManager) siteTitle() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.config.SiteTitle
}

// nonEmpty reports whether s has any non-whitespace content.
func nonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}

// inc returns i + 1, for one-based line numbers.
func inc(i int) int {
	return i + 1
}

// add returns a + b.
func add(a, b int) int {
	return a + b
}
