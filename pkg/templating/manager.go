package templating

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ErrTemplateNotFound is returned by Execute for a name that is not loaded.
var ErrTemplateNotFound = errors.New("templating: template not found")

// TemplateManager is the central controller for the templating engine.
// It manages the template set, configuration and function map, and is
// responsible for loading, parsing, and executing templates.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger        *slog.Logger
	config        *TemplateConfig
	templates     *template.Template
	templateNames []string
	funcMap       template.FuncMap
	templateDir   string
	mu            sync.RWMutex
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager.
// dataDir must contain a "templates" subdirectory. It performs an initial
// Refresh and fails if the templates do not parse.
func NewTemplateManager(logger *slog.Logger, config *TemplateConfig, dataDir string) (*TemplateManager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	tm := &TemplateManager{
		logger:      logger,
		config:      config,
		templateDir: filepath.Join(dataDir, "templates"),
	}
	tm.funcMap = tm.makeFuncMap()

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized", "template_dir", tm.templateDir)
	return tm, nil
}

func (tm *TemplateManager) makeFuncMap() template.FuncMap {
	return template.FuncMap{
		"lines":     tm.lines,
		"truncate":  tm.truncate,
		"siteTitle": tm.siteTitle,
		"nonEmpty":  nonEmpty,
		"inc":       inc,
		"add":       add,
	}
}

// SetConfig applies a new configuration without reloading templates.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	if config == nil {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = config
}

// Config returns a copy of the current configuration.
func (tm *TemplateManager) Config() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// Refresh reloads all templates and partials from the filesystem. On a parse
// error the previously loaded set stays in place.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	filePattern := filepath.Join(tm.templateDir, "*.tmpl.html")
	parsed, err := template.New("").Funcs(tm.funcMap).ParseGlob(filePattern)
	var names []string
	if err != nil {
		if !strings.Contains(err.Error(), "pattern matches no files") {
			tm.logger.Error("failed to parse template files", "error", err)
			return fmt.Errorf("failed to parse templates in %s: %w", tm.templateDir, err)
		}
		parsed = template.New("").Funcs(tm.funcMap)
	} else {
		for _, t := range parsed.Templates() {
			if strings.HasSuffix(t.Name(), ".tmpl.html") {
				names = append(names, t.Name())
			}
		}
	}

	partialPattern := filepath.Join(tm.templateDir, "*.part.html")
	withPartials, err := parsed.ParseGlob(partialPattern)
	if err != nil {
		if !strings.Contains(err.Error(), "pattern matches no files") {
			tm.logger.Error("failed to parse partial files", "error", err)
			return fmt.Errorf("failed to parse partials in %s: %w", tm.templateDir, err)
		}
		withPartials = parsed
	}

	if len(names) == 0 {
		tm.logger.Warn("No template files found matching pattern", "pattern", filePattern)
	}
	slices.Sort(names)

	tm.templates = withPartials
	tm.templateNames = names
	tm.logger.Info("Loaded template and partial files", "pages", len(names))
	return nil
}

// Execute renders a page template by name to w.
func (tm *TemplateManager) Execute(w io.Writer, name string, data any) error {
	tm.mu.RLock()
	templates := tm.templates
	tm.mu.RUnlock()

	// Helper funcs take the read lock themselves, so execution runs unlocked on
	// the snapshot taken above.
	if templates.Lookup(name) == nil {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return templates.ExecuteTemplate(w, name, data)
}

// HasTemplate reports whether a page or partial with the given name is loaded.
func (tm *TemplateManager) HasTemplate(name string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templates.Lookup(name) != nil
}

// TemplateNames returns the sorted names of the loaded page templates.
func (tm *TemplateManager) TemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Clone(tm.templateNames)
}

// TemplateDir returns the directory the TemplateManager loads from.
func (tm *TemplateManager) TemplateDir() string {
	return tm.templateDir
}
