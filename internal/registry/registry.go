// Package registry manages the set of template descriptors for a
// generation run. The registry is a pure data holder: templates are
// loaded once per process and are effectively static afterwards.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	stencilerrors "github.com/stencilkit/stencil/internal/errors"
	"github.com/stencilkit/stencil/internal/types"
)

// TemplateRegistry holds all registered templates keyed by ID.
type TemplateRegistry struct {
	templates map[string]*types.Template
	mu        sync.RWMutex
}

// NewTemplateRegistry creates an empty registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		templates: make(map[string]*types.Template),
	}
}

// Register adds a template. Registering a duplicate ID is an error:
// identity is ID and uniqueness is an invariant enforced at load time.
func (r *TemplateRegistry) Register(tmpl *types.Template) error {
	if tmpl == nil || tmpl.ID == "" {
		return stencilerrors.NewValidationError(
			stencilerrors.ErrCodeInvalidTemplate, "template must have a non-empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[tmpl.ID]; exists {
		return stencilerrors.NewValidationError(
			stencilerrors.ErrCodeDuplicateTemplate,
			fmt.Sprintf("template %q is already registered", tmpl.ID)).WithTemplate(tmpl.ID)
	}

	r.templates[tmpl.ID] = tmpl
	return nil
}

// Get retrieves a template by ID.
func (r *TemplateRegistry) Get(id string) (*types.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[id]
	return tmpl, ok
}

// Has reports whether a template with the given ID is registered.
func (r *TemplateRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[id]
	return ok
}

// All returns the registered templates sorted by ID for deterministic
// iteration.
func (r *TemplateRegistry) All() []*types.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Template, 0, len(r.templates))
	for _, tmpl := range r.templates {
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered templates.
func (r *TemplateRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// Manifest is the on-disk template manifest format.
type Manifest struct {
	Templates []ManifestEntry `yaml:"templates"`
}

// ManifestEntry describes one template in a manifest.
type ManifestEntry struct {
	ID         string   `yaml:"id"`
	DependsOn  []string `yaml:"depends_on"`
	TargetPath string   `yaml:"target_path"`
	Format     string   `yaml:"format"`
	Source     string   `yaml:"source"`
	Renderer   string   `yaml:"renderer"`
}

// LoadManifest parses a YAML manifest, reads each template's source,
// resolves renderer references through the resolver, and registers the
// resulting templates. Resolution happens here, once, so no string-keyed
// dispatch remains at render time.
func (r *TemplateRegistry) LoadManifest(path string, resolver types.RendererResolver) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for _, entry := range manifest.Templates {
		tmpl, err := entry.toTemplate(baseDir, resolver)
		if err != nil {
			return err
		}
		if err := r.Register(tmpl); err != nil {
			return err
		}
	}
	return nil
}

func (e ManifestEntry) toTemplate(baseDir string, resolver types.RendererResolver) (*types.Template, error) {
	if e.ID == "" {
		return nil, stencilerrors.NewValidationError(
			stencilerrors.ErrCodeInvalidTemplate, "manifest entry is missing an id")
	}
	if e.Renderer == "" {
		return nil, stencilerrors.NewValidationError(
			stencilerrors.ErrCodeInvalidTemplate,
			fmt.Sprintf("template %q has no renderer reference", e.ID)).WithTemplate(e.ID)
	}

	renderer, err := resolver.Resolve(e.Renderer)
	if err != nil {
		return nil, stencilerrors.NewValidationError(
			stencilerrors.ErrCodeInvalidTemplate,
			fmt.Sprintf("template %q: unresolvable renderer %q: %v", e.ID, e.Renderer, err)).WithTemplate(e.ID)
	}

	sourcePath := e.Source
	var source []byte
	if sourcePath != "" {
		if !filepath.IsAbs(sourcePath) {
			sourcePath = filepath.Join(baseDir, sourcePath)
		}
		source, err = os.ReadFile(sourcePath)
		if err != nil {
			return nil, fmt.Errorf("template %q: failed to read source: %w", e.ID, err)
		}
	}

	return &types.Template{
		ID:                e.ID,
		DependsOn:         append([]string(nil), e.DependsOn...),
		TargetPathPattern: e.TargetPath,
		Format:            types.ParseFormat(e.Format),
		SourcePath:        sourcePath,
		Source:            source,
		Renderer:          renderer,
	}, nil
}
