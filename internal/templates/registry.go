// Package templates holds the per-process status state machines.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// BlockedLabel is the reserved sentinel every template carries exactly once.
const BlockedLabel = "BLOCKED"

// ErrInvalidTemplate is returned when a template definition breaks the
// contiguity or blocked-sentinel rules.
var ErrInvalidTemplate = errors.New("invalid template")

// Definitions is the on-disk form of a registry.
type Definitions struct {
	Templates map[string]map[int]string `yaml:"templates"`
	Processes []ProcessBinding          `yaml:"processes"`
}

// ProcessBinding attaches a process name to a template.
type ProcessBinding struct {
	Name     string `yaml:"name"`
	Template string `yaml:"template"`
}

// Entry is one code/label pair of a template.
type Entry struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

// Template is an immutable ordered code to label mapping.
type Template struct {
	name       string
	labels     map[int]string
	max        int
	blocked    int
	completion int
}

func newTemplate(name string, labels map[int]string) (*Template, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: %s has no codes", ErrInvalidTemplate, name)
	}

	t := &Template{name: name, labels: make(map[int]string, len(labels)), max: len(labels)}
	for code := 1; code <= t.max; code++ {
		label, ok := labels[code]
		if !ok || strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("%w: %s codes are not contiguous from 1 (missing %d)", ErrInvalidTemplate, name, code)
		}
		t.labels[code] = strings.TrimSpace(label)
		if models.Norm(label) == BlockedLabel {
			if t.blocked != 0 {
				return nil, fmt.Errorf("%w: %s has more than one %s code", ErrInvalidTemplate, name, BlockedLabel)
			}
			t.blocked = code
		}
	}
	if t.blocked == 0 {
		return nil, fmt.Errorf("%w: %s has no %s code", ErrInvalidTemplate, name, BlockedLabel)
	}

	for code := t.max; code >= 1; code-- {
		l := models.Norm(t.labels[code])
		if strings.Contains(l, "QC") && strings.Contains(l, "DONE") {
			t.completion = code
			break
		}
	}
	if t.completion == 0 {
		for code := t.max; code >= 1; code-- {
			if code != t.blocked {
				t.completion = code
				break
			}
		}
	}
	return t, nil
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Label returns the label for code.
func (t *Template) Label(code int) (string, bool) {
	l, ok := t.labels[code]
	return l, ok
}

// Codes returns all codes in ascending order.
func (t *Template) Codes() []int {
	codes := make([]int, 0, t.max)
	for code := 1; code <= t.max; code++ {
		codes = append(codes, code)
	}
	return codes
}

// Entries returns the code/label pairs in ascending code order.
func (t *Template) Entries() []Entry {
	entries := make([]Entry, 0, t.max)
	for _, code := range t.Codes() {
		entries = append(entries, Entry{Code: code, Label: t.labels[code]})
	}
	return entries
}

// Max returns the highest code.
func (t *Template) Max() int { return t.max }

// BlockedCode returns the code of the blocked sentinel.
func (t *Template) BlockedCode() int { return t.blocked }

// CompletionCode returns the highest code denoting quality-control
// completion, or the highest non-blocked code when no label does.
func (t *Template) CompletionCode() int { return t.completion }

// IsBlocked reports whether code is the blocked sentinel.
func (t *Template) IsBlocked(code int) bool { return code == t.blocked }

// Registry maps process names to their templates.
type Registry struct {
	templates map[string]*Template
	processes map[string]*Template
	names     map[string]string
	order     []string
}

// NewRegistry validates defs and builds a registry.
func NewRegistry(defs Definitions) (*Registry, error) {
	r := &Registry{
		templates: make(map[string]*Template, len(defs.Templates)),
		processes: make(map[string]*Template, len(defs.Processes)),
		names:     make(map[string]string, len(defs.Processes)),
	}

	for name, labels := range defs.Templates {
		t, err := newTemplate(name, labels)
		if err != nil {
			return nil, err
		}
		r.templates[name] = t
	}

	for _, p := range defs.Processes {
		t, ok := r.templates[p.Template]
		if !ok {
			return nil, fmt.Errorf("%w: process %q references unknown template %q", ErrInvalidTemplate, p.Name, p.Template)
		}
		key := models.Norm(p.Name)
		if key == "" {
			return nil, fmt.Errorf("%w: empty process name", ErrInvalidTemplate)
		}
		if _, dup := r.processes[key]; dup {
			return nil, fmt.Errorf("%w: process %q bound twice", ErrInvalidTemplate, p.Name)
		}
		r.processes[key] = t
		r.names[key] = p.Name
		r.order = append(r.order, p.Name)
	}
	return r, nil
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return NewRegistry(defs)
}

// Load reads a registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in templates: %v", err))
	}
	return r
}

// Template returns the template bound to a process. Unknown processes
// report false and must be treated as not editable.
func (r *Registry) Template(process string) (*Template, bool) {
	t, ok := r.processes[models.Norm(process)]
	return t, ok
}

// Resolve returns the registered spelling of a process name.
func (r *Registry) Resolve(process string) (string, bool) {
	name, ok := r.names[models.Norm(process)]
	return name, ok
}

// Processes returns the registered process names in definition order.
func (r *Registry) Processes() []string {
	return slices.Clone(r.order)
}

// CompletionCode returns the completion code for a process.
func (r *Registry) CompletionCode(process string) (int, bool) {
	t, ok := r.Template(process)
	if !ok {
		return 0, false
	}
	return t.CompletionCode(), true
}

// IsBlockedCode reports whether code is the blocked sentinel of the
// process's template.
func (r *Registry) IsBlockedCode(process string, code int) bool {
	t, ok := r.Template(process)
	return ok && t.IsBlocked(code)
}
