package ocr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/efebarandurmaz/docrag/internal/model"
)

// Factory builds an engine from options.
type Factory func(opts Options) (Engine, error)

// Registry maps engine names and their aliases to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	aliases   map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
	}
}

// DefaultRegistry has the classical (tesseract) and neural (easyocr) engines.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("classical", func(o Options) (Engine, error) { return NewTesseract(o), nil }, "tesseract")
	r.Register("neural", func(o Options) (Engine, error) { return NewEasyOCR(o), nil }, "easyocr")
	return r
}

func (r *Registry) Register(name string, f Factory, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	for _, a := range aliases {
		r.aliases[a] = name
	}
}

// New builds the engine registered under name or one of its aliases.
func (r *Registry) New(name string, opts Options) (Engine, error) {
	r.mu.RLock()
	key := strings.ToLower(name)
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no OCR engine named %q (known: %s)", model.ErrOCREngine, name, strings.Join(r.Names(), ", "))
	}
	return f(opts)
}

// Names lists canonical engine names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
