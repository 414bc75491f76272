package parser

import (
	"fmt"

	"github.com/brunobiangulo/goobj/pool"
)

// Registry maps a file format to the parallel parser for it. The
// reference parser is available for every registered format through
// GetMethod.
type Registry struct {
	parsers   map[string]Parser
	reference Parser
}

// NewRegistry registers the built-in parsers; parallel parsers run on p.
func NewRegistry(p *pool.Pool) *Registry {
	r := &Registry{
		parsers:   make(map[string]Parser),
		reference: ReferenceParser{},
	}
	obj := NewOBJParser(p)
	for _, f := range obj.SupportedFormats() {
		r.parsers[f] = obj
	}
	return r
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// GetMethod returns the parser for format using method; an empty method
// selects MethodParallel.
func (r *Registry) GetMethod(format, method string) (Parser, error) {
	p, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	switch method {
	case "", MethodParallel:
		return p, nil
	case MethodReference:
		return r.reference, nil
	}
	return nil, fmt.Errorf("%w: parse method %q", ErrUnsupportedFormat, method)
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// Formats returns the registered formats.
func (r *Registry) Formats() []string {
	formats := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		formats = append(formats, f)
	}
	return formats
}
