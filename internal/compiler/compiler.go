// Package compiler implements the Incremental Compiler (spec.md §4.7,
// component C7): it turns document text into a parsed, resolved Module,
// caching the result per URI so that repeated requests against an
// unchanged version never re-parse, and publishes a DocumentChangedEvent
// on the Bus whenever a newer version of a document is compiled.
//
// Grounded on the teacher's per-worker caching style (ruleEngine's
// condition caches in engine/engine.go) and its progress-event
// publishing idiom, adapted onto an LRU front rather than an unbounded
// map since compiled Modules are retained per URI for the lifetime of a
// long-running server process (spec.md §4.7, item 3: "bounded to the N
// most recently compiled documents").
package compiler

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/groovy-lsp/glsp/internal/bus"
	"github.com/groovy-lsp/glsp/internal/groovyast"
)

// Phase is how far a compilation was asked to proceed (spec.md §4.7, item 2).
type Phase int

const (
	// PhaseParse only lexes and parses source into an AST.
	PhaseParse Phase = iota
	// PhaseResolve additionally resolves imports and class references
	// against the symbol index (not yet wired at the parse stage; callers
	// supply a Resolver to opt in).
	PhaseResolve
	// PhaseSemantic additionally runs semantic checks over the resolved tree.
	PhaseSemantic
)

// DefaultCacheSize bounds how many compiled (URI, version) Results are
// retained, across all URIs together, before the least-recently-used
// entry is evicted.
const DefaultCacheSize = 512

// Result is the discriminated compilation outcome for one document
// version (spec.md §3, "Compilation Result"): it never carries a thrown
// exception, only data plus zero or more recorded errors.
type Result struct {
	URI     string
	Version int
	Module  *groovyast.Module
	Symbols []groovyast.Symbol
	Errors  []groovyast.ParseError
	Phase   Phase
}

// Resolver resolves imports/class references during PhaseResolve and
// PhaseSemantic. Implementations may consult the symbol index and
// dependency class index; compiler does not depend on either directly.
type Resolver interface {
	Resolve(mod *groovyast.Module) []groovyast.ParseError
}

type cacheKey struct {
	uri     string
	version int
}

// Compiler caches compiled Results per URI and publishes
// bus.DocumentChangedEvent whenever a new compilation supersedes a prior
// one for the same URI.
type Compiler struct {
	mu       sync.Mutex
	cache    *lru.Cache[cacheKey, *Result]
	latest   map[string]int // uri -> most recently compiled version
	bus      *bus.Bus
	resolver Resolver
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithResolver attaches a Resolver used during PhaseResolve and
// PhaseSemantic compiles.
func WithResolver(r Resolver) Option {
	return func(c *Compiler) { c.resolver = r }
}

// New constructs a Compiler publishing document-changed events on b.
func New(b *bus.Bus, opts ...Option) (*Compiler, error) {
	cache, err := lru.New[cacheKey, *Result](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init compiler cache: %w", err)
	}
	c := &Compiler{cache: cache, latest: make(map[string]int), bus: b}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Compile compiles src for uri at version through phase, reusing a cached
// Result if one already exists for (uri, version) at a phase at least as
// deep as requested (spec.md §4.7, item 1: "re-requesting an unchanged
// version returns the cached result without recompiling").
func (c *Compiler) Compile(uri string, version int, src string, phase Phase) (*Result, error) {
	key := cacheKey{uri: uri, version: version}

	c.mu.Lock()
	if cached, ok := c.cache.Get(key); ok && cached.Phase >= phase {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	mod, errs := groovyast.Parse(uri, version, src)
	result := &Result{URI: uri, Version: version, Module: mod, Errors: errs, Phase: PhaseParse}

	if phase >= PhaseResolve && c.resolver != nil {
		result.Errors = append(result.Errors, c.resolver.Resolve(mod)...)
		result.Phase = PhaseResolve
	}
	if phase >= PhaseSemantic {
		result.Errors = append(result.Errors, checkSemantics(mod)...)
		result.Phase = PhaseSemantic
	}

	result.Symbols = groovyast.ExtractSymbols(mod)

	c.mu.Lock()
	prevVersion, hadPrev := c.latest[uri]
	supersedes := !hadPrev || version > prevVersion
	if supersedes {
		c.latest[uri] = version
	}
	c.cache.Add(key, result)
	c.mu.Unlock()

	if supersedes && c.bus != nil {
		bus.Publish(c.bus, bus.DocumentChangedEvent{
			URI: uri, Version: version, ErrorCount: len(result.Errors),
		})
	}

	return result, nil
}

// Invalidate drops every cached Result for uri, e.g. when the document
// closes and its version sequence no longer matters.
func (c *Compiler) Invalidate(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.latest, uri)
	for _, key := range c.cache.Keys() {
		if key.uri == uri {
			c.cache.Remove(key)
		}
	}
}

// checkSemantics runs the conservative semantic checks spec.md §4.7 item
// 2 calls for at PhaseSemantic: duplicate member names within one
// class-like declaration.
func checkSemantics(mod *groovyast.Module) []groovyast.ParseError {
	var errs []groovyast.ParseError
	for _, decl := range mod.Decls {
		errs = append(errs, checkDuplicateMembers(decl)...)
	}
	return errs
}

func checkDuplicateMembers(n *groovyast.Node) []groovyast.ParseError {
	var errs []groovyast.ParseError
	seen := map[string]bool{}
	for _, child := range n.Children {
		if child.Kind == groovyast.KindClosure {
			continue
		}
		key := fmt.Sprintf("%s/%d", child.Name, len(child.Params))
		if seen[key] {
			errs = append(errs, groovyast.ParseError{
				Message: fmt.Sprintf("duplicate member %q", child.Name),
				Line:    child.Span.StartLine,
				Column:  child.Span.StartCol,
				Kind:    groovyast.ErrSemantic,
			})
		}
		seen[key] = true
		errs = append(errs, checkDuplicateMembers(child)...)
	}
	return errs
}
