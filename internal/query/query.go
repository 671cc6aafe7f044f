// Package query implements the Language Query Services (spec.md §4.9,
// component C9): position-addressed lookups over a compiled Module plus
// the symbol index, backing hover, go-to-definition/references, and
// completion.
//
// Grounded on the teacher's pattern of small, single-purpose service
// types wrapping a shared data source (provider/internal/java's
// filter/snipper helpers operating over parsed Java metadata) rather
// than one monolithic service object.
package query

import (
	"sort"
	"strings"

	"github.com/groovy-lsp/glsp/internal/compiler"
	"github.com/groovy-lsp/glsp/internal/groovyast"
	"github.com/groovy-lsp/glsp/internal/symbolindex"
)

// ASTService answers position-addressed questions about one compiled
// Module (spec.md §4.9, item 1).
type ASTService struct {
	Module *groovyast.Module
}

// FindNodeAtPosition returns the smallest declaration node whose span
// contains (line, col), or nil if none does (spec.md §4.9, item 1: "ties
// broken by smallest span").
func (s *ASTService) FindNodeAtPosition(line, col int) *groovyast.Node {
	var best *groovyast.Node
	for _, decl := range s.Module.Decls {
		if found := findInNode(decl, line, col); found != nil {
			if best == nil || found.Span.Size() < best.Span.Size() {
				best = found
			}
		}
	}
	return best
}

// FindUsageAtPosition returns the type usage (an extends/implements
// clause, a declared type, or a "new Type(...)" call) whose span
// contains (line, col), or nil if the position falls on a declaration
// rather than a usage (spec.md §4.9, item 2, scenario 4: clicking a
// usage of a type jumps to its declaration in another file).
func (s *ASTService) FindUsageAtPosition(line, col int) *groovyast.Usage {
	for i := range s.Module.Usages {
		if s.Module.Usages[i].Span.Contains(line, col) {
			return &s.Module.Usages[i]
		}
	}
	return nil
}

func findInNode(n *groovyast.Node, line, col int) *groovyast.Node {
	if !n.Span.Contains(line, col) {
		return nil
	}
	best := n
	for _, child := range n.Children {
		if found := findInNode(child, line, col); found != nil {
			if found.Span.Size() < best.Span.Size() {
				best = found
			}
		}
	}
	return best
}

// SourceLoader supplies the current text of an indexed file so
// ReferenceFinder can compile candidate files when resolving usages back
// to their declaration (spec.md §4.9, item 2, steps (b)/(c)). Backed in
// production by the open-document store falling back to disk, since a
// candidate file need not be open in the editor to hold a reference.
type SourceLoader interface {
	Load(uri string) (text string, version int, err error)
}

// ReferenceFinder locates every occurrence of a symbol across the
// workspace: both declarations sharing its simple name (via the
// persisted symbol index) and usage sites - extends/implements
// clauses, declared types, and "new Type(...)" calls - found by
// compiling and AST-walking every indexed file (spec.md §4.9, item
// 2). Compiler and Loader are optional; a nil Compiler or Loader yields
// the index-only behavior (re-declarations alone).
type ReferenceFinder struct {
	Store    *symbolindex.Store
	Compiler *compiler.Compiler
	Loader   SourceLoader
}

// Reference is one located occurrence of a symbol.
type Reference struct {
	URI  string
	Span groovyast.Span
}

// FindReferences returns every indexed declaration (step a) and, when a
// Compiler and Loader are attached, every usage site in every
// indexed file (steps b/c) whose name resolves to the same type: since
// the parser records declarations by fully-qualified name but usages by
// the bare name written at the call site (no import resolution is
// attempted), both passes match on simple (last dot-segment) name rather
// than full equality - so a click on a usage can be given either form
// and still find its declaration, and vice versa (spec.md §4.9, item 2).
func (f *ReferenceFinder) FindReferences(name string) ([]Reference, error) {
	want := simpleName(name)

	allSymbols, err := f.Store.PrefixSearch("")
	if err != nil {
		return nil, err
	}
	var refs []Reference
	for _, sym := range allSymbols {
		if simpleName(sym.Name) != want {
			continue
		}
		refs = append(refs, Reference{URI: sym.URI, Span: sym.Span})
	}

	if f.Compiler != nil && f.Loader != nil {
		files, err := f.Store.Files()
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			text, version, err := f.Loader.Load(file.URI)
			if err != nil {
				continue
			}
			result, err := f.Compiler.Compile(file.URI, version, text, compiler.PhaseParse)
			if err != nil || result.Module == nil {
				continue
			}
			for _, u := range result.Module.Usages {
				if simpleName(u.Name) != want {
					continue
				}
				refs = append(refs, Reference{URI: file.URI, Span: u.Span})
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].URI != refs[j].URI {
			return refs[i].URI < refs[j].URI
		}
		return refs[i].Span.StartLine < refs[j].Span.StartLine
	})
	return refs, nil
}

// simpleName returns the last dot-separated segment of a dotted name.
func simpleName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// HoverProvider renders a short description of the declaration at a
// position (spec.md §4.9, item 3).
type HoverProvider struct{}

// Hover describes the node at a position, or ok=false if no declaration
// covers it.
func (HoverProvider) Hover(ast *ASTService, line, col int) (text string, ok bool) {
	node := ast.FindNodeAtPosition(line, col)
	if node == nil {
		return "", false
	}
	return renderHover(node), true
}

func renderHover(n *groovyast.Node) string {
	var b strings.Builder
	b.WriteString(n.Kind.String())
	b.WriteString(" ")
	b.WriteString(n.QualifiedName)
	if n.DeclaredType != "" {
		b.WriteString(": ")
		b.WriteString(n.DeclaredType)
	}
	if len(n.Params) > 0 {
		b.WriteString("(")
		for i, p := range n.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			if p.Type != "" {
				b.WriteString(p.Type)
				b.WriteString(" ")
			}
			b.WriteString(p.Name)
		}
		b.WriteString(")")
	}
	if n.DocComment != "" {
		b.WriteString("\n\n")
		b.WriteString(n.DocComment)
	}
	return b.String()
}

// CompletionItem is one candidate offered at a completion position.
type CompletionItem struct {
	Label string
	Kind  groovyast.NodeKind
	Detail string
}

// CompletionProvider offers name-prefix completions drawn from the
// workspace symbol index and the document's own in-progress declarations
// (spec.md §4.9, item 4).
type CompletionProvider struct {
	Store *symbolindex.Store
}

// Complete returns completion candidates for prefix, merging indexed
// workspace symbols with any matching declarations in the local,
// possibly-still-compiling ast (local declarations take precedence and
// are listed first, since they are more likely to be what the user
// means - spec.md §4.9, item 4).
func (c *CompletionProvider) Complete(ast *ASTService, prefix string) ([]CompletionItem, error) {
	seen := map[string]bool{}
	var items []CompletionItem

	if ast != nil && ast.Module != nil {
		for _, decl := range ast.Module.Decls {
			collectLocalCompletions(decl, prefix, &items, seen)
		}
	}

	if c.Store != nil {
		symbols, err := c.Store.PrefixSearch(prefix)
		if err != nil {
			return nil, err
		}
		for _, sym := range symbols {
			if seen[sym.Name] {
				continue
			}
			seen[sym.Name] = true
			items = append(items, CompletionItem{Label: sym.Name, Kind: sym.Kind})
		}
	}

	return items, nil
}

func collectLocalCompletions(n *groovyast.Node, prefix string, items *[]CompletionItem, seen map[string]bool) {
	if n.Kind != groovyast.KindClosure && strings.HasPrefix(n.QualifiedName, prefix) && !seen[n.QualifiedName] {
		seen[n.QualifiedName] = true
		*items = append(*items, CompletionItem{Label: n.QualifiedName, Kind: n.Kind, Detail: "local"})
	}
	for _, child := range n.Children {
		collectLocalCompletions(child, prefix, items, seen)
	}
}
