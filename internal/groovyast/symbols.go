package groovyast

// SymbolKind is an alias of NodeKind for the symbols extracted from a
// Module: every declaration Node yields one Symbol of the same kind
// (spec.md §4.5, item 5).
type SymbolKind = NodeKind

// Symbol is one indexable name extracted from a parsed Module: either a
// top-level type ("fq_name") or a member ("fq_name.member"), per spec.md
// §4.5 item 5 and §4.6 (Symbol Index).
type Symbol struct {
	Name string
	Kind SymbolKind
	URI  string
	Span Span
}

// ExtractSymbols walks mod's declaration forest and returns every
// indexable Symbol: class-like types and their members, plus closures
// discovered in method bodies, emitted as CLOSURE symbols tied to their
// enclosing method's line via EnclosingMethodLine (spec.md §4.5, item 5).
func ExtractSymbols(mod *Module) []Symbol {
	var out []Symbol
	for _, decl := range mod.Decls {
		collectSymbols(decl, mod.URI, &out)
	}
	return out
}

func collectSymbols(n *Node, uri string, out *[]Symbol) {
	*out = append(*out, Symbol{Name: n.QualifiedName, Kind: n.Kind, URI: uri, Span: n.Span})
	for _, child := range n.Children {
		collectSymbols(child, uri, out)
	}
}
