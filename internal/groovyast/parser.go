package groovyast

import (
	"fmt"
	"strings"
)

// declKeywords maps a leading keyword to the NodeKind of the class-like
// declaration it introduces.
var declKeywords = map[string]NodeKind{
	"class":     KindClass,
	"interface": KindInterface,
	"trait":     KindTrait,
	"enum":      KindEnum,
}

// reader walks the token stream produced by lexer and builds the AST,
// recovering from malformed input by skipping to the next recognizable
// boundary rather than aborting (spec.md §4.5, item 3: "never throw").
type reader struct {
	toks   []token
	pos    int
	errs   []ParseError
	source string
	usages []Usage
}

// Parse parses src into a Module for uri at version, plus any recoverable
// errors. It never panics outward: malformed input yields a Module with
// whatever was successfully recovered, plus ParseErrors pinpointing the
// trouble (spec.md §4.5).
func Parse(uri string, version int, src string) (*Module, []ParseError) {
	if len(src) > MaxSourceBytes {
		excerpt := src
		if len(excerpt) > LogExcerptLen {
			excerpt = excerpt[:LogExcerptLen]
		}
		return &Module{URI: uri, Version: version}, []ParseError{{
			Message: fmt.Sprintf("source exceeds %d byte limit (excerpt: %q)", MaxSourceBytes, excerpt),
			Line:    0,
			Column:  0,
			Kind:    ErrSyntax,
		}}
	}

	toks := newLexer(src).tokens()
	r := &reader{toks: toks, source: src}

	mod := &Module{URI: uri, Version: version}
	r.readTop(mod)
	mod.Usages = r.usages

	return mod, r.errs
}

func (r *reader) addErr(kind ErrorKind, format string, tok token, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.errs = append(r.errs, ParseError{Message: msg, Line: tok.line, Column: tok.col, Kind: kind})
}

func (r *reader) cur() token {
	if r.pos >= len(r.toks) {
		return r.toks[len(r.toks)-1]
	}
	return r.toks[r.pos]
}

func (r *reader) peekN(n int) token {
	idx := r.pos + n
	if idx >= len(r.toks) {
		return r.toks[len(r.toks)-1]
	}
	return r.toks[idx]
}

func (r *reader) next() token {
	t := r.cur()
	if r.pos < len(r.toks) {
		r.pos++
	}
	return t
}

func (r *reader) atEOF() bool {
	return r.cur().kind == tokEOF
}

// lastDocComment returns the text of the nearest preceding block or line
// comment run (a Javadoc/Groovydoc-style comment immediately above a
// declaration), skipping ordinary whitespace-equivalent comment tokens
// that aren't directly adjacent.
func (r *reader) lastDocComment() string {
	i := r.pos - 1
	var lines []string
	for i >= 0 && (r.toks[i].kind == tokLineComment || r.toks[i].kind == tokBlockComment) {
		lines = append([]string{strings.TrimSpace(r.toks[i].text)}, lines...)
		i--
	}
	return strings.Join(lines, "\n")
}

// readTop consumes package/import declarations, then top-level class-like
// declarations, until EOF.
func (r *reader) readTop(mod *Module) {
	for !r.atEOF() {
		t := r.cur()

		switch {
		case t.kind == tokKeyword && t.text == "package":
			r.next()
			mod.Package = r.readDottedName()
			r.skipStatementTerminator()

		case t.kind == tokKeyword && t.text == "import":
			r.next()
			// optional "static"
			if r.cur().kind == tokKeyword && r.cur().text == "static" {
				r.next()
			}
			name := r.readDottedName()
			if r.cur().kind == tokPunct && r.cur().text == "." && r.peekN(1).kind == tokPunct && r.peekN(1).text == "*" {
				r.next()
				r.next()
				name += ".*"
			}
			mod.Imports = append(mod.Imports, name)
			r.skipStatementTerminator()

		case t.kind == tokLineComment || t.kind == tokBlockComment:
			r.next()

		case t.kind == tokAnnotationAt:
			r.skipAnnotation()

		case t.kind == tokKeyword:
			if kind, ok := declKeywords[t.text]; ok {
				node := r.readTypeDecl(kind, mod.Package)
				if node != nil {
					mod.Decls = append(mod.Decls, node)
				}
				continue
			}
			if t.text == "public" || t.text == "private" || t.text == "protected" ||
				t.text == "final" || t.text == "abstract" || t.text == "static" {
				// modifier preceding a top-level type declaration
				mods, declKind := r.readModifiersThenDeclKeyword()
				if declKind >= 0 {
					node := r.readTypeDecl(declKind, mod.Package)
					if node != nil {
						node.Modifiers = append(mods, node.Modifiers...)
						mod.Decls = append(mod.Decls, node)
					}
					continue
				}
			}
			r.next()

		default:
			r.next()
		}
	}
}

// readModifiersThenDeclKeyword consumes a run of modifier keywords and
// reports the declaration kind that follows them, or -1 if the run isn't
// followed by a class-like declaration keyword.
func (r *reader) readModifiersThenDeclKeyword() ([]Modifier, NodeKind) {
	start := r.pos
	var mods []Modifier
	for r.cur().kind == tokKeyword {
		switch r.cur().text {
		case "public", "private", "protected", "final", "abstract", "static", "strictfp":
			mods = append(mods, Modifier(r.cur().text))
			r.next()
			continue
		}
		break
	}
	if kind, ok := declKeywords[r.cur().text]; ok && r.cur().kind == tokKeyword {
		return mods, kind
	}
	r.pos = start
	return nil, -1
}

func (r *reader) skipStatementTerminator() {
	for r.cur().kind == tokPunct && r.cur().text == ";" {
		r.next()
	}
}

func (r *reader) readDottedName() string {
	var b strings.Builder
	for {
		t := r.cur()
		if t.kind != tokIdent && t.kind != tokKeyword {
			break
		}
		b.WriteString(t.text)
		r.next()
		if r.cur().kind == tokPunct && r.cur().text == "." && !(r.peekN(1).kind == tokPunct && r.peekN(1).text == "*") {
			b.WriteString(".")
			r.next()
			continue
		}
		break
	}
	return b.String()
}

// readDottedNameUsage reads a dotted type name exactly like
// readDottedName, but also records it as a Usage spanning the consumed
// tokens, so FindReferences can later resolve clicks on this occurrence
// back to its declaration (spec.md §4.9, item 2).
func (r *reader) readDottedNameUsage() string {
	startTok := r.cur()
	name := r.readDottedName()
	if name == "" {
		return name
	}
	endTok := r.toks[r.pos-1]
	r.usages = append(r.usages, Usage{
		Name: name,
		Span: Span{
			StartLine: startTok.line, StartCol: startTok.col, StartByte: startTok.startByte,
			EndLine: endTok.line, EndCol: endTok.col + len(endTok.text), EndByte: endTok.endByte,
		},
	})
	return name
}

// skipAnnotation consumes "@Name" and an optional "(...)" argument list.
func (r *reader) skipAnnotation() {
	r.next() // '@'
	r.readDottedName()
	if r.cur().kind == tokPunct && r.cur().text == "(" {
		r.skipBalanced("(", ")")
	}
}

// skipBalanced consumes tokens from an opening punctuation through its
// matching closer, tracking nesting. If EOF is hit first, it records a
// syntax error at the position of the opener and stops (spec.md scenario
// 1: unclosed brace diagnostics).
func (r *reader) skipBalanced(open, closer string) {
	opener := r.cur()
	depth := 0
	for {
		t := r.cur()
		if t.kind == tokEOF {
			r.addErr(ErrSyntax, "unclosed %q starting here", opener, open)
			return
		}
		if t.kind == tokPunct && t.text == open {
			depth++
		}
		if t.kind == tokPunct && t.text == closer {
			depth--
			r.next()
			if depth == 0 {
				return
			}
			continue
		}
		r.next()
	}
}

// readTypeDecl parses "kind Name [extends X] [implements Y, Z] { body }".
func (r *reader) readTypeDecl(kind NodeKind, pkg string) *Node {
	doc := r.lastDocComment()
	r.next() // keyword

	if r.cur().kind != tokIdent {
		r.addErr(ErrSyntax, "expected type name after %s", r.cur(), kind)
		return nil
	}
	nameTok := r.next()
	name := nameTok.text

	qn := name
	if pkg != "" {
		qn = pkg + "." + name
	}

	// skip generics
	if r.cur().kind == tokPunct && r.cur().text == "<" {
		r.skipBalanced("<", ">")
	}
	// extends/implements clauses: each named supertype is a type usage
	// (spec.md §4.9, item 2).
	for r.cur().kind == tokKeyword && (r.cur().text == "extends" || r.cur().text == "implements") {
		r.next()
		r.readDottedNameUsage()
		for r.cur().kind == tokPunct && r.cur().text == "," {
			r.next()
			r.readDottedNameUsage()
		}
	}

	node := &Node{
		Kind:          kind,
		Name:          name,
		QualifiedName: qn,
		DocComment:    doc,
		Span:          Span{StartLine: nameTok.line, StartCol: nameTok.col, StartByte: nameTok.startByte},
	}

	if r.cur().kind != tokPunct || r.cur().text != "{" {
		// no body (e.g. forward decl / malformed); still return the node
		node.Span.EndLine, node.Span.EndCol, node.Span.EndByte = nameTok.line, nameTok.col+len(name), nameTok.endByte
		return node
	}

	openBrace := r.cur()
	r.next()
	r.readTypeBody(node, qn)
	closeTok := r.closeOrEOF(openBrace)
	node.Span.EndLine, node.Span.EndCol, node.Span.EndByte = closeTok.line, closeTok.col, closeTok.endByte

	return node
}

// closeOrEOF consumes up to and including the matching "}" for the given
// opening brace, returning the closing token, or the EOF token plus a
// recorded syntax error if the source ends first.
func (r *reader) closeOrEOF(openBrace token) token {
	if r.cur().kind == tokPunct && r.cur().text == "}" {
		t := r.next()
		return t
	}
	r.addErr(ErrSyntax, "unclosed '{' starting at line %d", openBrace, openBrace.line)
	return r.cur()
}

// readTypeBody parses members inside a class-like declaration's braces:
// fields, properties, methods, constructors, and nested type
// declarations. Stops at the matching "}" (left for the caller to
// consume) or EOF.
func (r *reader) readTypeBody(parent *Node, qn string) {
	for {
		t := r.cur()
		if t.kind == tokEOF || (t.kind == tokPunct && t.text == "}") {
			return
		}

		switch {
		case t.kind == tokLineComment || t.kind == tokBlockComment:
			r.next()

		case t.kind == tokAnnotationAt:
			r.skipAnnotation()

		case t.kind == tokKeyword:
			if kind, ok := declKeywords[t.text]; ok {
				nested := r.readTypeDecl(kind, qn)
				if nested != nil {
					parent.Children = append(parent.Children, nested)
				}
				continue
			}
			r.readMember(parent, qn)

		case t.kind == tokIdent:
			r.readMember(parent, qn)

		case t.kind == tokPunct && t.text == ";":
			r.next()

		default:
			r.next()
		}
	}
}

// readMember attempts to parse one field/property/method/constructor
// declaration starting at the current position. It scans forward to
// classify the declaration shape before committing: `Name(` means a
// method or constructor; `Type name(` likewise; otherwise a field or
// property with an optional initializer.
func (r *reader) readMember(parent *Node, qn string) {
	doc := r.lastDocComment()
	startTok := r.cur()

	var mods []Modifier
	for r.cur().kind == tokKeyword {
		switch r.cur().text {
		case "public", "private", "protected", "static", "final", "abstract",
			"synchronized", "native", "transient", "volatile", "def":
			if r.cur().text == "def" {
				mods = append(mods, Modifier(r.cur().text))
				r.next()
			} else {
				mods = append(mods, Modifier(r.cur().text))
				r.next()
			}
			continue
		}
		break
	}

	// generic method type params <T>
	if r.cur().kind == tokPunct && r.cur().text == "<" {
		r.skipBalanced("<", ">")
	}

	// Optional declared type before the member name: "String foo" /
	// "void bar()". A bare "foo()" (no type, `def`-style or constructor)
	// is also valid Groovy.
	declaredType := ""
	if r.cur().kind == tokIdent || (r.cur().kind == tokKeyword && r.cur().text == "void") {
		first := r.cur()
		// Peek ahead: if the next significant token after a dotted
		// name/generic is another identifier, `first` was a type.
		save := r.pos
		usagesMark := len(r.usages)
		typeName := r.readDottedNameUsage()
		if r.cur().kind == tokPunct && r.cur().text == "<" {
			r.skipBalanced("<", ">")
		}
		for r.cur().kind == tokPunct && r.cur().text == "[" {
			r.next()
			if r.cur().kind == tokPunct && r.cur().text == "]" {
				r.next()
			}
			typeName += "[]"
		}
		if r.cur().kind == tokIdent {
			declaredType = typeName
		} else {
			r.pos = save
			r.usages = r.usages[:usagesMark]
			_ = first
		}
	}

	if r.cur().kind != tokIdent {
		// not a recognizable member start; consume one token to make
		// progress and bail.
		r.next()
		return
	}

	nameTok := r.next()
	name := nameTok.text

	if r.cur().kind == tokPunct && r.cur().text == "(" {
		r.readMethodOrCtor(parent, qn, name, nameTok, declaredType, mods, doc)
		return
	}

	// field/property, optionally with an initializer
	kind := KindProperty
	if hasVisibilityModifier(mods) {
		kind = KindField
	}
	node := &Node{
		Kind:          kind,
		Name:          name,
		QualifiedName: qn + "." + name,
		Modifiers:     mods,
		DeclaredType:  declaredType,
		DocComment:    doc,
		Span: Span{
			StartLine: nameTok.line, StartCol: nameTok.col, StartByte: nameTok.startByte,
			EndLine: nameTok.line, EndCol: nameTok.col + len(name), EndByte: nameTok.endByte,
		},
	}
	parent.Children = append(parent.Children, node)

	if r.cur().kind == tokPunct && r.cur().text == "=" {
		r.next()
		r.skipInitializerCollectingClosures(parent, qn, nameTok.line)
	}
	r.skipStatementTerminator()
	_ = startTok
}

func hasVisibilityModifier(mods []Modifier) bool {
	for _, m := range mods {
		if m == "public" || m == "private" || m == "protected" {
			return true
		}
	}
	return false
}

// readMethodOrCtor parses "(params) [throws ...] { body }" following a
// name already consumed as nameTok, classifying it as a CONSTRUCTOR when
// name equals the enclosing type's simple name, METHOD otherwise. Any
// closures found in the body are emitted as CLOSURE children tied to
// nameTok's line (spec.md §4.5).
func (r *reader) readMethodOrCtor(parent *Node, qn, name string, nameTok token, declaredType string, mods []Modifier, doc string) {
	params := r.readParamList()

	for r.cur().kind == tokKeyword && r.cur().text == "throws" {
		r.next()
		r.readDottedName()
		for r.cur().kind == tokPunct && r.cur().text == "," {
			r.next()
			r.readDottedName()
		}
	}

	kind := KindMethod
	if name == parent.Name {
		kind = KindConstructor
	}

	node := &Node{
		Kind:          kind,
		Name:          name,
		QualifiedName: qn + "." + name,
		Modifiers:     mods,
		DeclaredType:  declaredType,
		Params:        params,
		DocComment:    doc,
		Span: Span{
			StartLine: nameTok.line, StartCol: nameTok.col, StartByte: nameTok.startByte,
		},
	}

	if r.cur().kind == tokPunct && r.cur().text == "{" {
		open := r.cur()
		r.next()
		r.scanBodyForClosures(node, qn, nameTok.line)
		closeTok := r.closeOrEOF(open)
		node.Span.EndLine, node.Span.EndCol, node.Span.EndByte = closeTok.line, closeTok.col, closeTok.endByte
	} else {
		// abstract/interface method: no body
		r.skipStatementTerminator()
		node.Span.EndLine, node.Span.EndCol, node.Span.EndByte = nameTok.line, nameTok.col+len(name), nameTok.endByte
	}

	parent.Children = append(parent.Children, node)
}

// readParamList parses "(Type name, Type2 name2, ...)" or the untyped
// Groovy form "(name, name2)".
func (r *reader) readParamList() []Param {
	var params []Param
	if r.cur().kind != tokPunct || r.cur().text != "(" {
		return params
	}
	r.next()
	for {
		if r.cur().kind == tokEOF {
			return params
		}
		if r.cur().kind == tokPunct && r.cur().text == ")" {
			r.next()
			return params
		}
		if r.cur().kind == tokPunct && r.cur().text == "," {
			r.next()
			continue
		}
		if r.cur().kind == tokAnnotationAt {
			r.skipAnnotation()
			continue
		}
		if r.cur().kind == tokKeyword && (r.cur().text == "def" || r.cur().text == "final") {
			r.next()
			continue
		}
		if r.cur().kind != tokIdent {
			r.next()
			continue
		}
		usagesMark := len(r.usages)
		first := r.readDottedNameUsage()
		for r.cur().kind == tokPunct && r.cur().text == "[" {
			r.next()
			if r.cur().kind == tokPunct && r.cur().text == "]" {
				r.next()
			}
			first += "[]"
		}
		if r.cur().kind == tokIdent {
			name := r.next().text
			params = append(params, Param{Name: name, Type: first})
		} else {
			// first was actually the (untyped) param name, not a type.
			r.usages = r.usages[:usagesMark]
			params = append(params, Param{Name: first})
		}
		if r.cur().kind == tokPunct && r.cur().text == "=" {
			r.next()
			r.skipExpressionUntilCommaOrParen()
		}
	}
}

func (r *reader) skipExpressionUntilCommaOrParen() {
	depth := 0
	for {
		t := r.cur()
		if t.kind == tokEOF {
			return
		}
		if t.kind == tokPunct && (t.text == "(" || t.text == "[" || t.text == "{") {
			depth++
		}
		if t.kind == tokPunct && (t.text == ")" || t.text == "]" || t.text == "}") {
			if depth == 0 {
				return
			}
			depth--
		}
		if depth == 0 && t.kind == tokPunct && t.text == "," {
			return
		}
		r.next()
	}
}

// skipInitializerCollectingClosures consumes a field/property
// initializer expression up to the next statement terminator or closing
// brace, collecting any closure literals found along the way.
func (r *reader) skipInitializerCollectingClosures(parent *Node, qn string, enclosingLine int) {
	depth := 0
	for {
		t := r.cur()
		if t.kind == tokEOF {
			return
		}
		if t.kind == tokPunct && t.text == "{" {
			r.readClosureLiteral(parent, qn, enclosingLine)
			continue
		}
		if depth == 0 && t.kind == tokPunct && (t.text == ";" || t.text == "}") {
			return
		}
		if t.kind == tokPunct && (t.text == "(" || t.text == "[") {
			depth++
		}
		if t.kind == tokPunct && (t.text == ")" || t.text == "]") {
			depth--
		}
		r.next()
	}
}

// scanBodyForClosures walks a method/constructor body collecting closure
// literals as CLOSURE children of method, without attempting a full
// statement grammar: it tracks brace depth and recurses into any "{"
// that isn't itself the body's own closer.
func (r *reader) scanBodyForClosures(method *Node, qn string, enclosingLine int) {
	for {
		t := r.cur()
		if t.kind == tokEOF || (t.kind == tokPunct && t.text == "}") {
			return
		}
		if t.kind == tokKeyword {
			if kind, ok := declKeywords[t.text]; ok {
				// local/anonymous class-like declaration inside a method
				// body; parse it as a nested declaration under the method.
				nested := r.readTypeDecl(kind, qn)
				if nested != nil {
					method.Children = append(method.Children, nested)
				}
				continue
			}
			if t.text == "new" {
				r.next()
				r.readDottedNameUsage()
				continue
			}
		}
		if t.kind == tokPunct && t.text == "{" {
			r.readClosureLiteral(method, qn, enclosingLine)
			continue
		}
		r.next()
	}
}

// readClosureLiteral parses a "{ [params ->] ... }" closure literal,
// emitting a CLOSURE symbol tied to the enclosing method's line
// (spec.md §4.5) and recursing into its body for nested closures.
func (r *reader) readClosureLiteral(parent *Node, qn string, enclosingLine int) {
	openTok := r.cur()
	r.next()

	closure := &Node{
		Kind:                KindClosure,
		Name:                fmt.Sprintf("closure@%d:%d", openTok.line, openTok.col),
		QualifiedName:        fmt.Sprintf("%s.closure@%d:%d", qn, openTok.line, openTok.col),
		EnclosingMethodLine:  enclosingLine,
		Span:                 Span{StartLine: openTok.line, StartCol: openTok.col, StartByte: openTok.startByte},
	}

	// optional "params ->" header
	closure.Params = r.tryReadClosureParams()

	r.scanBodyForClosures(closure, qn, enclosingLine)
	closeTok := r.closeOrEOF(openTok)
	closure.Span.EndLine, closure.Span.EndCol, closure.Span.EndByte = closeTok.line, closeTok.col, closeTok.endByte

	parent.Children = append(parent.Children, closure)
}

// tryReadClosureParams speculatively parses "a, b ->" at the start of a
// closure body, rewinding if no "->" is found before something that
// couldn't be a parameter list (matching Groovy's implicit "it"
// parameter when no explicit list is given).
func (r *reader) tryReadClosureParams() []Param {
	save := r.pos
	var params []Param
	for {
		t := r.cur()
		if t.kind == tokIdent {
			name := r.next().text
			params = append(params, Param{Name: name})
			if r.cur().kind == tokPunct && r.cur().text == "," {
				r.next()
				continue
			}
			if r.cur().kind == tokPunct && r.cur().text == "-" && r.peekN(1).kind == tokPunct && r.peekN(1).text == ">" {
				r.next()
				r.next()
				return params
			}
			r.pos = save
			return nil
		}
		r.pos = save
		return nil
	}
}
