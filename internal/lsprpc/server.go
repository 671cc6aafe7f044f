package lsprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	lspuri "go.lsp.dev/uri"

	"github.com/groovy-lsp/glsp/internal/compiler"
	"github.com/groovy-lsp/glsp/internal/document"
	"github.com/groovy-lsp/glsp/internal/groovyast"
	"github.com/groovy-lsp/glsp/internal/query"
	"github.com/groovy-lsp/glsp/internal/symbolindex"
)

// Position and Range mirror the LSP base protocol's position encoding
// (0-based line, UTF-16 column) directly rather than through a generic
// third-party protocol library: the LSP wire shapes this server actually
// needs are a handful of small, stable structs, and the field-level
// shape of a general-purpose protocol package varies enough release to
// release that hand-rolling them here, matching the spec verbatim, beats
// guessing at an unpinned surface (see DESIGN.md).
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [Start, End) span in Position coordinates.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TextDocumentIdentifier identifies an open document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// ServerCapabilities is the subset of the LSP server capabilities this
// server advertises during initialize (spec.md §4.10, item 3).
type ServerCapabilities struct {
	TextDocumentSync       int                `json:"textDocumentSync"`
	HoverProvider          bool               `json:"hoverProvider"`
	DefinitionProvider     bool               `json:"definitionProvider"`
	ReferencesProvider     bool               `json:"referencesProvider"`
	DocumentSymbolProvider bool               `json:"documentSymbolProvider"`
	WorkspaceSymbolProvider bool              `json:"workspaceSymbolProvider"`
	CompletionProvider     *CompletionOptions `json:"completionProvider,omitempty"`
}

// CompletionOptions declares which characters trigger completion.
type CompletionOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
}

// TextDocumentSyncIncremental matches the LSP wire value for
// incremental sync (spec.md §4.2: "ranged text edits").
const TextDocumentSyncIncremental = 2

// InitializeParams is the subset of the initialize request this server
// reads.
type InitializeParams struct {
	RootURI string `json:"rootUri"`
}

// InitializeResult is the initialize response.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
}

// Diagnostic is one compile error/warning reported for a document
// (spec.md §4.7, item 4: "diagnostics are published, not polled").
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity"`
	Message  string `json:"message"`
}

// Diagnostic severities (LSP wire values).
const (
	SeverityError       = 1
	SeverityWarning     = 2
	SeverityInformation = 3
)

// PublishDiagnosticsParams is the payload for the
// textDocument/publishDiagnostics notification.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     int          `json:"version"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Server binds the JSON-RPC Conn to this server's LSP method
// implementations: document synchronization, compilation, and the query
// services (spec.md §4.10, item 2).
type Server struct {
	log      logr.Logger
	docs     *document.Store
	compiler *compiler.Compiler
	store    *symbolindex.Store
	rootURI  string
}

// NewServer constructs a Server over the given components.
func NewServer(log logr.Logger, docs *document.Store, c *compiler.Compiler, store *symbolindex.Store) *Server {
	return &Server{log: log.WithName("lsp"), docs: docs, compiler: c, store: store}
}

// docOrDiskLoader implements query.SourceLoader over the open-document
// store, falling back to disk for files that are indexed but not
// currently open in the editor (spec.md §4.9, item 2: reference
// resolution must cover the whole workspace, not just open buffers).
type docOrDiskLoader struct {
	docs *document.Store
}

func (l *docOrDiskLoader) Load(uri string) (string, int, error) {
	if snap, err := l.docs.Snapshot(uri); err == nil {
		return snap.Text, snap.Version, nil
	}
	data, err := os.ReadFile(lspuri.URI(uri).Filename())
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", uri, err)
	}
	return string(data), 1, nil
}

// Dispatch implements the function Conn.SetDispatch expects: it decodes
// params by method name and replies (for requests) or simply processes
// (for notifications).
func (s *Server) Dispatch(ctx context.Context, conn *Conn, req *WireRequest) {
	result, err := s.handle(ctx, conn, req)
	if req.ID == nil {
		// notification: no reply expected, even on error, matching the
		// LSP base protocol's "notifications may not fail" rule.
		if err != nil {
			s.log.V(3).Error(err, "notification handler failed", "method", req.Method)
		}
		return
	}

	if err != nil {
		var rpcErr *Error
		if asErr, ok := err.(*Error); ok {
			rpcErr = asErr
		} else {
			rpcErr = NewErrorf(CodeInternalError, "%s", err.Error())
		}
		if replyErr := conn.Reply(ctx, *req.ID, nil, rpcErr); replyErr != nil {
			s.log.V(3).Error(replyErr, "failed to send error reply", "method", req.Method)
		}
		return
	}

	if replyErr := conn.Reply(ctx, *req.ID, result, nil); replyErr != nil {
		s.log.V(3).Error(replyErr, "failed to send reply", "method", req.Method)
	}
}

func (s *Server) handle(ctx context.Context, conn *Conn, req *WireRequest) (interface{}, error) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "initialized":
		return nil, nil
	case "shutdown":
		return nil, nil
	case "exit":
		return nil, nil
	case "textDocument/didOpen":
		return nil, s.handleDidOpen(ctx, conn, req.Params)
	case "textDocument/didChange":
		return nil, s.handleDidChange(ctx, conn, req.Params)
	case "textDocument/didClose":
		return nil, s.handleDidClose(req.Params)
	case "textDocument/hover":
		return s.handleHover(req.Params)
	case "textDocument/definition", "textDocument/references":
		return s.handleReferences(req.Params)
	case "textDocument/completion":
		return s.handleCompletion(req.Params)
	case "textDocument/documentSymbol":
		return s.handleDocumentSymbol(req.Params)
	case "workspace/symbol":
		return s.handleWorkspaceSymbol(req.Params)
	default:
		return nil, NewErrorf(CodeMethodNotFound, "method not found: %s", req.Method)
	}
}

func (s *Server) handleInitialize(raw *json.RawMessage) (*InitializeResult, error) {
	var params InitializeParams
	if raw != nil {
		if err := json.Unmarshal(*raw, &params); err != nil {
			return nil, NewErrorf(CodeInvalidParams, "invalid initialize params: %v", err)
		}
	}
	s.rootURI = params.RootURI

	return &InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync:        TextDocumentSyncIncremental,
			HoverProvider:           true,
			DefinitionProvider:      true,
			ReferencesProvider:      true,
			DocumentSymbolProvider:  true,
			WorkspaceSymbolProvider: true,
			CompletionProvider:      &CompletionOptions{TriggerCharacters: []string{".", ":"}},
		},
	}, nil
}

type didOpenParams struct {
	TextDocument struct {
		URI        string `json:"uri"`
		LanguageID string `json:"languageId"`
		Version    int    `json:"version"`
		Text       string `json:"text"`
	} `json:"textDocument"`
}

func (s *Server) handleDidOpen(ctx context.Context, conn *Conn, raw *json.RawMessage) error {
	var p didOpenParams
	if err := unmarshalRequired(raw, &p); err != nil {
		return err
	}
	if err := s.docs.Open(p.TextDocument.URI, p.TextDocument.LanguageID, p.TextDocument.Version, p.TextDocument.Text); err != nil {
		return fmt.Errorf("open %s: %w", p.TextDocument.URI, err)
	}
	s.compileAndPublish(ctx, conn, p.TextDocument.URI, p.TextDocument.Version, p.TextDocument.Text)
	return nil
}

type didChangeParams struct {
	TextDocument struct {
		URI     string `json:"uri"`
		Version int    `json:"version"`
	} `json:"textDocument"`
	ContentChanges []struct {
		Range *Range `json:"range,omitempty"`
		Text  string `json:"text"`
	} `json:"contentChanges"`
}

func (s *Server) handleDidChange(ctx context.Context, conn *Conn, raw *json.RawMessage) error {
	var p didChangeParams
	if err := unmarshalRequired(raw, &p); err != nil {
		return err
	}

	changes := make([]document.Change, 0, len(p.ContentChanges))
	for _, c := range p.ContentChanges {
		change := document.Change{Text: c.Text}
		if c.Range != nil {
			change.Range = &document.Range{
				StartLine: c.Range.Start.Line, StartCharacter: c.Range.Start.Character,
				EndLine: c.Range.End.Line, EndCharacter: c.Range.End.Character,
			}
		}
		changes = append(changes, change)
	}

	if err := s.docs.Change(p.TextDocument.URI, p.TextDocument.Version, changes); err != nil {
		return fmt.Errorf("change %s: %w", p.TextDocument.URI, err)
	}

	snap, err := s.docs.Snapshot(p.TextDocument.URI)
	if err != nil {
		return err
	}
	s.compileAndPublish(ctx, conn, p.TextDocument.URI, snap.Version, snap.Text)
	return nil
}

type didCloseParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

func (s *Server) handleDidClose(raw *json.RawMessage) error {
	var p didCloseParams
	if err := unmarshalRequired(raw, &p); err != nil {
		return err
	}
	s.docs.Close(p.TextDocument.URI)
	s.compiler.Invalidate(p.TextDocument.URI)
	return nil
}

// compileAndPublish recompiles uri and sends textDocument/publishDiagnostics
// (spec.md §4.7, item 4), logging rather than failing the enclosing
// handler if compilation itself errors (compilation errors are reported
// as diagnostics, not JSON-RPC failures).
func (s *Server) compileAndPublish(ctx context.Context, conn *Conn, uri string, version int, text string) {
	result, err := s.compiler.Compile(uri, version, text, compiler.PhaseSemantic)
	if err != nil {
		s.log.V(3).Error(err, "compile failed", "uri", uri)
		return
	}

	if err := s.store.IndexFile(uri, version, len(text), result.Symbols); err != nil {
		s.log.V(3).Error(err, "failed to index compiled file", "uri", uri)
	}

	diags := make([]Diagnostic, 0, len(result.Errors))
	for _, e := range result.Errors {
		diags = append(diags, Diagnostic{
			Range:    Range{Start: Position{Line: e.Line, Character: e.Column}, End: Position{Line: e.Line, Character: e.Column}},
			Severity: severityFor(e.Kind),
			Message:  e.Message,
		})
	}

	if err := conn.Notify(ctx, "textDocument/publishDiagnostics", PublishDiagnosticsParams{
		URI: uri, Version: version, Diagnostics: diags,
	}); err != nil {
		s.log.V(3).Error(err, "failed to publish diagnostics", "uri", uri)
	}
}

func severityFor(kind interface{ String() string }) int {
	switch kind.String() {
	case "WARNING":
		return SeverityWarning
	default:
		return SeverityError
	}
}

type hoverParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// Hover is the textDocument/hover result.
type Hover struct {
	Contents string `json:"contents"`
}

func (s *Server) handleHover(raw *json.RawMessage) (*Hover, error) {
	var p hoverParams
	if err := unmarshalRequired(raw, &p); err != nil {
		return nil, err
	}

	ast, err := s.astServiceFor(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	text, ok := query.HoverProvider{}.Hover(ast, p.Position.Line, p.Position.Character)
	if !ok {
		return nil, nil
	}
	return &Hover{Contents: text}, nil
}

// Location is one textDocument/definition or textDocument/references result entry.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

func (s *Server) handleReferences(raw *json.RawMessage) ([]Location, error) {
	var p hoverParams
	if err := unmarshalRequired(raw, &p); err != nil {
		return nil, err
	}

	ast, err := s.astServiceFor(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	var name string
	if node := ast.FindNodeAtPosition(p.Position.Line, p.Position.Character); node != nil {
		name = node.QualifiedName
	} else if usage := ast.FindUsageAtPosition(p.Position.Line, p.Position.Character); usage != nil {
		name = usage.Name
	} else {
		return nil, nil
	}

	finder := &query.ReferenceFinder{
		Store:    s.store,
		Compiler: s.compiler,
		Loader:   &docOrDiskLoader{docs: s.docs},
	}
	refs, err := finder.FindReferences(name)
	if err != nil {
		return nil, err
	}

	locations := make([]Location, 0, len(refs))
	for _, r := range refs {
		locations = append(locations, Location{
			URI: r.URI,
			Range: Range{
				Start: Position{Line: r.Span.StartLine, Character: r.Span.StartCol},
				End:   Position{Line: r.Span.EndLine, Character: r.Span.EndCol},
			},
		})
	}
	return locations, nil
}

type completionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// CompletionList is the textDocument/completion result.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// CompletionItem is one completion candidate.
type CompletionItem struct {
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleCompletion(raw *json.RawMessage) (*CompletionList, error) {
	var p completionParams
	if err := unmarshalRequired(raw, &p); err != nil {
		return nil, err
	}

	ast, err := s.astServiceFor(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	node := ast.FindNodeAtPosition(p.Position.Line, p.Position.Character)
	prefix := ""
	if node != nil {
		prefix = node.QualifiedName
	}

	provider := &query.CompletionProvider{Store: s.store}
	items, err := provider.Complete(ast, prefix)
	if err != nil {
		return nil, err
	}

	out := make([]CompletionItem, 0, len(items))
	for _, it := range items {
		out = append(out, CompletionItem{Label: it.Label, Detail: it.Detail})
	}
	return &CompletionList{Items: out}, nil
}

// SymbolInformation is one textDocument/documentSymbol or
// workspace/symbol result entry (spec.md §4.6/§4.10: symbol queries
// surface the same Name/Kind/Location shape the symbol index stores).
type SymbolInformation struct {
	Name     string   `json:"name"`
	Kind     int      `json:"kind"`
	Location Location `json:"location"`
}

type documentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

func (s *Server) handleDocumentSymbol(raw *json.RawMessage) ([]SymbolInformation, error) {
	var p documentSymbolParams
	if err := unmarshalRequired(raw, &p); err != nil {
		return nil, err
	}

	ast, err := s.astServiceFor(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	symbols := groovyast.ExtractSymbols(ast.Module)
	out := make([]SymbolInformation, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, symbolInformationFor(sym))
	}
	return out, nil
}

type workspaceSymbolParams struct {
	Query string `json:"query"`
}

func (s *Server) handleWorkspaceSymbol(raw *json.RawMessage) ([]SymbolInformation, error) {
	var p workspaceSymbolParams
	if err := unmarshalRequired(raw, &p); err != nil {
		return nil, err
	}

	symbols, err := s.store.PrefixSearch(p.Query)
	if err != nil {
		return nil, err
	}

	out := make([]SymbolInformation, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, symbolInformationFor(sym))
	}
	return out, nil
}

func symbolInformationFor(sym groovyast.Symbol) SymbolInformation {
	return SymbolInformation{
		Name: sym.Name,
		Kind: symbolKindFor(sym.Kind),
		Location: Location{
			URI: sym.URI,
			Range: Range{
				Start: Position{Line: sym.Span.StartLine, Character: sym.Span.StartCol},
				End:   Position{Line: sym.Span.EndLine, Character: sym.Span.EndCol},
			},
		},
	}
}

// symbolKindFor maps a groovyast.NodeKind to its LSP SymbolKind wire
// value (LSP base protocol, 3.17).
func symbolKindFor(kind groovyast.NodeKind) int {
	const (
		symbolKindFile        = 1
		symbolKindClass       = 5
		symbolKindMethod      = 6
		symbolKindProperty    = 7
		symbolKindField       = 8
		symbolKindConstructor = 9
		symbolKindEnum        = 10
		symbolKindInterface   = 11
	)
	switch kind {
	case groovyast.KindClass:
		return symbolKindClass
	case groovyast.KindInterface, groovyast.KindTrait, groovyast.KindAnnotation:
		return symbolKindInterface
	case groovyast.KindEnum:
		return symbolKindEnum
	case groovyast.KindMethod, groovyast.KindClosure:
		return symbolKindMethod
	case groovyast.KindConstructor:
		return symbolKindConstructor
	case groovyast.KindField:
		return symbolKindField
	case groovyast.KindProperty:
		return symbolKindProperty
	default:
		return symbolKindFile
	}
}

func (s *Server) astServiceFor(uri string) (*query.ASTService, error) {
	snap, err := s.docs.Snapshot(uri)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", uri, err)
	}
	result, err := s.compiler.Compile(uri, snap.Version, snap.Text, compiler.PhaseParse)
	if err != nil {
		return nil, err
	}
	return &query.ASTService{Module: result.Module}, nil
}

func unmarshalRequired(raw *json.RawMessage, dest interface{}) error {
	if raw == nil {
		return NewErrorf(CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(*raw, dest); err != nil {
		return NewErrorf(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}
