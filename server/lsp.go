package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/moonshine/compiler"
	"github.com/chazu/moonshine/pkg/driver"
	"github.com/chazu/moonshine/pkg/ir"
)

const lspName = "moonshine-lsp"

// LspServer publishes bracket diagnostics and shows what the optimizer
// makes of each loop.
type LspServer struct {
	worker *Worker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server compiling with d.
func NewLSP(d *driver.Driver) *LspServer {
	s := &LspServer{
		worker:  NewWorker(d),
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentHover: s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Language features ---

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	s.mu.Lock()
	text, ok := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	result, err := s.worker.Do(context.Background(), func(d *driver.Driver) (any, error) {
		return loopHover(d, text, params.Position), nil
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

// loopHover describes the loop whose bracket is at pos, or returns nil.
func loopHover(d *driver.Driver, text string, pos protocol.Position) *protocol.Hover {
	off, ok := offsetAt(text, pos)
	if !ok {
		return nil
	}
	open, close, ok := matchBracket(text, off)
	if !ok {
		return nil
	}

	raw, err := compiler.Parse(text[open : close+1])
	if err != nil {
		return nil
	}
	opt, _ := d.Optimizer.OptimizeFragment(raw)

	var b strings.Builder
	fmt.Fprintf(&b, "**loop** `%d..%d`: %d → %d instructions\n\n", open, close, ir.Count(raw), ir.Count(opt))
	b.WriteString("```\n")
	b.WriteString(opt.String())
	b.WriteString("```\n")

	end := positionOf(text, close)
	end.Character++
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
		Range: &protocol.Range{Start: positionOf(text, open), End: end},
	}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics(text),
	})
}

// diagnostics reports every unbalanced bracket in text.
func diagnostics(text string) []protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	source := lspName

	out := []protocol.Diagnostic{}
	for _, e := range compiler.Check(text) {
		start := positionOf(text, e.Offset)
		end := start
		end.Character++
		out = append(out, protocol.Diagnostic{
			Range:    protocol.Range{Start: start, End: end},
			Severity: &severity,
			Source:   &source,
			Message:  e.Error(),
		})
	}
	return out
}

// --- Text helpers ---

// offsetAt converts an LSP position to a byte offset in text.
func offsetAt(text string, pos protocol.Position) (int, bool) {
	if int(pos.Line) > strings.Count(text, "\n") {
		return 0, false
	}
	off := pos.IndexIn(text)
	if off >= len(text) {
		return 0, false
	}
	return off, true
}

// positionOf converts a byte offset to an LSP position, counting
// characters in UTF-16 code units.
func positionOf(text string, off int) protocol.Position {
	lineStart := strings.LastIndexByte(text[:off], '\n') + 1
	var chars int
	for _, r := range text[lineStart:off] {
		chars += utf16.RuneLen(r)
	}
	return protocol.Position{
		Line:      protocol.UInteger(strings.Count(text[:lineStart], "\n")),
		Character: protocol.UInteger(chars),
	}
}

// matchBracket returns the offsets of the bracket pair containing the
// bracket at off.
func matchBracket(text string, off int) (open, close int, ok bool) {
	switch text[off] {
	case compiler.OpOpen:
		depth := 0
		for i := off; i < len(text); i++ {
			switch text[i] {
			case compiler.OpOpen:
				depth++
			case compiler.OpClose:
				depth--
				if depth == 0 {
					return off, i, true
				}
			}
		}
	case compiler.OpClose:
		depth := 0
		for i := off; i >= 0; i-- {
			switch text[i] {
			case compiler.OpClose:
				depth++
			case compiler.OpOpen:
				depth--
				if depth == 0 {
					return i, off, true
				}
			}
		}
	}
	return 0, 0, false
}

func boolPtr(b bool) *bool {
	return &b
}
