// Package tools dispatches typed tool invocations to their side-effecting
// handlers: LSP queries over the editor bridge, file system reads, workspace
// edits, search, and the terminal. Code editing is the only variant allowed
// to mutate workspace files.
package tools

import "encoding/json"

// ToolType identifies a tool variant.
type ToolType string

const (
	ToolAskDocumentation ToolType = "ask_documentation"
	ToolAskUser          ToolType = "ask_user"
	ToolCodeEditing      ToolType = "code_editing"
	ToolSearch           ToolType = "search"
	ToolGoToDefinitions  ToolType = "go_to_definitions"
	ToolGoToReferences   ToolType = "go_to_references"
	ToolFileSystem       ToolType = "file_system"
	ToolFolderOutline    ToolType = "folder_outline"
	ToolTerminal         ToolType = "terminal"
	ToolLSPDiagnostics   ToolType = "lsp_diagnostics"
	ToolQuickFix         ToolType = "quick_fix"
	ToolInlayHints       ToolType = "inlay_hints"
	ToolOpenFile         ToolType = "open_file"
	ToolGrepSymbol       ToolType = "grep_symbol"
)

var knownTools = map[ToolType]bool{
	ToolAskDocumentation: true,
	ToolAskUser:          true,
	ToolCodeEditing:      true,
	ToolSearch:           true,
	ToolGoToDefinitions:  true,
	ToolGoToReferences:   true,
	ToolFileSystem:       true,
	ToolFolderOutline:    true,
	ToolTerminal:         true,
	ToolLSPDiagnostics:   true,
	ToolQuickFix:         true,
	ToolInlayHints:       true,
	ToolOpenFile:         true,
	ToolGrepSymbol:       true,
}

// Known reports whether t is a recognized tool kind.
func Known(t ToolType) bool { return knownTools[t] }

// ToolInput is the tagged input variant; each concrete type carries the
// payload its handler needs.
type ToolInput interface {
	Kind() ToolType
}

// AskDocumentation queries indexed documentation.
type AskDocumentation struct {
	Query string `json:"query"`
	Scope string `json:"scope,omitempty"`
}

func (AskDocumentation) Kind() ToolType { return ToolAskDocumentation }

// AskUser forwards a question to the human and waits for the answer.
type AskUser struct {
	Question string `json:"question"`
}

func (AskUser) Kind() ToolType { return ToolAskUser }

// CodeEditing replaces an anchored line range in a workspace file. The
// anchor fields pin the edit to the content the requester saw; if the range
// has drifted the edit fails with ErrStaleAnchor instead of clobbering.
type CodeEditing struct {
	FSFilePath string `json:"fs_file_path"`
	// StartLine and EndLine are 1-based and inclusive.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	// SubSymbolNames lists the identifiers the anchored range contained, in
	// order of first occurrence; the first one must still be present.
	SubSymbolNames []string `json:"sub_symbol_names,omitempty"`
	ReplaceWith    string   `json:"replace_with"`
}

func (CodeEditing) Kind() ToolType { return ToolCodeEditing }

// Search scans files under Root for a pattern.
type Search struct {
	Pattern    string `json:"pattern"`
	Root       string `json:"root"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (Search) Kind() ToolType { return ToolSearch }

// GoToDefinitions resolves the definition sites of the symbol at a position.
type GoToDefinitions struct {
	FSFilePath string `json:"fs_file_path"`
	Line       int    `json:"line"`
	Column     int    `json:"column"`
}

func (GoToDefinitions) Kind() ToolType { return ToolGoToDefinitions }

// GoToReferences resolves the reference sites of the symbol at a position.
type GoToReferences struct {
	FSFilePath string `json:"fs_file_path"`
	Line       int    `json:"line"`
	Column     int    `json:"column"`
}

func (GoToReferences) Kind() ToolType { return ToolGoToReferences }

// FileSystemOp selects the read-only file system operation.
type FileSystemOp string

const (
	FSRead FileSystemOp = "read"
	FSList FileSystemOp = "list"
	FSStat FileSystemOp = "stat"
)

// FileSystem performs a read-only file system operation.
type FileSystem struct {
	Op   FileSystemOp `json:"op"`
	Path string       `json:"path"`
}

func (FileSystem) Kind() ToolType { return ToolFileSystem }

// FolderOutline summarizes a directory tree to a bounded depth.
type FolderOutline struct {
	Root  string `json:"root"`
	Depth int    `json:"depth,omitempty"`
}

func (FolderOutline) Kind() ToolType { return ToolFolderOutline }

// Terminal runs a shell command in the workspace.
type Terminal struct {
	Command     string `json:"command"`
	Dir         string `json:"dir,omitempty"`
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
}

func (Terminal) Kind() ToolType { return ToolTerminal }

// LSPDiagnostics fetches current diagnostics for a file.
type LSPDiagnostics struct {
	FSFilePath string `json:"fs_file_path"`
}

func (LSPDiagnostics) Kind() ToolType { return ToolLSPDiagnostics }

// QuickFix requests code actions for a diagnostic at a position.
type QuickFix struct {
	FSFilePath   string `json:"fs_file_path"`
	Line         int    `json:"line"`
	DiagnosticID string `json:"diagnostic_id,omitempty"`
}

func (QuickFix) Kind() ToolType { return ToolQuickFix }

// InlayHints fetches inlay hints for a line range.
type InlayHints struct {
	FSFilePath string `json:"fs_file_path"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
}

func (InlayHints) Kind() ToolType { return ToolInlayHints }

// OpenFile asks the editor to open (and reveal) a file.
type OpenFile struct {
	FSFilePath string `json:"fs_file_path"`
}

func (OpenFile) Kind() ToolType { return ToolOpenFile }

// GrepSymbol searches the workspace for occurrences of an identifier.
type GrepSymbol struct {
	SymbolName string `json:"symbol_name"`
	Root       string `json:"root"`
}

func (GrepSymbol) Kind() ToolType { return ToolGrepSymbol }

// ToolOutput is a handler result: a human-readable summary plus an optional
// structured payload for callers that parse further.
type ToolOutput struct {
	Kind ToolType
	Text string
	Data json.RawMessage
}
