package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	defaultOutlineDepth   = 3
	defaultSearchResults  = 50
	defaultTerminalBudget = 30 * time.Second
	maxSearchFileSize     = 1 << 20
)

// skipDirs are never descended into by outline, search, or grep.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"target": true, "dist": true, ".mecha": true,
}

// FileSystemHandler serves the read-only FileSystem variant.
func FileSystemHandler() Handler {
	return func(_ context.Context, input ToolInput) (ToolOutput, error) {
		req, ok := input.(FileSystem)
		if !ok {
			return ToolOutput{}, fmt.Errorf("expected FileSystem input, got %T", input)
		}
		switch req.Op {
		case FSRead:
			raw, err := os.ReadFile(req.Path)
			if err != nil {
				return ToolOutput{}, err
			}
			return ToolOutput{Text: string(raw)}, nil
		case FSList:
			entries, err := os.ReadDir(req.Path)
			if err != nil {
				return ToolOutput{}, err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			data, _ := json.Marshal(names)
			return ToolOutput{Text: strings.Join(names, "\n"), Data: data}, nil
		case FSStat:
			info, err := os.Stat(req.Path)
			if err != nil {
				return ToolOutput{}, err
			}
			return ToolOutput{Text: fmt.Sprintf("%s %d bytes mode %s modified %s",
				req.Path, info.Size(), info.Mode(), info.ModTime().Format(time.RFC3339))}, nil
		default:
			return ToolOutput{}, fmt.Errorf("unknown file system op %q", req.Op)
		}
	}
}

// FolderOutlineHandler renders a bounded-depth tree of a directory.
func FolderOutlineHandler() Handler {
	return func(ctx context.Context, input ToolInput) (ToolOutput, error) {
		req, ok := input.(FolderOutline)
		if !ok {
			return ToolOutput{}, fmt.Errorf("expected FolderOutline input, got %T", input)
		}
		depth := req.Depth
		if depth <= 0 {
			depth = defaultOutlineDepth
		}
		var sb strings.Builder
		root := filepath.Clean(req.Root)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil || rel == "." {
				return nil
			}
			level := strings.Count(rel, string(filepath.Separator))
			if d.IsDir() {
				if skipDirs[d.Name()] || level >= depth {
					return filepath.SkipDir
				}
				fmt.Fprintf(&sb, "%s%s/\n", strings.Repeat("  ", level), d.Name())
				return nil
			}
			if level < depth {
				fmt.Fprintf(&sb, "%s%s\n", strings.Repeat("  ", level), d.Name())
			}
			return nil
		})
		if err != nil {
			return ToolOutput{}, err
		}
		return ToolOutput{Text: sb.String()}, nil
	}
}

// SearchMatch is one search or grep hit.
type SearchMatch struct {
	FSFilePath string `json:"fs_file_path"`
	Line       int    `json:"line"`
	Content    string `json:"content"`
}

func scanFiles(ctx context.Context, root string, re *regexp.Regexp, limit int) ([]SearchMatch, error) {
	var matches []SearchMatch
	err := filepath.WalkDir(filepath.Clean(root), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil || info.Size() > maxSearchFileSize {
			return nil
		}
		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		for i, line := range strings.Split(string(raw), "\n") {
			if re.MatchString(line) {
				matches = append(matches, SearchMatch{FSFilePath: path, Line: i + 1, Content: strings.TrimSpace(line)})
				if len(matches) >= limit {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].FSFilePath != matches[j].FSFilePath {
			return matches[i].FSFilePath < matches[j].FSFilePath
		}
		return matches[i].Line < matches[j].Line
	})
	return matches, nil
}

func matchesOutput(matches []SearchMatch) ToolOutput {
	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.FSFilePath, m.Line, m.Content)
	}
	data, _ := json.Marshal(matches)
	return ToolOutput{Text: sb.String(), Data: data}
}

// SearchHandler scans files under the requested root for a regular expression.
func SearchHandler() Handler {
	return func(ctx context.Context, input ToolInput) (ToolOutput, error) {
		req, ok := input.(Search)
		if !ok {
			return ToolOutput{}, fmt.Errorf("expected Search input, got %T", input)
		}
		re, err := regexp.Compile(req.Pattern)
		if err != nil {
			return ToolOutput{}, fmt.Errorf("bad pattern: %w", err)
		}
		limit := req.MaxResults
		if limit <= 0 {
			limit = defaultSearchResults
		}
		matches, err := scanFiles(ctx, req.Root, re, limit)
		if err != nil {
			return ToolOutput{}, err
		}
		return matchesOutput(matches), nil
	}
}

// GrepSymbolHandler finds word-boundary occurrences of an identifier.
func GrepSymbolHandler() Handler {
	return func(ctx context.Context, input ToolInput) (ToolOutput, error) {
		req, ok := input.(GrepSymbol)
		if !ok {
			return ToolOutput{}, fmt.Errorf("expected GrepSymbol input, got %T", input)
		}
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(req.SymbolName) + `\b`)
		if err != nil {
			return ToolOutput{}, err
		}
		matches, err := scanFiles(ctx, req.Root, re, defaultSearchResults)
		if err != nil {
			return ToolOutput{}, err
		}
		return matchesOutput(matches), nil
	}
}

// TerminalHandler runs a shell command with a per-invocation timeout.
func TerminalHandler() Handler {
	return func(ctx context.Context, input ToolInput) (ToolOutput, error) {
		req, ok := input.(Terminal)
		if !ok {
			return ToolOutput{}, fmt.Errorf("expected Terminal input, got %T", input)
		}
		budget := defaultTerminalBudget
		if req.TimeoutSecs > 0 {
			budget = time.Duration(req.TimeoutSecs) * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()

		cmd := exec.CommandContext(cctx, "sh", "-c", req.Command)
		cmd.Dir = req.Dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return ToolOutput{}, fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
		}
		return ToolOutput{Text: string(out)}, nil
	}
}

// AskUserFunc forwards a question to the human and blocks for the answer.
type AskUserFunc func(ctx context.Context, question string) (string, error)

// AskUserHandler adapts the human interface's prompt callback.
func AskUserHandler(ask AskUserFunc) Handler {
	return func(ctx context.Context, input ToolInput) (ToolOutput, error) {
		req, ok := input.(AskUser)
		if !ok {
			return ToolOutput{}, fmt.Errorf("expected AskUser input, got %T", input)
		}
		answer, err := ask(ctx, req.Question)
		if err != nil {
			return ToolOutput{}, err
		}
		return ToolOutput{Text: answer}, nil
	}
}

// AskDocumentationFunc answers a documentation query from an external index.
type AskDocumentationFunc func(ctx context.Context, query, scope string) (string, error)

// AskDocumentationHandler adapts a documentation index lookup.
func AskDocumentationHandler(lookup AskDocumentationFunc) Handler {
	return func(ctx context.Context, input ToolInput) (ToolOutput, error) {
		req, ok := input.(AskDocumentation)
		if !ok {
			return ToolOutput{}, fmt.Errorf("expected AskDocumentation input, got %T", input)
		}
		answer, err := lookup(ctx, req.Query, req.Scope)
		if err != nil {
			return ToolOutput{}, err
		}
		return ToolOutput{Text: answer}, nil
	}
}
