package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mecha/internal/logging"
)

// Editor applies CodeEditing requests. Writes to the same file are serialized
// by a per-file advisory lock around the read-validate-write critical section;
// reads elsewhere are unrestricted.
type Editor struct {
	locks sync.Map // fs path -> *sync.Mutex
}

func NewEditor() *Editor { return &Editor{} }

func (e *Editor) lockFor(path string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// EditResult is the structured payload of a successful edit.
type EditResult struct {
	FSFilePath   string `json:"fs_file_path"`
	StartLine    int    `json:"start_line"`
	EndLine      int    `json:"end_line"`
	LinesBefore  int    `json:"lines_before"`
	LinesAfter   int    `json:"lines_after"`
	BytesWritten int    `json:"bytes_written"`
}

// Handler returns the broker handler for ToolCodeEditing.
func (e *Editor) Handler() Handler {
	return func(ctx context.Context, input ToolInput) (ToolOutput, error) {
		req, ok := input.(CodeEditing)
		if !ok {
			return ToolOutput{}, fmt.Errorf("expected CodeEditing input, got %T", input)
		}
		return e.Apply(ctx, req)
	}
}

// Apply validates the anchor against the current file snapshot and splices
// the replacement in. A drifted anchor fails with ErrStaleAnchor and leaves
// the file untouched.
func (e *Editor) Apply(ctx context.Context, req CodeEditing) (ToolOutput, error) {
	if req.FSFilePath == "" {
		return ToolOutput{}, fmt.Errorf("code editing requires a file path")
	}
	if req.StartLine < 1 || req.EndLine < req.StartLine {
		return ToolOutput{}, fmt.Errorf("invalid line range %d-%d", req.StartLine, req.EndLine)
	}

	mu := e.lockFor(req.FSFilePath)
	mu.Lock()
	defer mu.Unlock()

	if ctx.Err() != nil {
		return ToolOutput{}, ctx.Err()
	}

	raw, err := os.ReadFile(req.FSFilePath)
	if err != nil {
		return ToolOutput{}, fmt.Errorf("read %s: %w", req.FSFilePath, err)
	}
	lines := strings.Split(string(raw), "\n")

	if req.EndLine > len(lines) {
		return ToolOutput{}, fmt.Errorf("%w: range %d-%d exceeds %d lines in %s",
			ErrStaleAnchor, req.StartLine, req.EndLine, len(lines), req.FSFilePath)
	}
	region := strings.Join(lines[req.StartLine-1:req.EndLine], "\n")
	if len(req.SubSymbolNames) > 0 && !strings.Contains(region, req.SubSymbolNames[0]) {
		return ToolOutput{}, fmt.Errorf("%w: %q no longer present in %s:%d-%d",
			ErrStaleAnchor, req.SubSymbolNames[0], req.FSFilePath, req.StartLine, req.EndLine)
	}

	replacement := strings.Split(req.ReplaceWith, "\n")
	updated := make([]string, 0, len(lines)-(req.EndLine-req.StartLine+1)+len(replacement))
	updated = append(updated, lines[:req.StartLine-1]...)
	updated = append(updated, replacement...)
	updated = append(updated, lines[req.EndLine:]...)
	content := strings.Join(updated, "\n")

	info, err := os.Stat(req.FSFilePath)
	if err != nil {
		return ToolOutput{}, fmt.Errorf("stat %s: %w", req.FSFilePath, err)
	}
	if err := atomicWrite(req.FSFilePath, []byte(content), info.Mode()); err != nil {
		return ToolOutput{}, fmt.Errorf("write %s: %w", req.FSFilePath, err)
	}

	logging.Edit("%s:%d-%d replaced (%d -> %d lines)",
		req.FSFilePath, req.StartLine, req.EndLine, req.EndLine-req.StartLine+1, len(replacement))

	result := EditResult{
		FSFilePath:   req.FSFilePath,
		StartLine:    req.StartLine,
		EndLine:      req.EndLine,
		LinesBefore:  len(lines),
		LinesAfter:   len(updated),
		BytesWritten: len(content),
	}
	data, _ := json.Marshal(result)
	return ToolOutput{
		Text: fmt.Sprintf("edited %s lines %d-%d", req.FSFilePath, req.StartLine, req.EndLine),
		Data: data,
	}, nil
}

// atomicWrite lands the new content via a temp file and rename so a crash
// mid-write never leaves a truncated source file.
func atomicWrite(path string, content []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mecha-edit-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
