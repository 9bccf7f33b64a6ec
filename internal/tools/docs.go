package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var docExtensions = map[string]bool{".md": true, ".txt": true, ".rst": true}

// DocLookup answers documentation queries by scanning prose files under root.
// A line matches when it contains every query word, case-insensitive. Scope
// narrows the scan to a subdirectory of root.
func DocLookup(root string) AskDocumentationFunc {
	return func(ctx context.Context, query, scope string) (string, error) {
		words := strings.Fields(strings.ToLower(query))
		if len(words) == 0 {
			return "", errors.New("empty documentation query")
		}
		dir := filepath.Clean(root)
		if scope != "" {
			dir = filepath.Join(dir, scope)
		}

		var sb strings.Builder
		hits := 0
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
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
			if !docExtensions[strings.ToLower(filepath.Ext(path))] {
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
				lower := strings.ToLower(line)
				matched := true
				for _, w := range words {
					if !strings.Contains(lower, w) {
						matched = false
						break
					}
				}
				if !matched {
					continue
				}
				fmt.Fprintf(&sb, "%s:%d: %s\n", path, i+1, strings.TrimSpace(line))
				hits++
				if hits >= defaultSearchResults {
					return filepath.SkipAll
				}
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		if hits == 0 {
			return fmt.Sprintf("no documentation found for %q", query), nil
		}
		return sb.String(), nil
	}
}
