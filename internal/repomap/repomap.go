package repomap

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"mecha/internal/llm/tokenizer"
	"mecha/internal/logging"
)

// DefaultTokenBudget bounds the rendered map when the caller passes none.
const DefaultTokenBudget = 1024

// maxFileSize skips generated or vendored blobs that would dominate parse
// time without improving the map.
const maxFileSize = 8 << 20

// defaultParseOffload is the size past which a file parses on the background
// worker instead of inline in the walk.
const defaultParseOffload = 1 << 20

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	".mecha":       true,
}

// Analyser scans a workspace root and produces ranked repository maps.
type Analyser struct {
	root      string
	parser    *Parser
	offloadAt int64
}

// NewAnalyser creates an analyser over root.
func NewAnalyser(root string) *Analyser {
	return &Analyser{root: root, parser: NewParser(), offloadAt: defaultParseOffload}
}

// SetParseOffloadThreshold overrides the size past which files parse on the
// background worker.
func (a *Analyser) SetParseOffloadThreshold(n int64) {
	if n > 0 {
		a.offloadAt = n
	}
}

// Close releases the tree-sitter parsers.
func (a *Analyser) Close() { a.parser.Close() }

// Scan walks the workspace and extracts tags from every supported source
// file. Small files parse inline; files over the offload threshold go to a
// background worker so the walk keeps streaming. Unparseable files are
// logged and skipped, not fatal.
func (a *Analyser) Scan(ctx context.Context) ([]Tag, error) {
	type parseJob struct {
		rel     string
		content []byte
	}
	jobs := make(chan parseJob, 4)
	var (
		wg       sync.WaitGroup
		deferred []Tag
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		// tree-sitter parsers are not safe for concurrent use, so the worker
		// carries its own set.
		p := NewParser()
		defer p.Close()
		for job := range jobs {
			fileTags, err := p.Tags(ctx, job.rel, job.content)
			if err != nil {
				logging.RepoMapDebug("skipping %s: %v", job.rel, err)
				continue
			}
			deferred = append(deferred, fileTags...)
		}
	}()

	var tags []Tag
	walkErr := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
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
		if !Supported(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(a.root, path)
		if err != nil {
			rel = path
		}
		if int64(len(content)) > a.offloadAt {
			select {
			case jobs <- parseJob{rel: rel, content: content}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
		fileTags, err := a.parser.Tags(ctx, rel, content)
		if err != nil {
			logging.RepoMapDebug("skipping %s: %v", rel, err)
			return nil
		}
		tags = append(tags, fileTags...)
		return nil
	})
	close(jobs)
	wg.Wait()
	if walkErr != nil {
		return nil, walkErr
	}
	tags = append(tags, deferred...)
	logging.RepoMap("scanned %s: %d tags", a.root, len(tags))
	return tags, nil
}

// Render scans the workspace and produces a map of the highest-ranked files
// and their definitions, trimmed to roughly tokenBudget tokens counted with
// the tokenizer identified by tokenizerID.
func (a *Analyser) Render(ctx context.Context, tokenizerID string, tokenBudget int) (string, error) {
	tags, err := a.Scan(ctx)
	if err != nil {
		return "", err
	}
	return RenderTags(tags, tokenizerID, tokenBudget), nil
}

// RenderTags ranks pre-scanned tags and renders the budgeted map. Exposed
// separately so callers with cached tags skip the workspace walk.
func RenderTags(tags []Tag, tokenizerID string, tokenBudget int) string {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	logging.RepoMapDebug("rendering with %s, budget %d tokens", tokenizer.Describe(tokenizerID), tokenBudget)

	defsByFile := make(map[string][]Tag)
	for _, t := range tags {
		if t.Kind == TagDefinition {
			defsByFile[t.RelPath] = append(defsByFile[t.RelPath], t)
		}
	}
	for _, defs := range defsByFile {
		sort.Slice(defs, func(i, j int) bool { return defs[i].Line < defs[j].Line })
	}

	var sb strings.Builder
	used := 0
	for _, fr := range BuildGraph(tags).Ranks() {
		defs := defsByFile[fr.RelPath]
		if len(defs) == 0 {
			continue
		}
		var block strings.Builder
		fmt.Fprintf(&block, "%s:\n", fr.RelPath)
		for _, d := range defs {
			fmt.Fprintf(&block, "  %s\n", d.Signature)
		}
		cost := tokenizer.Count(tokenizerID, block.String())
		if used+cost > tokenBudget {
			if used == 0 {
				// Always include at least the top file, trimmed.
				sb.WriteString(tokenizer.TrimToBudget(tokenizerID, block.String(), tokenBudget))
			}
			break
		}
		sb.WriteString(block.String())
		used += cost
	}
	return sb.String()
}
