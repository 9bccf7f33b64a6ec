// Package repomap builds a ranked map of a repository: tree-sitter extracts
// definition and reference tags per file, references link files into a graph,
// and a PageRank pass ranks files so the most-depended-on definitions surface
// first in a token-budgeted summary.
package repomap

// TagKind separates symbol definitions from references to them.
type TagKind int

const (
	TagDefinition TagKind = iota
	TagReference
)

func (k TagKind) String() string {
	if k == TagDefinition {
		return "def"
	}
	return "ref"
}

// Tag is one symbol occurrence in one file. Line is 1-based. Signature is
// only populated for definitions.
type Tag struct {
	RelPath   string
	Name      string
	Kind      TagKind
	Line      int
	Signature string
}

// FileRank pairs a file with its PageRank mass.
type FileRank struct {
	RelPath string
	Rank    float64
}
