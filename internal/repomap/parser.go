package repomap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"mecha/internal/logging"
)

// Parser extracts tags from source files via tree-sitter. One parser instance
// per language; a Parser is not safe for concurrent use.
type Parser struct {
	parsers map[string]*sitter.Parser
}

var langByExt = map[string]string{
	".go":  "go",
	".py":  "python",
	".rs":  "rust",
	".js":  "javascript",
	".jsx": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
}

func languageFor(lang string) *sitter.Language {
	switch lang {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "rust":
		return rust.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	}
	return nil
}

// NewParser creates parsers for every supported language.
func NewParser() *Parser {
	p := &Parser{parsers: make(map[string]*sitter.Parser)}
	for _, lang := range []string{"go", "python", "rust", "javascript", "typescript"} {
		sp := sitter.NewParser()
		sp.SetLanguage(languageFor(lang))
		p.parsers[lang] = sp
	}
	return p
}

// Close releases the underlying tree-sitter parsers.
func (p *Parser) Close() {
	for _, sp := range p.parsers {
		sp.Close()
	}
}

// Supported reports whether the file extension maps to a known grammar.
func Supported(path string) bool {
	_, ok := langByExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Tags parses one file and returns its definition and reference tags. Files
// with an unsupported extension yield no tags and no error.
func (p *Parser) Tags(ctx context.Context, relPath string, content []byte) ([]Tag, error) {
	lang, ok := langByExt[strings.ToLower(filepath.Ext(relPath))]
	if !ok {
		return nil, nil
	}
	tree, err := p.parsers[lang].ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", relPath, err)
	}
	defer tree.Close()

	var tags []Tag
	switch lang {
	case "go":
		tags = extractGoTags(tree.RootNode(), relPath, content)
	case "python":
		tags = extractPythonTags(tree.RootNode(), relPath, content)
	case "rust":
		tags = extractRustTags(tree.RootNode(), relPath, content)
	case "javascript", "typescript":
		tags = extractJSTags(tree.RootNode(), relPath, content)
	}
	logging.RepoMapDebug("%s: %d tags", relPath, len(tags))
	return tags, nil
}

// callee digs the identifier out of a call-expression function node, peeling
// selector/attribute wrappers so `pkg.Fn(...)` yields "Fn".
func callee(fn *sitter.Node, content []byte) string {
	switch fn.Type() {
	case "identifier", "field_identifier", "property_identifier":
		return fn.Content(content)
	case "selector_expression":
		if f := fn.ChildByFieldName("field"); f != nil {
			return f.Content(content)
		}
	case "attribute":
		if a := fn.ChildByFieldName("attribute"); a != nil {
			return a.Content(content)
		}
	case "member_expression":
		if pr := fn.ChildByFieldName("property"); pr != nil {
			return pr.Content(content)
		}
	case "scoped_identifier":
		if n := fn.ChildByFieldName("name"); n != nil {
			return n.Content(content)
		}
	case "generic_function":
		if f := fn.ChildByFieldName("function"); f != nil {
			return callee(f, content)
		}
	}
	return ""
}

func extractGoTags(root *sitter.Node, relPath string, content []byte) []Tag {
	var tags []Tag
	getText := func(n *sitter.Node) string { return n.Content(content) }

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "function_declaration", "method_declaration":
			nameNode := n.ChildByFieldName("name")
			if nameNode != nil {
				name := getText(nameNode)
				signature := "func "
				if recv := n.ChildByFieldName("receiver"); recv != nil {
					signature += getText(recv) + " "
				}
				signature += name
				if params := n.ChildByFieldName("parameters"); params != nil {
					signature += getText(params)
				}
				if result := n.ChildByFieldName("result"); result != nil {
					signature += " " + getText(result)
				}
				tags = append(tags, Tag{
					RelPath: relPath, Name: name, Kind: TagDefinition,
					Line: int(nameNode.StartPoint().Row) + 1, Signature: signature,
				})
			}
		case "type_declaration":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				spec := n.NamedChild(i)
				if spec.Type() != "type_spec" {
					continue
				}
				nameNode := spec.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				name := getText(nameNode)
				kind := "type"
				if typeNode := spec.ChildByFieldName("type"); typeNode != nil {
					switch typeNode.Type() {
					case "struct_type":
						kind = "struct"
					case "interface_type":
						kind = "interface"
					}
				}
				tags = append(tags, Tag{
					RelPath: relPath, Name: name, Kind: TagDefinition,
					Line: int(nameNode.StartPoint().Row) + 1, Signature: fmt.Sprintf("type %s %s", name, kind),
				})
			}
		case "call_expression":
			if fn := n.ChildByFieldName("function"); fn != nil {
				if name := callee(fn, content); name != "" {
					tags = append(tags, Tag{
						RelPath: relPath, Name: name, Kind: TagReference,
						Line: int(fn.StartPoint().Row) + 1,
					})
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return tags
}

func extractPythonTags(root *sitter.Node, relPath string, content []byte) []Tag {
	var tags []Tag
	getText := func(n *sitter.Node) string { return n.Content(content) }

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "class_definition":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				name := getText(nameNode)
				tags = append(tags, Tag{
					RelPath: relPath, Name: name, Kind: TagDefinition,
					Line: int(nameNode.StartPoint().Row) + 1, Signature: "class " + name,
				})
			}
		case "function_definition":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				name := getText(nameNode)
				signature := "def " + name
				if params := n.ChildByFieldName("parameters"); params != nil {
					signature += getText(params)
				}
				tags = append(tags, Tag{
					RelPath: relPath, Name: name, Kind: TagDefinition,
					Line: int(nameNode.StartPoint().Row) + 1, Signature: signature,
				})
			}
		case "call":
			if fn := n.ChildByFieldName("function"); fn != nil {
				if name := callee(fn, content); name != "" {
					tags = append(tags, Tag{
						RelPath: relPath, Name: name, Kind: TagReference,
						Line: int(fn.StartPoint().Row) + 1,
					})
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return tags
}

func extractRustTags(root *sitter.Node, relPath string, content []byte) []Tag {
	var tags []Tag
	getText := func(n *sitter.Node) string { return n.Content(content) }

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "function_item":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				name := getText(nameNode)
				signature := "fn " + name
				if params := n.ChildByFieldName("parameters"); params != nil {
					signature += getText(params)
				}
				tags = append(tags, Tag{
					RelPath: relPath, Name: name, Kind: TagDefinition,
					Line: int(nameNode.StartPoint().Row) + 1, Signature: signature,
				})
			}
		case "struct_item", "enum_item", "trait_item":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				name := getText(nameNode)
				kind := strings.TrimSuffix(n.Type(), "_item")
				tags = append(tags, Tag{
					RelPath: relPath, Name: name, Kind: TagDefinition,
					Line: int(nameNode.StartPoint().Row) + 1, Signature: kind + " " + name,
				})
			}
		case "call_expression":
			if fn := n.ChildByFieldName("function"); fn != nil {
				if name := callee(fn, content); name != "" {
					tags = append(tags, Tag{
						RelPath: relPath, Name: name, Kind: TagReference,
						Line: int(fn.StartPoint().Row) + 1,
					})
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return tags
}

func extractJSTags(root *sitter.Node, relPath string, content []byte) []Tag {
	var tags []Tag
	getText := func(n *sitter.Node) string { return n.Content(content) }

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "class_declaration", "interface_declaration":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				name := getText(nameNode)
				kind := "class"
				if n.Type() == "interface_declaration" {
					kind = "interface"
				}
				tags = append(tags, Tag{
					RelPath: relPath, Name: name, Kind: TagDefinition,
					Line: int(nameNode.StartPoint().Row) + 1, Signature: kind + " " + name,
				})
			}
		case "function_declaration", "method_definition":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				name := getText(nameNode)
				signature := "function " + name
				if params := n.ChildByFieldName("parameters"); params != nil {
					signature += getText(params)
				}
				tags = append(tags, Tag{
					RelPath: relPath, Name: name, Kind: TagDefinition,
					Line: int(nameNode.StartPoint().Row) + 1, Signature: signature,
				})
			}
		case "lexical_declaration":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				if child.Type() != "variable_declarator" {
					continue
				}
				nameNode := child.ChildByFieldName("name")
				valueNode := child.ChildByFieldName("value")
				if nameNode == nil || valueNode == nil {
					continue
				}
				if valueNode.Type() == "arrow_function" || valueNode.Type() == "function_expression" || valueNode.Type() == "function" {
					name := getText(nameNode)
					tags = append(tags, Tag{
						RelPath: relPath, Name: name, Kind: TagDefinition,
						Line: int(nameNode.StartPoint().Row) + 1, Signature: "const " + name + " = ...",
					})
				}
			}
		case "call_expression":
			if fn := n.ChildByFieldName("function"); fn != nil {
				if name := callee(fn, content); name != "" {
					tags = append(tags, Tag{
						RelPath: relPath, Name: name, Kind: TagReference,
						Line: int(fn.StartPoint().Row) + 1,
					})
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return tags
}
