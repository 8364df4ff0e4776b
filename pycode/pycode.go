// Package pycode locates and splices function-level regions in Python
// source using tree-sitter. The reviser uses it to rewrite one function
// without regenerating the whole file.
package pycode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ErrRegionNotFound indicates no function with the requested name exists
// in the source.
var ErrRegionNotFound = errors.New("function region not found")

// Region is the byte span of one function definition, decorators
// included.
type Region struct {
	// Name is the function name; methods are qualified as "Class.method".
	Name string

	StartByte int
	EndByte   int
	StartLine int
	EndLine   int
}

// Splicer parses Python source and splices function regions.
// Not safe for concurrent use; the reflection loop is sequential.
type Splicer struct {
	parser *sitter.Parser
}

// NewSplicer creates a Splicer with a Python grammar.
func NewSplicer() *Splicer {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Splicer{parser: p}
}

// Functions lists every function region in source order: top-level
// functions by name, methods as "Class.method".
func (s *Splicer) Functions(ctx context.Context, src []byte) ([]Region, error) {
	tree, err := s.parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse python source: %w", err)
	}
	defer tree.Close()

	var regions []Region
	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		regions = append(regions, collectRegions(child, src, "")...)
	}
	return regions, nil
}

// Locate finds the region for a function name. A bare name matches a
// top-level function first, then any method with that name; a qualified
// "Class.method" name matches exactly.
func (s *Splicer) Locate(ctx context.Context, src []byte, name string) (*Region, error) {
	regions, err := s.Functions(ctx, src)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	for _, r := range regions {
		if r.Name == name {
			return &r, nil
		}
	}

	// Bare method name without the class qualifier.
	if !strings.Contains(name, ".") {
		for _, r := range regions {
			if strings.HasSuffix(r.Name, "."+name) {
				return &r, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, name)
}

// Replace splices newCode over the named function's region and returns
// the updated source. newCode replaces the definition verbatim, so it
// must carry the indentation of the original region.
func (s *Splicer) Replace(ctx context.Context, src []byte, name, newCode string) ([]byte, error) {
	region, err := s.Locate(ctx, src, name)
	if err != nil {
		return nil, err
	}

	newCode = strings.TrimRight(newCode, "\n")

	var sb strings.Builder
	sb.Grow(len(src) - (region.EndByte - region.StartByte) + len(newCode))
	sb.Write(src[:region.StartByte])
	sb.WriteString(newCode)
	sb.Write(src[region.EndByte:])
	return []byte(sb.String()), nil
}

// collectRegions extracts regions from a top-level node. Class bodies
// contribute their methods with qualified names.
func collectRegions(node *sitter.Node, src []byte, classPrefix string) []Region {
	switch node.Type() {
	case "function_definition":
		if r := regionFor(node, node, src, classPrefix); r != nil {
			return []Region{*r}
		}

	case "decorated_definition":
		if def := definitionIn(node); def != nil {
			switch def.Type() {
			case "function_definition":
				// The region spans the decorators too.
				if r := regionFor(node, def, src, classPrefix); r != nil {
					return []Region{*r}
				}
			case "class_definition":
				return classRegions(def, src)
			}
		}

	case "class_definition":
		return classRegions(node, src)
	}
	return nil
}

// classRegions extracts method regions from a class body.
func classRegions(class *sitter.Node, src []byte) []Region {
	nameNode := class.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	className := string(src[nameNode.StartByte():nameNode.EndByte()])

	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}

	var regions []Region
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			if r := regionFor(child, child, src, className); r != nil {
				regions = append(regions, *r)
			}
		case "decorated_definition":
			if def := definitionIn(child); def != nil && def.Type() == "function_definition" {
				if r := regionFor(child, def, src, className); r != nil {
					regions = append(regions, *r)
				}
			}
		}
	}
	return regions
}

// regionFor builds a Region spanning outer (decorators included) named
// after def's name field.
func regionFor(outer, def *sitter.Node, src []byte, classPrefix string) *Region {
	nameNode := def.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	name := string(src[nameNode.StartByte():nameNode.EndByte()])
	if classPrefix != "" {
		name = classPrefix + "." + name
	}

	return &Region{
		Name:      name,
		StartByte: int(outer.StartByte()),
		EndByte:   int(outer.EndByte()),
		StartLine: int(outer.StartPoint().Row) + 1,
		EndLine:   int(outer.EndPoint().Row) + 1,
	}
}

// definitionIn finds the definition node inside a decorated_definition.
func definitionIn(node *sitter.Node) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_definition", "function_definition":
			return child
		}
	}
	return nil
}
