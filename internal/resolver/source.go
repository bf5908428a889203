package resolver

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/randomizedcoder/go-snip-runner/internal/language"
)

type importStmt struct {
	text  string
	line  int // 1-indexed
	start uint32
	end   uint32
}

type definition struct {
	name   string
	member bool // reached through a selector, e.g. a Go method
	text   string
	line  int
	start uint32
	end   uint32
}

// symbol is a name in reference position. Member symbols follow a
// selector (x.name) and only match member definitions.
type symbol struct {
	name   string
	member bool
}

type reference struct {
	symbol
	offset uint32
}

// sourceFile is the analysis of one file: its top-level imports and
// definitions plus every name in reference position, in byte order.
type sourceFile struct {
	path    string
	src     []byte
	imports []importStmt
	defs    []definition
	refs    []reference
}

func analyze(ctx context.Context, path string, src []byte, desc *language.Descriptor) (*sourceFile, error) {
	tree, err := parse(ctx, desc.Grammar, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()

	sf := &sourceFile{path: path, src: src}

	if desc.ImportQuery != "" {
		matches, err := runQuery(root, desc.Grammar, desc.ImportQuery)
		if err != nil {
			return nil, fmt.Errorf("%s imports: %w", desc.ID, err)
		}
		for _, m := range matches {
			n := m["import"]
			if n == nil {
				continue
			}
			text := strings.TrimRight(nodeText(n, src), "\r\n")
			if desc.ImportFormat != "" {
				text = fmt.Sprintf(desc.ImportFormat, text)
			}
			sf.imports = append(sf.imports, importStmt{
				text:  text,
				line:  int(n.StartPoint().Row) + 1,
				start: n.StartByte(),
				end:   n.EndByte(),
			})
		}
	}

	if desc.DefinitionQuery != "" {
		matches, err := runQuery(root, desc.Grammar, desc.DefinitionQuery)
		if err != nil {
			return nil, fmt.Errorf("%s definitions: %w", desc.ID, err)
		}
		for _, m := range matches {
			def, name, member := m["definition"], m["name"], false
			if name == nil {
				name, member = m["member"], true
			}
			if def == nil || name == nil {
				continue
			}
			sf.defs = append(sf.defs, definition{
				name:   nodeText(name, src),
				member: member,
				text:   strings.TrimRight(nodeText(def, src), "\r\n"),
				line:   int(def.StartPoint().Row) + 1,
				start:  def.StartByte(),
				end:    def.EndByte(),
			})
		}
	}

	sf.refs = collectRefs(root, src, desc)
	return sf, nil
}

// fieldSet indexes "parent_type.field" entries.
func fieldSet(entries []string) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[e] = true
	}
	return set
}

// collectRefs walks the tree in pre-order, so offsets come out ascending.
// A node's position is its parent's type plus the field it fills; binding
// positions are skipped and member positions are flagged.
func collectRefs(root *sitter.Node, src []byte, desc *language.Descriptor) []reference {
	if len(desc.IdentifierTypes) == 0 {
		return nil
	}
	want := fieldSet(desc.IdentifierTypes)
	members := fieldSet(desc.MemberFields)
	bindings := fieldSet(desc.BindingFields)

	type frame struct {
		node     *sitter.Node
		position string // "parent_type.field", or "" when unnamed
		depth    int
	}
	var refs []reference
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > maxTreeDepth {
			continue
		}
		if want[f.node.Type()] && !bindings[f.position] {
			refs = append(refs, reference{
				symbol: symbol{name: nodeText(f.node, src), member: members[f.position]},
				offset: f.node.StartByte(),
			})
		}
		parent := f.node.Type()
		for i := int(f.node.ChildCount()) - 1; i >= 0; i-- {
			child := f.node.Child(i)
			if child == nil {
				continue
			}
			var position string
			if field := f.node.FieldNameForChild(i); field != "" {
				position = parent + "." + field
			}
			stack = append(stack, frame{child, position, f.depth + 1})
		}
	}
	return refs
}

// refsIn returns distinct symbols inside [start, end) in first-seen order.
func (sf *sourceFile) refsIn(start, end uint32) []symbol {
	seen := make(map[symbol]bool)
	var syms []symbol
	for _, r := range sf.refs {
		if r.offset < start {
			continue
		}
		if r.offset >= end {
			break
		}
		if !seen[r.symbol] {
			seen[r.symbol] = true
			syms = append(syms, r.symbol)
		}
	}
	return syms
}

// lookup returns the index of the first definition of sym that does not
// overlap [exclStart, exclEnd).
func (sf *sourceFile) lookup(sym symbol, exclStart, exclEnd uint32) int {
	for i, d := range sf.defs {
		if d.name != sym.name || d.member != sym.member {
			continue
		}
		if d.start < exclEnd && exclStart < d.end {
			continue
		}
		return i
	}
	return -1
}

// selection is the requested line range located in a file.
type selection struct {
	text      string
	firstLine int
	lastLine  int
	start     uint32
	end       uint32
}

// selectLines clamps [first, last] to the file and returns the raw lines
// and their byte span.
func selectLines(src []byte, first, last int) selection {
	lines := bytes.SplitAfter(src, []byte("\n"))
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	if first < 1 {
		first = 1
	}
	if last > len(lines) {
		last = len(lines)
	}
	if first > last {
		return selection{firstLine: first, lastLine: first - 1}
	}

	var offset uint32
	for i := 0; i < first-1; i++ {
		offset += uint32(len(lines[i]))
	}
	start := offset
	var b strings.Builder
	for i := first - 1; i < last; i++ {
		b.Write(lines[i])
		offset += uint32(len(lines[i]))
	}
	return selection{
		text:      strings.TrimRight(b.String(), "\r\n"),
		firstLine: first,
		lastLine:  last,
		start:     start,
		end:       offset,
	}
}

// dedent removes the common leading whitespace of all non-blank lines.
func dedent(text string) string {
	lines := strings.Split(text, "\n")
	prefix := ""
	first := true
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		indent := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		if first {
			prefix = indent
			first = false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if prefix == "" {
		return text
	}
	for i, l := range lines {
		lines[i] = strings.TrimPrefix(l, prefix)
	}
	return strings.Join(lines, "\n")
}
