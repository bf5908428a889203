package resolver

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/python"
)

// maxTreeDepth bounds the identifier walk.
const maxTreeDepth = 1000

var (
	grammars    map[string]*sitter.Language
	grammarOnce sync.Once
)

func initGrammars() {
	grammarOnce.Do(func() {
		grammars = map[string]*sitter.Language{
			"c":      c.GetLanguage(),
			"cpp":    cpp.GetLanguage(),
			"go":     golang.GetLanguage(),
			"java":   java.GetLanguage(),
			"python": python.GetLanguage(),
		}
	})
}

func grammar(name string) (*sitter.Language, bool) {
	initGrammars()
	lang, ok := grammars[name]
	return lang, ok
}

// parse uses a fresh parser per call. Parsers are not reused because a
// cancelled ParseCtx leaves the parser unusable.
func parse(ctx context.Context, name string, src []byte) (*sitter.Tree, error) {
	lang, ok := grammar(name)
	if !ok {
		return nil, fmt.Errorf("no grammar %q", name)
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return tree, nil
}

type queryKey struct {
	grammar string
	query   string
}

type cachedQuery struct {
	once  sync.Once
	query *sitter.Query
	err   error
}

var queryCache sync.Map

func compiledQuery(name, queryStr string) (*sitter.Query, error) {
	val, _ := queryCache.LoadOrStore(queryKey{grammar: name, query: queryStr}, &cachedQuery{})
	cached := val.(*cachedQuery)
	cached.once.Do(func() {
		lang, ok := grammar(name)
		if !ok {
			cached.err = fmt.Errorf("no grammar %q", name)
			return
		}
		cached.query, cached.err = sitter.NewQuery([]byte(queryStr), lang)
	})
	return cached.query, cached.err
}

// runQuery executes a cached query and returns the captures of each match.
func runQuery(root *sitter.Node, name, queryStr string) ([]map[string]*sitter.Node, error) {
	query, err := compiledQuery(name, queryStr)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, root)

	var matches []map[string]*sitter.Node
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		captures := make(map[string]*sitter.Node, len(match.Captures))
		for _, capture := range match.Captures {
			captures[query.CaptureNameForId(capture.Index)] = capture.Node
		}
		matches = append(matches, captures)
	}
	return matches, nil
}

func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	start, end := n.StartByte(), n.EndByte()
	if start > end || int(end) > len(src) {
		return ""
	}
	return string(src[start:end])
}
