package script

import (
	"fmt"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
	"github.com/madfam-io/sim4d-sub012/pkg/graph"
)

// preprocessSource rewrites script source before passing it to zygomys.
// It performs two transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: node-ref -> node_ref
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
// Both transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Convert ; line comments to // comments for zygomys.
		// zygomys uses // for line comments, not the traditional Lisp ;.
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			// Skip additional ; characters (;; style).
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Transform :keyword to "__kw_keyword".
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			// Check for keyword: colon followed by a letter.
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				kwName := string(b[i+1 : j])
				result = append(result, '"')
				result = append(result, []byte(kwPrefix)...)
				result = append(result, []byte(kwName)...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Transform kebab-case identifiers: alpha-alpha -> alpha_alpha.
		// Only when hyphen sits between identifier characters (not a minus operator).
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isIdentStartChar(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isIdentStartChar(c byte) bool {
	return isLetter(c)
}

// sexpNodeRef wraps a declared node id so it can be passed between builtins.
type sexpNodeRef struct {
	id     graph.NodeID
	typeID string
}

func (n *sexpNodeRef) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(node-ref %q)", string(n.id))
}
func (n *sexpNodeRef) Type() *zygo.RegisteredType { return nil }

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
// order keeps keywords in source order so errors are reported deterministically.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	order      []string
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if !ok {
			result.positional = append(result.positional, args[i])
			i++
			continue
		}
		if _, seen := result.kw[name]; !seen {
			result.order = append(result.order, name)
		}
		if i+1 < len(args) {
			result.kw[name] = args[i+1]
			i += 2
		} else {
			// Keyword at end with no value: treat as a true flag.
			result.kw[name] = &zygo.SexpBool{Val: true}
			i++
		}
	}
	return result
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toValue converts a literal into a param value. Keywords become their
// bare name so enum params read naturally: :mode :fast.
func toValue(s zygo.Sexp) (any, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return v.Val, nil
	case *zygo.SexpFloat:
		return v.Val, nil
	case *zygo.SexpBool:
		return v.Val, nil
	case *zygo.SexpStr:
		if name, ok := isKW(v); ok {
			return name, nil
		}
		return v.S, nil
	}
	return nil, fmt.Errorf("expected number, bool or string, got %T (%s)", s, s.SexpString(nil))
}

// toNodeID accepts a node reference or a plain id string.
func toNodeID(s zygo.Sexp) (graph.NodeID, error) {
	switch v := s.(type) {
	case *sexpNodeRef:
		return v.id, nil
	case *zygo.SexpStr:
		if _, ok := isKW(v); !ok {
			return graph.NodeID(v.S), nil
		}
	}
	return graph.ZeroID, fmt.Errorf("expected node reference or id, got %T (%s)", s, s.SexpString(nil))
}

// toNodeIDs accepts a single node or a list of them.
func toNodeIDs(s zygo.Sexp) ([]graph.NodeID, error) {
	switch s.(type) {
	case *zygo.SexpPair, *zygo.SexpArray:
		items, err := sexpListToSlice(s)
		if err != nil {
			return nil, err
		}
		ids := make([]graph.NodeID, 0, len(items))
		for _, item := range items {
			id, err := toNodeID(item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	id, err := toNodeID(s)
	if err != nil {
		return nil, err
	}
	return []graph.NodeID{id}, nil
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// registerBuiltins installs the node graph builtins into a zygomys
// environment. They populate d while the script runs. When cat is set,
// node types and param names are checked as they are declared.
//
// Source must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, d *Design, cat *catalog.Catalog) {

	// (node "a" "Rectangle" :w 10 :h 5)
	env.AddFunction("node", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("node requires an id and a type, got %d positional arguments", len(pa.positional))
		}
		id, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("node: id: %w", err)
		}
		if id == "" {
			return zygo.SexpNull, fmt.Errorf("node: id must not be empty")
		}
		typeID, err := toString(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("node %s: type: %w", id, err)
		}

		var entry *catalog.Entry
		if cat != nil {
			var ok bool
			if entry, ok = cat.Lookup(typeID); !ok {
				return zygo.SexpNull, fmt.Errorf("node %s: unknown type %q", id, typeID)
			}
		}

		params := make(map[string]any, len(pa.order))
		for _, k := range pa.order {
			if entry != nil {
				if _, ok := entry.Param(k); !ok {
					return zygo.SexpNull, fmt.Errorf("node %s: %s has no param %q", id, typeID, k)
				}
			}
			v, err := toValue(pa.kw[k])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("node %s: %s: %w", id, k, err)
			}
			params[k] = v
		}

		if err := d.declare(graph.NodeID(id), typeID, params); err != nil {
			return zygo.SexpNull, fmt.Errorf("node: %w", err)
		}
		return &sexpNodeRef{id: graph.NodeID(id), typeID: typeID}, nil
	})

	// (node-ref "a")
	env.AddFunction("node_ref", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("node-ref requires an id argument")
		}
		id, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("node-ref: %w", err)
		}
		n, ok := d.Node(graph.NodeID(id))
		if !ok {
			return zygo.SexpNull, fmt.Errorf("node-ref: no node named %q", id)
		}
		return &sexpNodeRef{id: n.ID, typeID: n.TypeID}, nil
	})

	// (connect "a" "profile" "b" "profile")
	// (connect (list a b c) "solid" "u" "solids")
	env.AddFunction("connect", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 4 {
			return zygo.SexpNull, fmt.Errorf("connect requires 4 arguments (from port to port), got %d", len(args))
		}
		froms, err := toNodeIDs(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("connect: from: %w", err)
		}
		fromPort, err := toString(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("connect: from port: %w", err)
		}
		to, err := toNodeID(args[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("connect: to: %w", err)
		}
		toPort, err := toString(args[3])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("connect: to port: %w", err)
		}
		for _, from := range froms {
			if err := d.connect(from, fromPort, to, toPort); err != nil {
				return zygo.SexpNull, fmt.Errorf("connect: %w", err)
			}
		}
		return zygo.SexpNull, nil
	})

	// (param "a" "w" 20)
	env.AddFunction("param", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("param requires 3 arguments (node name value), got %d", len(args))
		}
		id, err := toNodeID(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("param: node: %w", err)
		}
		pname, err := toString(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("param: name: %w", err)
		}
		v, err := toValue(args[2])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("param %s.%s: %w", id, pname, err)
		}
		if cat != nil {
			n, ok := d.Node(id)
			if ok {
				entry, _ := cat.Lookup(n.TypeID)
				if _, ok := entry.Param(pname); !ok {
					return zygo.SexpNull, fmt.Errorf("param: %s has no param %q", n.TypeID, pname)
				}
			}
		}
		if err := d.setParam(id, pname, v); err != nil {
			return zygo.SexpNull, fmt.Errorf("param: %w", err)
		}
		return zygo.SexpNull, nil
	})
}
