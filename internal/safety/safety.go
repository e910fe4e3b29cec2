// Package safety statically vets oracle-generated snippets before they run.
//
// The check is an allowlist over the parsed Starlark syntax tree: every node
// kind and every call target must be explicitly recognized, so a construct
// this package has never heard of is rejected by default. Starlark itself
// carries no ambient authority (no filesystem, network, or eval builtins),
// which makes this walk defense in depth rather than the only wall — but it
// is still the place where load statements, function definitions, and calls
// to unknown names are turned away with a named reason.
package safety

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"
)

// UnsafeCodeError reports the first disallowed construct found in a snippet.
// Rejection is total: one bad node fails the whole snippet.
type UnsafeCodeError struct {
	Construct string
	Line      int32
}

func (e *UnsafeCodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("unsafe code: %s (line %d)", e.Construct, e.Line)
	}
	return "unsafe code: " + e.Construct
}

// FileOptions is the dialect snippets are parsed and executed with. Loops
// and set literals are part of the surface; recursion stays off so the step
// bound is the only thing loops can spend.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// capabilities are the names the harness predeclares for every snippet.
var capabilities = map[string]bool{
	"store":         true,
	"ctx":           true,
	"plan":          true,
	"make_response": true,
}

// safeBuiltins are the only bare-name calls allowed besides capabilities.
var safeBuiltins = map[string]bool{
	"len": true, "range": true, "enumerate": true, "zip": true,
	"sorted": true, "reversed": true, "min": true, "max": true,
	"abs": true, "any": true, "all": true,
	"bool": true, "int": true, "float": true, "str": true,
	"list": true, "dict": true, "set": true, "tuple": true,
	"type": true, "repr": true, "print": true, "fail": true,
}

// AllowedCall reports whether a bare identifier may be called.
func AllowedCall(name string) bool {
	return capabilities[name] || safeBuiltins[name]
}

// Check parses src and walks the tree against the allowlist. A snippet that
// does not parse is rejected the same way as one with a forbidden node.
func Check(src string) error {
	f, err := FileOptions.Parse("plan.star", src, 0)
	if err != nil {
		return &UnsafeCodeError{Construct: fmt.Sprintf("unparseable code: %v", err)}
	}

	var found *UnsafeCodeError
	syntax.Walk(f, func(n syntax.Node) bool {
		if n == nil || found != nil {
			return false
		}
		if e := checkNode(n); e != nil {
			found = e
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	return nil
}

func checkNode(n syntax.Node) *UnsafeCodeError {
	switch node := n.(type) {
	case *syntax.File,
		*syntax.ExprStmt, *syntax.AssignStmt, *syntax.IfStmt,
		*syntax.ForStmt, *syntax.WhileStmt, *syntax.BranchStmt,
		*syntax.Literal, *syntax.Ident,
		*syntax.ListExpr, *syntax.DictExpr, *syntax.DictEntry,
		*syntax.TupleExpr, *syntax.ParenExpr,
		*syntax.UnaryExpr, *syntax.BinaryExpr, *syntax.CondExpr,
		*syntax.Comprehension, *syntax.ForClause, *syntax.IfClause,
		*syntax.IndexExpr, *syntax.SliceExpr:
		return nil

	case *syntax.DotExpr:
		if strings.HasPrefix(node.Name.Name, "_") {
			return reject(n, fmt.Sprintf("access to private attribute %q", node.Name.Name))
		}
		return nil

	case *syntax.CallExpr:
		switch fn := node.Fn.(type) {
		case *syntax.Ident:
			if !AllowedCall(fn.Name) {
				return reject(n, fmt.Sprintf("call to %q", fn.Name))
			}
		case *syntax.DotExpr:
			// Method call; the receiver's own surface governs what exists.
		default:
			return reject(n, "call through a computed expression")
		}
		return nil

	case *syntax.LoadStmt:
		return reject(n, "load statement")
	case *syntax.DefStmt:
		return reject(n, "function definition")
	case *syntax.LambdaExpr:
		return reject(n, "lambda")
	case *syntax.ReturnStmt:
		return reject(n, "return statement")

	default:
		// Fail closed on anything this walk does not recognize.
		return reject(n, fmt.Sprintf("unrecognized construct %T", n))
	}
}

func reject(n syntax.Node, construct string) *UnsafeCodeError {
	start, _ := n.Span()
	return &UnsafeCodeError{Construct: construct, Line: start.Line}
}
