/*
expr.go - Formula interpreter for KPI indicators

PURPOSE:
  Template formulas are arithmetic expressions over five named inputs.
  They are compiled with expr-lang/expr against an environment holding
  only those inputs and a few numeric helpers; builtins are disabled, so
  nothing else is reachable from a formula.

LANGUAGE:
  Names:     weight avg_score total_salary quit_store_count sales_total
  Operators: + - * / %, comparisons, && || !, ?: and parentheses
  Functions: min max abs round floor ceil (a "Math." prefix is accepted)

  "===" and "!==" are read as "==" and "!=". "×" and "÷" are read as
  "*" and "/". Comparisons and logical operators yield 1 or 0, and any
  number can stand where a condition is expected (zero is false).
  round rounds halves toward positive infinity.

COMPILATION:
  A patch pass runs over the parsed tree before type checking. It routes
  "/" and "%" through checked helpers, wraps conditions and boolean
  results, and points the function names at the helpers in the
  environment.

EVALUATION ERRORS:
  Division or modulo by zero and non-finite results fail the evaluation.
*/
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
)

var (
	// ErrDivisionByZero is returned when a formula divides by zero.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrNotFinite is returned when a formula yields NaN or an infinity.
	ErrNotFinite = errors.New("result is not a finite number")
)

// SyntaxError reports a formula that does not compile.
type SyntaxError struct {
	Msg string
	Err error // compiler error, nil for rejected characters
}

func (e *SyntaxError) Error() string {
	return "syntax error: " + e.Msg
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Variable names available to formulas.
const (
	VarWeight         = "weight"
	VarAvgScore       = "avg_score"
	VarTotalSalary    = "total_salary"
	VarQuitStoreCount = "quit_store_count"
	VarSalesTotal     = "sales_total"
)

// Vars holds the five formula inputs.
type Vars struct {
	Weight         float64
	AvgScore       float64
	TotalSalary    float64
	QuitStoreCount float64
	SalesTotal     float64
}

// Expr is a compiled formula. It is immutable and safe for concurrent use.
type Expr struct {
	src     string
	program *vm.Program
}

var sourceRewrites = strings.NewReplacer(
	"!==", "!=",
	"===", "==",
	"×", "*",
	"÷", "/",
	"Math.", "",
)

// Compile parses and type-checks a formula.
func Compile(src string) (*Expr, error) {
	code := strings.TrimSpace(sourceRewrites.Replace(src))
	if code == "" {
		return nil, &SyntaxError{Msg: "empty formula"}
	}
	for _, r := range code {
		if !allowedRune(r) {
			return nil, &SyntaxError{Msg: fmt.Sprintf("unexpected %q", r)}
		}
	}

	var unused error
	program, err := expr.Compile(code,
		expr.Env(formulaEnv(Vars{}, &unused)),
		expr.DisableAllBuiltins(),
		expr.Patch(formulaPatch{}),
	)
	if err != nil {
		return nil, &SyntaxError{Msg: err.Error(), Err: err}
	}
	return &Expr{src: src, program: program}, nil
}

// Eval evaluates the formula against vars.
func (e *Expr) Eval(vars Vars) (float64, error) {
	var evalErr error
	out, err := expr.Run(e.program, formulaEnv(vars, &evalErr))
	if err != nil {
		return 0, err
	}
	if evalErr != nil {
		return 0, evalErr
	}
	v, ok := number(out)
	if !ok {
		return 0, fmt.Errorf("result %v is not a number", out)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	return v, nil
}

func (e *Expr) String() string { return e.src }

// Letters, digits and operator characters. Quotes, brackets, braces, "$"
// and ";" would open string, collection, environment or sequence syntax.
func allowedRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
		return true
	}
	return strings.ContainsRune("_.+-*/%(),?:<>=!&|", r)
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Helper names. The patch pass is the only place that emits them.
const (
	fnDiv    = "_div"
	fnMod    = "_mod"
	fnTruthy = "_truthy"
	fnNum    = "_num"
)

// functions maps formula function names to their helpers.
var functions = map[string]string{
	"min":   "_min",
	"max":   "_max",
	"abs":   "_abs",
	"round": "_round",
	"floor": "_floor",
	"ceil":  "_ceil",
}

// formulaEnv builds the evaluation environment. Division helpers record a
// zero divisor in fail and yield 0 so evaluation can finish.
func formulaEnv(vars Vars, fail *error) map[string]any {
	return map[string]any{
		VarWeight:         vars.Weight,
		VarAvgScore:       vars.AvgScore,
		VarTotalSalary:    vars.TotalSalary,
		VarQuitStoreCount: vars.QuitStoreCount,
		VarSalesTotal:     vars.SalesTotal,

		fnDiv: func(a, b any) float64 {
			x, y := toFloat(a), toFloat(b)
			if y == 0 {
				*fail = ErrDivisionByZero
				return 0
			}
			return x / y
		},
		fnMod: func(a, b any) float64 {
			x, y := toFloat(a), toFloat(b)
			if y == 0 {
				*fail = ErrDivisionByZero
				return 0
			}
			return math.Mod(x, y)
		},
		fnTruthy: truthy,
		fnNum:    func(v any) float64 { return toFloat(v) },

		"_min": func(first any, rest ...any) float64 {
			m := toFloat(first)
			for _, v := range rest {
				m = math.Min(m, toFloat(v))
			}
			return m
		},
		"_max": func(first any, rest ...any) float64 {
			m := toFloat(first)
			for _, v := range rest {
				m = math.Max(m, toFloat(v))
			}
			return m
		},
		"_abs":   func(v any) float64 { return math.Abs(toFloat(v)) },
		"_round": func(v any) float64 { return math.Floor(toFloat(v) + 0.5) },
		"_floor": func(v any) float64 { return math.Floor(toFloat(v)) },
		"_ceil":  func(v any) float64 { return math.Ceil(toFloat(v)) },
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat(v any) float64 {
	f, _ := number(v)
	return f
}

func truthy(v any) bool {
	f, ok := number(v)
	return ok && f != 0 && !math.IsNaN(f)
}

// =============================================================================
// PATCH PASS
// =============================================================================

// formulaPatch rewrites the parsed tree bottom-up:
//
//	a / b, a % b     -> _div(a, b), _mod(a, b)
//	a < b, a == b    -> _num(a < b), _num(a == b)
//	a && b, a || b   -> _num(_truthy(a) && _truthy(b))
//	!a               -> _num(!_truthy(a))
//	c ? x : y        -> _truthy(c) ? x : y
//	min(...)         -> _min(...)
type formulaPatch struct{}

func (formulaPatch) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.BinaryNode:
		switch n.Operator {
		case "/":
			ast.Patch(node, call(fnDiv, n.Left, n.Right))
		case "%":
			ast.Patch(node, call(fnMod, n.Left, n.Right))
		case "==", "!=", "<", "<=", ">", ">=":
			ast.Patch(node, call(fnNum, n))
		case "&&", "||", "and", "or":
			n.Left = call(fnTruthy, n.Left)
			n.Right = call(fnTruthy, n.Right)
			ast.Patch(node, call(fnNum, n))
		}
	case *ast.UnaryNode:
		if n.Operator == "!" || n.Operator == "not" {
			n.Node = call(fnTruthy, n.Node)
			ast.Patch(node, call(fnNum, n))
		}
	case *ast.ConditionalNode:
		n.Cond = call(fnTruthy, n.Cond)
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			if helper, ok := functions[id.Value]; ok {
				id.Value = helper
			}
		}
	}
}

func call(name string, args ...ast.Node) *ast.CallNode {
	return &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: name},
		Arguments: args,
	}
}
