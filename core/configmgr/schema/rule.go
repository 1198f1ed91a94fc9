package schema

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cordum/edgeconf/core/configerr"
	lua "github.com/yuin/gopher-lua"
)

const ruleTimeout = 100 * time.Millisecond

var (
	trueWord  = regexp.MustCompile(`\bTrue\b`)
	falseWord = regexp.MustCompile(`\bFalse\b`)

	// removed from the base library before a rule runs
	unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module",
		"collectgarbage", "print", "setfenv", "getfenv", "setmetatable", "getmetatable",
		"rawset", "rawget", "rawequal", "newproxy", "_printregs"}

	mathGlobals = map[string]string{
		"sqrt": "sqrt", "fabs": "abs", "ceil": "ceil", "floor": "floor",
		"sin": "sin", "cos": "cos", "tan": "tan", "asin": "asin", "acos": "acos", "atan": "atan",
		"exp": "exp", "log": "log", "log10": "log10", "pow": "pow",
	}
)

// EvalRule evaluates rule, a boolean expression over the identifier value.
// Python spellings of the inequality operator and the boolean literals are
// accepted. value is bound as a number when it parses as one.
func EvalRule(rule, value string) (bool, error) {
	expr := strings.TrimSpace(rule)
	if expr == "" {
		return true, nil
	}
	expr = strings.ReplaceAll(expr, "!=", "~=")
	expr = trueWord.ReplaceAllString(expr, "true")
	expr = falseWord.ReplaceAllString(expr, "false")

	L := newRuleState()
	defer L.Close()

	ctx, cancel := context.WithTimeout(context.Background(), ruleTimeout)
	defer cancel()
	L.SetContext(ctx)

	if n, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		L.SetGlobal("value", lua.LNumber(n))
	} else {
		L.SetGlobal("value", lua.LString(value))
	}

	fn, err := L.LoadString("return (" + expr + ")")
	if err != nil {
		return false, configerr.Valuef("invalid rule %q: %v", rule, err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return false, configerr.Valuef("rule %q failed: %v", rule, err)
	}
	result := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(result), nil
}

func newRuleState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenMath(L)
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if mt, ok := L.GetGlobal("math").(*lua.LTable); ok {
		for global, fn := range mathGlobals {
			L.SetGlobal(global, mt.RawGetString(fn))
		}
	}
	L.SetGlobal("factorial", L.NewFunction(luaFactorial))
	L.SetGlobal("pi", lua.LNumber(math.Pi))
	L.SetGlobal("e", lua.LNumber(math.E))
	return L
}

// maxFactorial is the largest n whose factorial fits in a float64.
const maxFactorial = 170

func luaFactorial(L *lua.LState) int {
	n := float64(L.CheckNumber(1))
	if n < 0 || n != math.Trunc(n) {
		L.ArgError(1, "factorial only accepts non-negative integral values")
		return 0
	}
	if n > maxFactorial {
		L.Push(lua.LNumber(math.Inf(1)))
		return 1
	}
	out := 1.0
	for i := 2.0; i <= n; i++ {
		out *= i
	}
	L.Push(lua.LNumber(out))
	return 1
}
