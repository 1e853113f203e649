package achievement

import (
	"fmt"
	"strings"

	lua "github.com/Shopify/go-lua"
)

// LuaRule compiles a Lua boolean expression into a custom rule. The
// expression sees the stats as globals: outcome (string), moves,
// mistakes (integers), elapsed_ms (number) and patterns (array table).
//
// Each evaluation runs in a fresh interpreter with only the base, math
// and string libraries, so scripts stay deterministic and free of IO.
// A script error makes the rule fail closed.
func LuaRule(expression string) (Rule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("lua expression is required")
	}
	chunk := "return (" + expression + ")"

	// Compile once against an empty environment to reject syntax errors
	// at definition-load time rather than during evaluation.
	probe := lua.NewState()
	if err := lua.LoadString(probe, chunk); err != nil {
		return nil, fmt.Errorf("compile lua rule: %w", err)
	}

	return func(stats GameStats) bool {
		state := lua.NewState()
		lua.Require(state, "_G", lua.BaseOpen, true)
		lua.Require(state, "math", lua.MathOpen, true)
		lua.Require(state, "string", lua.StringOpen, true)
		state.SetTop(0)

		bindStats(state, stats)

		if err := lua.DoString(state, chunk); err != nil {
			// Fails closed; Evaluate recovers the panic and reports it.
			panic(fmt.Sprintf("lua rule: %v", err))
		}
		result := state.ToBoolean(-1)
		state.Pop(1)
		return result
	}, nil
}

func bindStats(state *lua.State, stats GameStats) {
	state.PushString(stats.Outcome)
	state.SetGlobal("outcome")
	state.PushInteger(stats.Moves)
	state.SetGlobal("moves")
	state.PushInteger(stats.Mistakes)
	state.SetGlobal("mistakes")
	state.PushNumber(float64(stats.ElapsedMs))
	state.SetGlobal("elapsed_ms")

	state.NewTable()
	for i, pattern := range stats.Patterns {
		state.PushString(pattern)
		state.RawSetInt(-2, i+1)
	}
	state.SetGlobal("patterns")
}
