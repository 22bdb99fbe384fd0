package engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/template"
)

// conditionEvaluator evaluates condition node predicates. The built in
// operators compare loosely typed variable values; the expression operator
// runs a compiled expr program against the variable map, programs are cached
// per expression.
type conditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// evaluate applies cfg against the variable store. A missing variable reads
// as empty string; greater/less compare numerically when both operands parse
// as numbers and fall back to case insensitive string order otherwise.
func (ce *conditionEvaluator) evaluate(cfg *model.ConditionConfig, variables map[string]any) (bool, error) {
	if cfg.Operator == model.OPERATOR_EXPRESSION {
		return ce.evaluateExpression(cfg.Expression, variables)
	}
	left := template.FormatValue(variables[cfg.Variable])
	right := cfg.Value

	switch cfg.Operator {
	case model.OPERATOR_EQUALS:
		return strings.EqualFold(left, right), nil
	case model.OPERATOR_CONTAINS:
		return strings.Contains(strings.ToLower(left), strings.ToLower(right)), nil
	case model.OPERATOR_GREATER, model.OPERATOR_LESS:
		lf, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64)
		rf, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64)
		if lerr == nil && rerr == nil {
			if cfg.Operator == model.OPERATOR_GREATER {
				return lf > rf, nil
			}
			return lf < rf, nil
		}
		ll := strings.ToLower(left)
		rl := strings.ToLower(right)
		if cfg.Operator == model.OPERATOR_GREATER {
			return ll > rl, nil
		}
		return ll < rl, nil
	default:
		return false, fmt.Errorf("unknown condition operator %s", cfg.Operator)
	}
}

func (ce *conditionEvaluator) evaluateExpression(expression string, variables map[string]any) (bool, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	ce.mu.RLock()
	program, ok := ce.cache[expression]
	ce.mu.RUnlock()

	if !ok {
		ce.mu.Lock()
		if program, ok = ce.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(variables))
			if err != nil {
				ce.mu.Unlock()
				return false, err
			}
			ce.cache[expression] = program
		}
		ce.mu.Unlock()
	}

	result, err := expr.Run(program, variables)
	if err != nil {
		return false, err
	}
	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", expression, result)
	}
	return boolResult, nil
}
