// Package conversion evaluates per-edge conversion functions and flow
// condition expressions. Sources are CEL expressions compiled once per
// workflow version, cached by content hash, and evaluated hermetically: the
// environment exposes a single input binding and the standard pure CEL
// builtins, so there is no ambient authority to escape into. Evaluation is
// wall-time bounded through context deadlines plus interrupt checks, and
// cost bounded through CEL's cost limit.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowforge/engine/engine/core"
	"github.com/flowforge/engine/engine/exec"
)

// InputVar is the single binding a conversion function sees: the upstream
// output slice selected by the edge's output key.
const InputVar = "input_data"

const (
	defaultTimeBudget   = 200 * time.Millisecond
	defaultCostLimit    = 1_000_000
	defaultCacheSize    = 256
	interruptCheckEvery = 100
)

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// Options tunes the runtime's resource bounds.
type Options struct {
	// TimeBudget bounds one evaluation's wall time. Zero selects the default.
	TimeBudget time.Duration
	// CostLimit bounds one evaluation's CEL cost. Zero selects the default.
	CostLimit uint64
	// CacheSize bounds the compiled-program cache. Zero selects the default.
	CacheSize int
}

// Runtime compiles and evaluates conversion functions and condition
// expressions. Safe for concurrent use.
type Runtime struct {
	convEnv    *cel.Env
	timeBudget time.Duration
	costLimit  uint64

	programs   *lru.Cache[string, cel.Program]
	conditions *lru.Cache[string, cel.Program]
}

// NewRuntime builds a Runtime with the given bounds.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = defaultTimeBudget
	}
	if opts.CostLimit == 0 {
		opts.CostLimit = defaultCostLimit
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	env, err := cel.NewEnv(cel.Variable(InputVar, cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("build conversion env: %w", err)
	}
	programs, err := lru.New[string, cel.Program](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	conditions, err := lru.New[string, cel.Program](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		convEnv:    env,
		timeBudget: opts.TimeBudget,
		costLimit:  opts.CostLimit,
		programs:   programs,
		conditions: conditions,
	}, nil
}

// Parse compiles source without evaluating it. The validator calls this so
// creation-time syntax checking and runtime compilation can never disagree.
func (r *Runtime) Parse(source string) error {
	_, err := r.program(source)
	return err
}

func (r *Runtime) program(source string) (cel.Program, error) {
	key := core.ETagFromAny(source)
	if prg, ok := r.programs.Get(key); ok {
		return prg, nil
	}
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, errors.New("empty conversion function")
	}
	ast, iss := r.convEnv.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile conversion function: %w", iss.Err())
	}
	prg, err := r.convEnv.Program(ast,
		cel.InterruptCheckFrequency(interruptCheckEvery),
		cel.CostLimit(r.costLimit),
		cel.EvalOptions(cel.OptOptimize, cel.OptTrackCost),
	)
	if err != nil {
		return nil, fmt.Errorf("plan conversion function: %w", err)
	}
	r.programs.Add(key, prg)
	return prg, nil
}

// Convert applies source to value. An empty source is the identity
// passthrough. Failures return a CONVERSION_ERROR-coded core.Error carrying
// the edge id so reviewers can find the offending connection.
func (r *Runtime) Convert(ctx context.Context, edgeID, source string, value any) (any, *core.Error) {
	if strings.TrimSpace(source) == "" {
		return value, nil
	}
	prg, err := r.program(source)
	if err != nil {
		return nil, conversionError(edgeID, err)
	}
	out, err := r.eval(ctx, prg, map[string]any{InputVar: value})
	if err != nil {
		return nil, conversionError(edgeID, err)
	}
	return out, nil
}

func (r *Runtime) eval(ctx context.Context, prg cel.Program, vars map[string]any) (any, error) {
	evalCtx, cancel := context.WithTimeout(ctx, r.timeBudget)
	defer cancel()
	out, _, err := prg.ContextEval(evalCtx, vars)
	if err != nil {
		if evalCtx.Err() != nil {
			return nil, fmt.Errorf("conversion exceeded time budget of %v", r.timeBudget)
		}
		return nil, err
	}
	return nativeValue(out)
}

func nativeValue(v ref.Val) (any, error) {
	native, err := v.ConvertToNative(anyType)
	if err != nil {
		return nil, fmt.Errorf("convert result to native value: %w", err)
	}
	return native, nil
}

// truncate keeps error messages reviewable when a conversion fails deep in
// user data.
const maxErrorLen = 256

func conversionError(edgeID string, err error) *core.Error {
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen] + "..."
	}
	return core.NewError(errors.New(msg), string(exec.KindConversionError), map[string]any{
		"edge_id": edgeID,
	})
}

// EvalCondition evaluates a boolean expression over the given input map.
// Every top-level input key becomes a root identifier, so expressions read
// like "data.score >= 40". Used by FLOW.IF, FLOW.SWITCH and FLOW.FILTER.
func (r *Runtime) EvalCondition(ctx context.Context, expr string, input map[string]any) (bool, error) {
	prg, err := r.conditionProgram(expr, input)
	if err != nil {
		return false, err
	}
	evalCtx, cancel := context.WithTimeout(ctx, r.timeBudget)
	defer cancel()
	out, _, err := prg.ContextEval(evalCtx, input)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q is not boolean, got %T", expr, out.Value())
	}
	return b, nil
}

func (r *Runtime) conditionProgram(expr string, input map[string]any) (cel.Program, error) {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cacheKey := core.ETagFromAny([]any{expr, keys})
	if prg, ok := r.conditions.Get(cacheKey); ok {
		return prg, nil
	}
	decls := make([]cel.EnvOption, 0, len(keys))
	for _, k := range keys {
		decls = append(decls, cel.Variable(k, cel.DynType))
	}
	env, err := cel.NewEnv(decls...)
	if err != nil {
		return nil, fmt.Errorf("build condition env: %w", err)
	}
	ast, iss := env.Compile(strings.TrimSpace(expr))
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile condition: %w", iss.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(interruptCheckEvery),
		cel.CostLimit(r.costLimit),
		cel.EvalOptions(cel.OptOptimize, cel.OptTrackCost),
	)
	if err != nil {
		return nil, fmt.Errorf("plan condition: %w", err)
	}
	r.conditions.Add(cacheKey, prg)
	return prg, nil
}
