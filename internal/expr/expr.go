// Package expr evaluates jq-style filter/path expressions against JSON
// documents. It backs mapping selection, field-level templating, and
// report templating.
package expr

import (
	"log"
	"sync"

	"github.com/itchyny/gojq"
)

// Engine compiles and evaluates jq expressions, caching compiled queries by
// source text the way internal/outbox/dispatcher.go in the teacher caches
// schema IDs by subject in a sync.Map.
type Engine struct {
	logger *log.Logger
	cache  sync.Map // string -> *gojq.Code
}

// New builds an Engine that logs evaluation failures to logger (or the
// default logger, if nil).
func New(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[expr] ", log.LstdFlags)
	}
	return &Engine{logger: logger}
}

// Eval runs expression against doc and returns the first emitted result.
// A parse error, a compile error, or a runtime error are all logged at
// warning level and reported back as (nil, false) rather than propagated —
// per the contract, a failing expression never aborts the pipeline.
func (e *Engine) Eval(expression string, doc any) (any, bool) {
	code, err := e.compile(expression)
	if err != nil {
		e.logger.Printf("warning: compile %q: %v", expression, err)
		return nil, false
	}

	iter := code.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if err, isErr := v.(error); isErr {
		e.logger.Printf("warning: evaluate %q: %v", expression, err)
		return nil, false
	}
	return v, true
}

// EvalBool evaluates expression and reports whether it yielded the boolean
// true. Any other outcome (error, non-boolean result, no result) is false.
func (e *Engine) EvalBool(expression string, doc any) bool {
	v, ok := e.Eval(expression, doc)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	return isBool && b
}

func (e *Engine) compile(expression string) (*gojq.Code, error) {
	if cached, ok := e.cache.Load(expression); ok {
		return cached.(*gojq.Code), nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, err
	}
	e.cache.Store(expression, code)
	return code, nil
}
