// Package txfilter compiles the optional CEL store filter and evaluates it
// against fetched transactions before they are written.
package txfilter

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/davidrhodus/solana-node/internal/txstore"
)

// Filter wraps a compiled CEL program deciding whether a fetched
// transaction is stored. When disabled, Match always returns true.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// Compile parses and type-checks the filter expression. An empty expression
// yields a disabled filter that stores everything.
func Compile(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("signature", cel.StringType),
		cel.Variable("slot", cel.IntType),
		// Block timestamp in ms, 0 when the endpoint omitted it
		cel.Variable("block_time_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Enabled reports whether a non-empty expression was compiled.
func (f Filter) Enabled() bool { return f.enabled }

// Match evaluates the filter against a record. Evaluation errors reject the
// record.
func (f Filter) Match(rec txstore.Record) bool {
	if !f.enabled {
		return true
	}
	// BlockTime is unix seconds, 0 when unknown; 0 stays 0 in ms.
	blockMs := rec.BlockTime * 1000
	out, _, err := f.prog.Eval(map[string]any{
		"signature":     rec.Signature,
		"slot":          int64(rec.Slot),
		"block_time_ms": blockMs,
		"size":          int64(len(rec.Payload)),
		"now_ms":        time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
