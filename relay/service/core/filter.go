package core

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"logrelay/internal/models"
)

// RecordFilter is a compiled subscription predicate. A nil *RecordFilter
// matches every record.
//
// Expressions see these variables:
//
//	level (int), levelLabel, msg, namespace, channel (string),
//	time (int, epoch ms), data (map), encrypted (bool)
//
// For example: level >= 40 && data.region == "eu".
type RecordFilter struct {
	expr string
	prog cel.Program
}

// CompileFilter parses and type-checks expr. An empty expression yields a
// nil filter and no error.
func CompileFilter(expr string) (*RecordFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("level", cel.IntType),
		cel.Variable("levelLabel", cel.StringType),
		cel.Variable("time", cel.IntType),
		cel.Variable("msg", cel.StringType),
		cel.Variable("namespace", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("encrypted", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("filter environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter: %w", iss.Err())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return &RecordFilter{expr: expr, prog: prog}, nil
}

// String returns the source expression.
func (f *RecordFilter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match evaluates the predicate. Evaluation errors and non-boolean results
// count as no match.
func (f *RecordFilter) Match(rec *models.LogRecord) bool {
	if f == nil {
		return true
	}
	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"level":      int64(rec.Level),
		"levelLabel": rec.LevelLabel,
		"time":       rec.Time,
		"msg":        rec.Msg,
		"namespace":  rec.Namespace,
		"channel":    rec.Channel,
		"data":       data,
		"encrypted":  rec.Encrypted,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
