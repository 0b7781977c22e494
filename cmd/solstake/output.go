package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// jqFilters holds compiled --jq expressions. A value passes when every
// filter's first result is truthy.
type jqFilters []*gojq.Code

func compileJQ(exprs []string) (jqFilters, error) {
	filters := make(jqFilters, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		filters[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return filters, nil
}

// match evaluates every filter against v, which must already be in the
// generic JSON form gojq expects.
func (f jqFilters) match(v interface{}) (bool, error) {
	for _, code := range f {
		iter := code.Run(v)
		out, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := out.(error); isErr {
			return false, err
		}
		if !isTruthy(out) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// toGeneric round-trips v through JSON so gojq can walk it.
func toGeneric(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// filterItems keeps the items that satisfy every filter.
func filterItems[T any](filters jqFilters, items []T) ([]T, error) {
	if len(filters) == 0 {
		return items, nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		generic, err := toGeneric(item)
		if err != nil {
			return nil, fmt.Errorf("failed to convert record for jq: %w", err)
		}
		ok, err := filters.match(generic)
		if err != nil {
			return nil, fmt.Errorf("jq filter error: %w", err)
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// output carries the global formatting flags to a command.
type output struct {
	w       io.Writer
	errw    io.Writer
	json    bool
	filters jqFilters
}

func newOutput(c *cli.Context) (*output, error) {
	filters, err := compileJQ(c.StringSlice("jq"))
	if err != nil {
		return nil, err
	}
	o := &output{
		w:       c.App.Writer,
		errw:    c.App.ErrWriter,
		json:    c.Bool("json"),
		filters: filters,
	}
	if o.w == nil {
		o.w = os.Stdout
	}
	if o.errw == nil {
		o.errw = os.Stderr
	}
	return o, nil
}

func (o *output) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(o.w, string(data))
	return nil
}

func (o *output) table() *tabwriter.Writer {
	return tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
}

// infof writes a human-facing note to stderr unless JSON output was requested.
func (o *output) infof(format string, args ...interface{}) {
	if o.json {
		return
	}
	fmt.Fprintf(o.errw, format, args...)
}
