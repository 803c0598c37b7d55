// Package toolkit holds the built-in tool catalog that config driven servers
// resolve by name.
package toolkit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/xagent/tool"
)

type operands struct {
	A float64 `json:"a" description:"First number"`
	B float64 `json:"b" description:"Second number"`
}

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" description:"IANA time zone such as Europe/Berlin. Defaults to UTC."`
}

// Add returns a tool adding two numbers.
func Add() tool.Tool {
	return tool.NewTypedFunctionTool("add", "Add two numbers and return the sum.", func(_ context.Context, in operands) (any, error) {
		return in.A + in.B, nil
	})
}

// Multiply returns a CPU bound tool multiplying two numbers.
func Multiply() tool.Tool {
	return tool.NewTypedFunctionTool("multiply", "Multiply two numbers and return the product.", func(_ context.Context, in operands) (any, error) {
		return in.A * in.B, nil
	}, func(o *tool.FunctionOptions) { o.Mode = tool.ModeSync })
}

// CurrentTime returns a tool reporting the current time. now defaults to time.Now.
func CurrentTime(now func() time.Time) tool.Tool {
	if now == nil {
		now = time.Now
	}

	return tool.NewTypedFunctionTool("current_time", "Get the current date and time in RFC 3339 format.", func(_ context.Context, in timeArgs) (any, error) {
		loc := time.UTC

		if in.Timezone != "" {
			l, err := time.LoadLocation(in.Timezone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
			}

			loc = l
		}

		return now().In(loc).Format(time.RFC3339), nil
	})
}

var catalog = map[string]func() tool.Tool{
	"add":          Add,
	"multiply":     Multiply,
	"current_time": func() tool.Tool { return CurrentTime(nil) },
}

// Names lists the catalog in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Lookup returns a fresh instance of the named built-in tool.
func Lookup(name string) (tool.Tool, bool) {
	factory, ok := catalog[name]
	if !ok {
		return nil, false
	}

	return factory(), true
}

// Resolve maps names to tools, failing on the first unknown name.
func Resolve(names ...string) ([]tool.Tool, error) {
	tools := make([]tool.Tool, 0, len(names))

	for _, n := range names {
		t, ok := Lookup(n)
		if !ok {
			return nil, fmt.Errorf("unknown built-in tool %q (available: %v)", n, Names())
		}

		tools = append(tools, t)
	}

	return tools, nil
}
