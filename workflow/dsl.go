package workflow

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	arrow        = "->"
	unicodeArrow = "→"
)

// DSLSyntaxError pinpoints the offending clause of a dependency DSL string.
type DSLSyntaxError struct {
	Clause string // the clause as written, trimmed
	Index  int    // zero based clause position, -1 for whole-input errors
	Reason string
}

func (e *DSLSyntaxError) Error() string {
	if e.Index < 0 {
		return "dsl syntax error: " + e.Reason
	}

	return fmt.Sprintf("dsl syntax error in clause %d %q: %s", e.Index+1, e.Clause, e.Reason)
}

// ValidateDSL checks the syntax of a dependency DSL string such as
// "A->B, A->C, B&C->D". Both "->" and "→" are accepted, also mixed.
func ValidateDSL(s string) error {
	_, err := parseDSL(s)
	return err
}

// ValidateDSLSyntax reports whether s is valid and, when it is not, a
// message describing the offending clause.
func ValidateDSLSyntax(s string) (bool, string) {
	if err := ValidateDSL(s); err != nil {
		return false, err.Error()
	}

	return true, ""
}

// ParseDependenciesDSL converts a DSL string into a dependency map from agent
// name to its prerequisites.
//
//	"A->B->C"  => {B: [A], C: [B]}
//	"A&B->C"   => {C: [A, B]}
//	"->B"      => {B: []}
//
// Prerequisites keep their first-mention order and are never duplicated.
func ParseDependenciesDSL(s string) (DependencyMap, error) {
	return parseDSL(s)
}

func parseDSL(s string) (DependencyMap, error) {
	if strings.TrimSpace(s) == "" {
		return nil, &DSLSyntaxError{Index: -1, Reason: "empty dependency specification"}
	}

	normalized := strings.ReplaceAll(s, unicodeArrow, arrow)
	deps := DependencyMap{}

	for i, raw := range strings.Split(normalized, ",") {
		clause := strings.TrimSpace(raw)
		fail := func(format string, args ...any) error {
			return &DSLSyntaxError{Clause: clause, Index: i, Reason: fmt.Sprintf(format, args...)}
		}

		if clause == "" {
			return nil, fail("empty clause")
		}

		if !strings.Contains(clause, arrow) {
			return nil, fail("missing arrow")
		}

		var prev []string

		parts := strings.Split(clause, arrow)

		for j, part := range parts {
			part = strings.TrimSpace(part)

			if part == "" {
				switch {
				case j == 0:
					// "->B": B is a root with an explicit empty dependency list
					continue
				case j == len(parts)-1:
					return nil, fail("missing target after arrow")
				default:
					return nil, fail("empty step between arrows")
				}
			}

			names, err := splitNames(part)
			if err != nil {
				return nil, fail("%v", err)
			}

			if j > 0 {
				for _, name := range names {
					deps.add(name, prev...)
				}
			}

			prev = names
		}
	}

	return deps, nil
}

func splitNames(part string) ([]string, error) {
	terms := strings.Split(part, "&")
	names := make([]string, 0, len(terms))

	for _, term := range terms {
		name := strings.TrimSpace(term)
		if name == "" {
			return nil, fmt.Errorf("empty dependency in %q", part)
		}

		if err := checkName(name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	return names, nil
}

// checkName accepts letters, digits, '_' and '.'. Stray '-' or '>' mean a
// malformed arrow such as "-->" or "->>".
func checkName(name string) error {
	for _, r := range name {
		switch {
		case r == '-' || r == '>' || r == '<':
			return fmt.Errorf("malformed arrow near %q", name)
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '.':
		default:
			return fmt.Errorf("invalid character %q in agent name %q", r, name)
		}
	}

	return nil
}
