package workflow

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDependenciesDSL(t *testing.T) {
	want := DependencyMap{
		"B": {"A"},
		"C": {"A"},
		"D": {"B", "C"},
		"E": {"A"},
		"F": {"D", "E"},
	}

	tests := []struct {
		name string
		dsl  string
	}{
		{"ASCII", "A->B, A->C, B&C->D, A->E, D&E->F"},
		{"Unicode", "A→B, A→C, B&C→D, A→E, D&E→F"},
		{"Mixed", "A->B, A→C, B&C->D, A→E, D&E->F"},
		{"NoSpaces", "A->B,A->C,B&C->D,A->E,D&E->F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDependenciesDSL(tt.dsl)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseDependenciesDSL_Chains(t *testing.T) {
	t.Run("Chain", func(t *testing.T) {
		got, err := ParseDependenciesDSL("A->B->C")
		require.NoError(t, err)
		assert.Equal(t, DependencyMap{"B": {"A"}, "C": {"B"}}, got)
	})

	t.Run("JointChain", func(t *testing.T) {
		got, err := ParseDependenciesDSL("A&B->C->D&E")
		require.NoError(t, err)
		assert.Equal(t, DependencyMap{"C": {"A", "B"}, "D": {"C"}, "E": {"C"}}, got)
	})

	t.Run("RootWithoutDependencies", func(t *testing.T) {
		for _, dsl := range []string{"->B", "→B"} {
			got, err := ParseDependenciesDSL(dsl)
			require.NoError(t, err)
			assert.Equal(t, DependencyMap{"B": {}}, got)
		}
	})

	t.Run("DuplicatesMerged", func(t *testing.T) {
		got, err := ParseDependenciesDSL("A->C, B->C, A->C")
		require.NoError(t, err)
		assert.Equal(t, DependencyMap{"C": {"A", "B"}}, got)
	})

	t.Run("LongChain", func(t *testing.T) {
		nodes := make([]string, 200)
		for i := range nodes {
			nodes[i] = fmt.Sprintf("step_%d", i)
		}

		got, err := ParseDependenciesDSL(strings.Join(nodes, "->"))
		require.NoError(t, err)
		require.Len(t, got, 199)
		assert.Equal(t, []string{"step_198"}, got["step_199"])
	})

	t.Run("Idempotent", func(t *testing.T) {
		const dsl = "research->analysis, research->planning, analysis&planning->synthesis"

		first, err := ParseDependenciesDSL(dsl)
		require.NoError(t, err)

		second, err := ParseDependenciesDSL(dsl)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})
}

func TestValidateDSLSyntax(t *testing.T) {
	tests := []struct {
		name  string
		dsl   string
		valid bool
		msg   string
	}{
		{"Valid", "A->B, B&C->D", true, ""},
		{"MissingLeftHandSide", "->B", true, ""},
		{"MissingTarget", "A->", false, "missing target"},
		{"MissingTargetUnicode", "A→", false, "missing target"},
		{"DoubledDash", "A-->B", false, "malformed arrow"},
		{"DoubledBracket", "A->>B", false, "malformed arrow"},
		{"EmptyJointTerm", "A&->B", false, "empty dependency"},
		{"EmptyJointTermUnicode", "A&→B", false, "empty dependency"},
		{"EmptyInput", "  ", false, "empty dependency specification"},
		{"EmptyClause", "A->B,,B->C", false, "empty clause"},
		{"NoArrow", "A", false, "missing arrow"},
		{"EmptyStep", "A->->B", false, "empty step"},
		{"InvalidCharacter", "A->B C", false, "invalid character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, msg := ValidateDSLSyntax(tt.dsl)
			assert.Equal(t, tt.valid, valid)

			if tt.valid {
				assert.Empty(t, msg)
			} else {
				assert.Contains(t, msg, tt.msg)
			}
		})
	}
}

func TestValidateDSL_PinpointsClause(t *testing.T) {
	err := ValidateDSL("A->B, B->, C->D")
	require.Error(t, err)

	var syntaxErr *DSLSyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, 1, syntaxErr.Index)
	assert.Equal(t, "B->", syntaxErr.Clause)
	assert.Contains(t, err.Error(), `clause 2 "B->"`)
}
