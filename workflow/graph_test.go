package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraph_Layers(t *testing.T) {
	deps := DependencyMap{
		"B": {"A"},
		"C": {"A"},
		"D": {"B", "C"},
		"E": {"A"},
		"F": {"D", "E"},
	}

	g, err := NewGraph([]string{"A", "B", "C", "D", "E", "F"}, deps)
	require.NoError(t, err)

	layers := g.Layers()
	assert.Equal(t, [][]string{{"A"}, {"B", "C", "E"}, {"D"}, {"F"}}, layers)

	position := map[string]int{}
	for i, l := range layers {
		for _, n := range l {
			position[n] = i
		}
	}

	for name, prereqs := range deps {
		for _, p := range prereqs {
			assert.Less(t, position[p], position[name], "%s must run after %s", name, p)
		}
	}

	assert.Equal(t, []string{"F"}, g.Sinks())
	assert.Equal(t, []string{"B", "C"}, g.DependenciesOf("D"))
}

func TestNewGraph_DSLEquivalentToMap(t *testing.T) {
	agents := []string{"A", "B", "C", "D", "E", "F"}

	fromMap, err := NewGraph(agents, DependencyMap{
		"B": {"A"}, "C": {"A"}, "D": {"B", "C"}, "E": {"A"}, "F": {"D", "E"},
	})
	require.NoError(t, err)

	fromDSL, err := NewGraph(agents, DSL("A→B, A->C, B&C->D, A→E, D&E->F"))
	require.NoError(t, err)

	assert.Equal(t, fromMap.Layers(), fromDSL.Layers())
}

func TestNewGraph_Cycle(t *testing.T) {
	_, err := NewGraph([]string{"A", "B", "C"}, DependencyMap{"A": {"B"}, "B": {"A"}})
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"A", "B"}, cycleErr.Agents)
}

func TestNewGraph_SelfLoop(t *testing.T) {
	_, err := NewGraph([]string{"A"}, DependencyMap{"A": {"A"}})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestNewGraph_Validation(t *testing.T) {
	t.Run("NoAgents", func(t *testing.T) {
		_, err := NewGraph(nil, nil)
		assert.ErrorIs(t, err, ErrNoAgents)
	})

	t.Run("Duplicate", func(t *testing.T) {
		_, err := NewGraph([]string{"A", "A"}, nil)
		assert.ErrorIs(t, err, ErrDuplicateAgent)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		_, err := NewGraph([]string{"A"}, DependencyMap{"X": {"A"}})
		assert.ErrorIs(t, err, ErrUnknownAgent)
	})

	t.Run("UnknownPrerequisite", func(t *testing.T) {
		_, err := NewGraph([]string{"A"}, DependencyMap{"A": {"X"}})
		assert.ErrorIs(t, err, ErrUnknownAgent)
	})

	t.Run("BadDSL", func(t *testing.T) {
		_, err := NewGraph([]string{"A", "B"}, DSL("A->"))

		var syntaxErr *DSLSyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
	})

	t.Run("NoDependencies", func(t *testing.T) {
		g, err := NewGraph([]string{"A", "B"}, nil)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"A", "B"}}, g.Layers())
		assert.Equal(t, []string{"A", "B"}, g.Sinks())
	})
}

func TestGraph_LayersReturnsCopy(t *testing.T) {
	g, err := NewGraph([]string{"A", "B"}, DSL("A->B"))
	require.NoError(t, err)

	layers := g.Layers()
	layers[0][0] = "mutated"

	assert.Equal(t, [][]string{{"A"}, {"B"}}, g.Layers())
}
