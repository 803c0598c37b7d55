package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(context.Context, PromptData) (string, error) { return m.text, m.err }

var testData = PromptData{AgentName: "helper", UserID: "u1", Date: "2026-10-18", Timezone: "UTC"}

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	assert.True(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background(), testData)
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_StaticTemplate(t *testing.T) {
	got, err := NewInstructionFromText(DefaultSystemTemplate).Resolve(context.Background(), testData)
	require.NoError(t, err)
	assert.Equal(t, "**Current user_id**: u1, **Current date**: 2026-10-18, **Current timezone**: UTC\n", got)
}

func TestInstruction_NewInstructionFromFunc(t *testing.T) {
	inst := NewInstructionFromFunc(func(_ context.Context, d PromptData) (string, error) { return "dynamic for " + d.UserID, nil })
	assert.False(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background(), testData)
	require.NoError(t, err)
	assert.Equal(t, "dynamic for u1", got)
}

func TestInstruction_NewInstructionFromProvider(t *testing.T) {
	got, err := NewInstructionFromProvider(mockProvider{text: "provider text"}).Resolve(context.Background(), testData)
	require.NoError(t, err)
	assert.Equal(t, "provider text", got)
}

func TestInstruction_ErrorPropagation(t *testing.T) {
	expectedErr := errors.New("boom")

	_, err := NewInstructionFromProvider(mockProvider{err: expectedErr}).Resolve(context.Background(), testData)
	assert.ErrorIs(t, err, expectedErr)
}

func TestInstruction_BadTemplate(t *testing.T) {
	_, err := NewInstructionFromText("{{ .Missing").Resolve(context.Background(), testData)
	assert.Error(t, err)
}
