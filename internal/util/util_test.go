package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleArgs struct {
	A     string    `json:"a" description:"Field A"`
	B     *int      `json:"b" description:"Optional pointer field"`
	C     int       `json:"c,omitempty"`
	Unit  string    `json:"unit" enum:"celsius, fahrenheit"`
	Tags  []string  `json:"tags,omitempty"`
	Inner inner     `json:"inner"`
	When  time.Time `json:"when,omitempty"`
	skip  string
}

type inner struct {
	X float64 `json:"x"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(sampleArgs{})

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.NotContains(t, props, "skip")

	assert.ElementsMatch(t, []string{"a", "unit", "inner"}, schema["required"])

	unit := props["unit"].(map[string]any)
	assert.Equal(t, []string{"celsius", "fahrenheit"}, unit["enum"])

	tags := props["tags"].(map[string]any)
	assert.Equal(t, "array", tags["type"])
	assert.Equal(t, map[string]any{"type": "string"}, tags["items"])

	in := props["inner"].(map[string]any)
	assert.Equal(t, "object", in["type"])
	assert.Equal(t, []string{"x"}, in["required"])

	when := props["when"].(map[string]any)
	assert.Equal(t, "date-time", when["format"])
}

func TestCreateSchemaNonStruct(t *testing.T) {
	assert.Equal(t, "object", CreateSchema(42)["type"])
	assert.Equal(t, "object", CreateSchema(nil)["type"])
	assert.Contains(t, CreateSchema(&sampleArgs{})["properties"], "a")
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Hello {{.Name}} it's {{upper .Day}}", map[string]any{"Name": "Ann", "Day": "monday"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ann it's MONDAY", out)

	out, err = RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", out)

	_, err = RenderTemplate("{{.Broken", nil)
	assert.Error(t, err)
}

func TestNewIDAndSanitize(t *testing.T) {
	id := NewID("call")
	assert.True(t, strings.HasPrefix(id, "call_"))
	assert.NotEqual(t, id, NewID("call"))
	assert.Len(t, NewID(""), 36)

	assert.Equal(t, "my_server_v1-2", SanitizeName("my server.v1-2"))
}
