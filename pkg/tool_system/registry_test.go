package toolsystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestBuilderProducesDeclaration(t *testing.T) {
	spec, err := NewToolBuilder("lookup", "1.0", "look something up").
		AddStringParameter("query", "what to look up", true).
		AddArrayParameter("sources", "where to look", false, JSONString, "a", "b").
		AddParameter(ArgSpec{Name: "fresh", Type: JSONBool, Description: "skip caches"}).
		Build()
	require.NoError(t, err)

	decl := Declaration(spec)
	assert.Equal(t, "lookup", decl.Name)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, []string{"query"}, decl.Parameters.Required)
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["query"].Type)

	sources := decl.Parameters.Properties["sources"]
	assert.Equal(t, genai.TypeArray, sources.Type)
	require.NotNil(t, sources.Items)
	assert.Equal(t, []string{"a", "b"}, sources.Items.Enum)
	assert.Equal(t, genai.TypeBoolean, decl.Parameters.Properties["fresh"].Type)
}

func TestBuilderRejectsDuplicatesAndNoName(t *testing.T) {
	_, err := NewToolBuilder("t", "1", "").
		AddStringParameter("x", "", true).
		AddStringParameter("x", "", false).
		Build()
	assert.Error(t, err)

	_, err = NewToolBuilder("", "1", "").Build()
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	assert.Nil(t, reg.Tools())

	require.NoError(t, NewToolBuilder("zeta", "1", "").BuildAndRegister(reg))
	require.NoError(t, NewToolBuilder("alpha", "1", "").BuildAndRegister(reg))
	assert.Error(t, NewToolBuilder("alpha", "2", "").BuildAndRegister(reg))

	tools := reg.Tools()
	require.Len(t, tools, 1)
	require.Len(t, tools[0].FunctionDeclarations, 2)
	assert.Equal(t, "alpha", tools[0].FunctionDeclarations[0].Name)

	_, ok := reg.Get("zeta")
	assert.True(t, ok)
	_, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.Len(t, reg.List(), 2)
}
