package promptbuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GabrielHori/horizon-worker/internal/horizon"
)

func TestBuildOrdersComponentsPerSpec(t *testing.T) {
	p := New("be safe").
		WithMemory(map[string]string{"b": "2", "a": "1"}).
		WithRepositoryContext("repo summary").
		WithWebContext("web results").
		WithFiles(map[string]string{"main.go": "package main"}).
		WithHistory([]horizon.Message{
			{Role: horizon.RoleUser, Content: "hi"},
			{Role: horizon.RoleAssistant, Content: "hello"},
		}).
		WithUserTurn("what now").
		Build()

	require.NotEmpty(t, p.ID)
	require.False(t, p.CreatedAt.IsZero())

	kinds := make([]string, len(p.Components))
	for i, c := range p.Components {
		kinds[i] = c.Kind
	}
	require.Equal(t, []string{
		KindSystem, KindMemory, KindContext, KindContext, KindContext, KindHistory, KindHistory, KindUser,
	}, kinds)

	require.Equal(t, "a: 1\nb: 2", p.Components[1].Text)
	require.Equal(t, "what now", p.Components[len(p.Components)-1].Text)
}

func TestSkipsEmptyContextBlocks(t *testing.T) {
	p := New("sys").WithRepositoryContext("").WithWebContext("").WithUserTurn("hi").Build()
	require.Len(t, p.Components, 2) // system + user only
}

func TestMessagesRenderingAssignsRoles(t *testing.T) {
	p := New("sys").
		WithHistory([]horizon.Message{{Role: horizon.RoleAssistant, Content: "prior"}}).
		WithUserTurn("now").
		Build()

	msgs := p.Messages()
	require.Equal(t, horizon.RoleSystem, msgs[0].Role)
	require.Equal(t, horizon.RoleAssistant, msgs[1].Role)
	require.Equal(t, horizon.RoleUser, msgs[2].Role)
}

func TestFlatStringJoinsComponents(t *testing.T) {
	p := New("sys").WithUserTurn("turn").Build()
	require.Equal(t, "sys\n\nturn", p.FlatString())
}

func TestDescribeNeverIncludesContent(t *testing.T) {
	p := New("top secret system prompt").WithUserTurn("top secret user turn").Build()
	meta := p.Describe()

	require.Equal(t, p.ID, meta.ID)
	require.Equal(t, 2, meta.ComponentN)
	require.Equal(t, len("top secret system prompt"), meta.Sizes[KindSystem])
	require.Equal(t, len("top secret user turn"), meta.Sizes[KindUser])
}
