package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
)

func TestDefaultRoster(t *testing.T) {
	r := DefaultRoster()
	assert.Equal(t, []string{"ceo_bot", "planner_bot", "execution_bot"}, r.Labels())
	assert.Equal(t, "planner_bot", r.ForRole(RolePlanner).Label)

	subs := r.SubAgentLabels("execution_bot")
	require.Len(t, subs, DefaultSubAgents)
	assert.Equal(t, "execution_bot_sub_0", subs[0])
	assert.Equal(t, "execution_bot_sub_9", subs[9])
	assert.Nil(t, r.SubAgentLabels("nobody"))
}

func TestRosterLookup(t *testing.T) {
	r := DefaultRoster()

	a, ok := r.Lookup("ceo_bot")
	require.True(t, ok)
	assert.Equal(t, RoleCEO, a.Role)

	a, ok = r.Lookup("planner_bot_sub_3")
	require.True(t, ok)
	assert.Equal(t, "planner_bot", a.Label)

	_, ok = r.Lookup("planner_bot_sub_10")
	assert.False(t, ok)
	_, ok = r.Lookup("marketing_bot")
	assert.False(t, ok)

	// callers can not mutate the roster through a copy
	a.Capabilities[0] = "changed"
	again, _ := r.Lookup("planner_bot")
	assert.NotEqual(t, "changed", again.Capabilities[0])
}

func TestRosterValidate(t *testing.T) {
	r := DefaultRoster()
	assert.NoError(t, r.Validate(""))
	assert.NoError(t, r.Validate("execution_bot_sub_2"))
	assert.True(t, fleeterrors.IsValidation(r.Validate("ghost_bot")))
}

func TestNewRosterRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]Agent) []Agent
	}{
		{"duplicate label", func(a []Agent) []Agent { a[1].Label = a[0].Label; return a }},
		{"blank label", func(a []Agent) []Agent { a[0].Label = " "; return a }},
		{"unknown role", func(a []Agent) []Agent { a[0].Role = "janitor"; return a }},
		{"missing role", func(a []Agent) []Agent { return a[:2] }},
		{"no sub-agents", func(a []Agent) []Agent { a[2].SubAgents = 0; return a }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRoster(tt.mutate(DefaultAgents()))
			assert.True(t, fleeterrors.IsValidation(err), err)
		})
	}
}
