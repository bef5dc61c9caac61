package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const day = 24 * time.Hour

func TestPeriodUnmarshalYAMLInRuleDefinition(t *testing.T) {
	var rule AutoRemediationRule
	require.NoError(t, yaml.Unmarshal([]byte(`
name: isolate on breach
incident_types: [data_breach]
severity_threshold: high
actions:
  - type: isolate_resource
enabled: true
cooldown_period: "1d"
`), &rule))
	require.Equal(t, Period(day), rule.CooldownPeriod)

	// Sub-day cooldowns use Go duration syntax.
	var sub AutoRemediationRule
	require.NoError(t, yaml.Unmarshal([]byte(`cooldown_period: "36h"`), &sub))
	require.Equal(t, Period(36*time.Hour), sub.CooldownPeriod)

	var bad AutoRemediationRule
	require.Error(t, yaml.Unmarshal([]byte(`cooldown_period: "soon"`), &bad))
}

func TestPeriodYAMLRoundTrip(t *testing.T) {
	for _, p := range []Period{
		0,
		Period(36 * time.Hour),
		Period(30 * day),
		Period(2 * 7 * day),
		Period(6 * 30 * day),
		Period(365 * day),
	} {
		out, err := yaml.Marshal(p)
		require.NoError(t, err)

		var back Period
		require.NoError(t, yaml.Unmarshal(out, &back))
		require.Equal(t, p, back, "round trip of %s", p)
	}
}

func TestPeriodString(t *testing.T) {
	require.Equal(t, "0d", Period(0).String())
	require.Equal(t, "45d", Period(45*day).String())
	require.Equal(t, "2w", Period(14*day).String())
	require.Equal(t, "6m", Period(180*day).String())
	require.Equal(t, "1y", Period(365*day).String())
	require.Equal(t, "36h0m0s", Period(36*time.Hour).String())
}

func TestPeriodJSON(t *testing.T) {
	out, err := json.Marshal(Period(30 * day))
	require.NoError(t, err)
	require.Equal(t, `"30d"`, string(out))

	var p Period
	require.NoError(t, json.Unmarshal([]byte(`"1y"`), &p))
	require.Equal(t, Period(365*day), p)

	// Bare numbers are nanoseconds, the pre-string wire form.
	require.NoError(t, json.Unmarshal([]byte(`3600000000000`), &p))
	require.Equal(t, Period(time.Hour), p)

	require.ErrorIs(t, json.Unmarshal([]byte(`"never"`), &p), ErrInvalidInput)
}
