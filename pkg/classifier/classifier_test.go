package classifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haolipeng/audisp_filter/pkg/matcher"
	"github.com/haolipeng/audisp_filter/pkg/rules"
	"github.com/haolipeng/audisp_filter/pkg/types"
)

func TestParseMode(t *testing.T) {
	testCases := []struct {
		name    string
		arg     string
		want    Mode
		wantErr bool
	}{
		{name: "allowlist", arg: "allowlist", want: ModeAllowlist},
		{name: "blocklist", arg: "blocklist", want: ModeBlocklist},
		{name: "case insensitive", arg: "AllowList", want: ModeAllowlist},
		{name: "uppercase", arg: "BLOCKLIST", want: ModeBlocklist},
		{name: "unknown mode", arg: "whitelist", wantErr: true},
		{name: "empty", arg: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseMode(tc.arg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyPolicy(t *testing.T) {
	testCases := []struct {
		name    string
		matched bool
		mode    Mode
		want    Decision
	}{
		{name: "allowlist drops matches", matched: true, mode: ModeAllowlist, want: DecisionDrop},
		{name: "allowlist forwards non-matches", matched: false, mode: ModeAllowlist, want: DecisionForward},
		{name: "blocklist forwards matches", matched: true, mode: ModeBlocklist, want: DecisionForward},
		{name: "blocklist drops non-matches", matched: false, mode: ModeBlocklist, want: DecisionDrop},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.matched, tc.mode))
		})
	}
}

func ruleSet(exprs ...string) *rules.RuleSet {
	set := rules.NewRuleSet()
	for i, e := range exprs {
		set.Append(rules.Rule{Expression: e, Line: i + 1})
	}
	return set
}

func archEvent(arch string) *types.Event {
	return &types.Event{
		Serial: 1,
		Records: []*types.Record{
			{Type: "SYSCALL", Raw: "type=SYSCALL", Fields: map[string]string{"arch": arch}},
		},
	}
}

func TestClassifierScenarios(t *testing.T) {
	testCases := []struct {
		name string
		mode Mode
		want Decision
	}{
		{name: "allowlist drops matching event", mode: ModeAllowlist, want: DecisionDrop},
		{name: "blocklist forwards matching event", mode: ModeBlocklist, want: DecisionForward},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := matcher.NewCELEngine()
			require.NoError(t, err)

			c := New(engine, tc.mode)
			c.SetRules(ruleSet("arch=b64"))

			decision, matched, err := c.Classify(archEvent("b64"))
			require.NoError(t, err)
			assert.True(t, matched)
			assert.Equal(t, tc.want, decision)
		})
	}
}

func TestSetRulesReplacesPreviousState(t *testing.T) {
	engine, err := matcher.NewCELEngine()
	require.NoError(t, err)

	c := New(engine, ModeBlocklist)
	c.SetRules(ruleSet("arch=b64"))

	decision, matched, err := c.Classify(archEvent("b64"))
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, DecisionForward, decision)

	// After the swap the old rule set must not leak into evaluation.
	c.SetRules(ruleSet("arch=b32"))

	decision, matched, err = c.Classify(archEvent("b64"))
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, DecisionDrop, decision)
}

func TestSetRulesNilClearsEverything(t *testing.T) {
	engine, err := matcher.NewCELEngine()
	require.NoError(t, err)

	c := New(engine, ModeAllowlist)
	c.SetRules(ruleSet("arch=b64"))
	c.SetRules(nil)

	decision, matched, err := c.Classify(archEvent("b64"))
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, DecisionForward, decision)
}

type failingEngine struct{}

func (failingEngine) AddExpression(string) error { return nil }
func (failingEngine) Reset()                     {}

func (failingEngine) EvalEvent(*types.Event) (bool, error) {
	return false, errors.New("engine exploded")
}

func TestClassifyEvaluationError(t *testing.T) {
	c := New(failingEngine{}, ModeAllowlist)

	_, _, err := c.Classify(archEvent("b64"))
	assert.Error(t, err)
}
