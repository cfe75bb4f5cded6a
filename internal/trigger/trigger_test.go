package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func branch(ref string) RunContext {
	return RunContext{Workspace: "ws", Ref: ref, Kind: KindBranch, Source: "push"}
}

func tag(ref string) RunContext {
	return RunContext{Workspace: "ws", Ref: ref, Kind: KindTag, Source: "push"}
}

func TestAdmitNoRulesAdmits(t *testing.T) {
	assert.True(t, Admit(nil, branch("main")))
}

func TestAdmitFirstMatchWins(t *testing.T) {
	rules := []Rule{
		{Refs: []RefPattern{MustRefPattern("main")}, Verdict: Exclude},
		{Kinds: []Kind{KindBranch}, Verdict: Include},
	}
	assert.False(t, Admit(rules, branch("main")))
	assert.True(t, Admit(rules, branch("feature/x")))
	assert.False(t, Admit(rules, tag("v1.0.0")), "no match excludes")
}

func TestRuleConjunction(t *testing.T) {
	r := Rule{
		Refs:      []RefPattern{MustRefPattern(`/^release-\d+$/`)},
		Kinds:     []Kind{KindBranch},
		Sources:   []string{"push"},
		Variables: map[string]string{"DEPLOY": "true"},
		Verdict:   Include,
	}
	rc := branch("release-12")
	assert.False(t, r.Matches(rc), "variable missing")
	rc.Variables = map[string]string{"DEPLOY": "true"}
	assert.True(t, r.Matches(rc))
	rc.Source = "api"
	assert.False(t, r.Matches(rc))
}

func TestParseRefPattern(t *testing.T) {
	p, err := ParseRefPattern("/^v[0-9]+/")
	require.NoError(t, err)
	assert.True(t, p.Match("v12.1"))
	assert.False(t, p.Match("main"))

	exact, err := ParseRefPattern("main")
	require.NoError(t, err)
	assert.False(t, exact.Match("mainline"))

	_, err = ParseRefPattern("/[/")
	assert.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	for _, w := range []string{"", "always", "on_success"} {
		v, err := ParseVerdict(w)
		require.NoError(t, err)
		assert.Equal(t, Include, v)
	}
	v, err := ParseVerdict("never")
	require.NoError(t, err)
	assert.Equal(t, Exclude, v)
	_, err = ParseVerdict("delayed")
	assert.Error(t, err)
}

func TestCompileOnlyExcept(t *testing.T) {
	rules, err := CompileOnlyExcept([]string{"tags"}, nil)
	require.NoError(t, err)
	assert.True(t, Admit(rules, tag("v1")))
	assert.False(t, Admit(rules, branch("main")))

	rules, err = CompileOnlyExcept(nil, []string{"main", "schedules"})
	require.NoError(t, err)
	assert.False(t, Admit(rules, branch("main")))
	assert.True(t, Admit(rules, branch("dev")))
	assert.False(t, Admit(rules, RunContext{Ref: "dev", Kind: KindSchedule, Source: "schedule"}))

	rules, err = CompileOnlyExcept([]string{"branches", "api"}, []string{"/^wip-/"})
	require.NoError(t, err)
	assert.False(t, Admit(rules, branch("wip-1")))
	assert.True(t, Admit(rules, branch("dev")))
	assert.True(t, Admit(rules, RunContext{Ref: "v1", Kind: KindTag, Source: "api"}))

	rules, err = CompileOnlyExcept(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, rules)
}

type subject struct {
	name  string
	rules []Rule
}

func (s subject) JobName() string      { return s.name }
func (s subject) TriggerRules() []Rule { return s.rules }

func TestEvaluateIsDeterministic(t *testing.T) {
	tagOnly, err := CompileOnlyExcept([]string{"tags"}, nil)
	require.NoError(t, err)
	subjects := []Subject{subject{name: "build"}, subject{name: "release", rules: tagOnly}}

	rc := branch("main")
	first := Evaluate(subjects, rc)
	second := Evaluate(subjects, rc)
	assert.Equal(t, first, second)

	assert.True(t, first.Admitted("build"))
	assert.False(t, first.Admitted("release"))
	assert.Equal(t, []string{"build"}, first.AdmittedNames())
	assert.Equal(t, []string{"release"}, first.ExcludedNames())
	assert.Contains(t, first.Reason("release"), "no rule matched")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindBranch, k)
	k, err = ParseKind("TAG")
	require.NoError(t, err)
	assert.Equal(t, KindTag, k)
	_, err = ParseKind("merge_request")
	assert.Error(t, err)
}
