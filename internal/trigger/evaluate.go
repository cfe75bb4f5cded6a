package trigger

import (
	"maps"
	"slices"
	"strconv"
)

// Admit evaluates a rule list against rc. No rules admits unconditionally;
// otherwise the first matching rule decides and no match excludes.
func Admit(rules []Rule, rc RunContext) bool {
	if len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if r.Matches(rc) {
			return r.Verdict != Exclude
		}
	}
	return false
}

// Explain is Admit plus a human-readable reason for exclusions.
func Explain(rules []Rule, rc RunContext) (bool, string) {
	if len(rules) == 0 {
		return true, ""
	}
	for i, r := range rules {
		if r.Matches(rc) {
			if r.Verdict == Exclude {
				return false, "excluded by rule " + strconv.Itoa(i+1)
			}
			return true, ""
		}
	}
	return false, "no rule matched " + string(rc.Kind) + " " + rc.Ref
}

// Subject is anything that carries trigger rules, i.e. a job.
type Subject interface {
	JobName() string
	TriggerRules() []Rule
}

// Admission is the result of evaluating every job of a pipeline.
type Admission struct {
	admitted map[string]struct{}
	excluded map[string]string
}

// Evaluate admits or excludes each subject against rc.
func Evaluate(subjects []Subject, rc RunContext) Admission {
	a := Admission{admitted: make(map[string]struct{}), excluded: make(map[string]string)}
	for _, s := range subjects {
		if ok, reason := Explain(s.TriggerRules(), rc); ok {
			a.admitted[s.JobName()] = struct{}{}
		} else {
			a.excluded[s.JobName()] = reason
		}
	}
	return a
}

// AdmitAll admits every name. Used for parse-time graph checks.
func AdmitAll(names []string) Admission {
	a := Admission{admitted: make(map[string]struct{}, len(names)), excluded: map[string]string{}}
	for _, n := range names {
		a.admitted[n] = struct{}{}
	}
	return a
}

func (a Admission) Admitted(name string) bool {
	_, ok := a.admitted[name]
	return ok
}

// Reason returns why name was excluded, or "" if it was admitted.
func (a Admission) Reason(name string) string { return a.excluded[name] }

// AdmittedNames returns admitted job names sorted.
func (a Admission) AdmittedNames() []string { return sortedKeys(a.admitted) }

// ExcludedNames returns excluded job names sorted.
func (a Admission) ExcludedNames() []string { return sortedKeys(a.excluded) }

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
