package trigger

import "fmt"

// CompileOnlyExcept turns only/except lists into an ordered rule list: every
// except entry excludes, then any only entry includes. An empty only list
// includes everything not excluded.
func CompileOnlyExcept(only, except []string) ([]Rule, error) {
	if len(only) == 0 && len(except) == 0 {
		return nil, nil
	}
	rules := make([]Rule, 0, len(only)+len(except)+1)
	for _, e := range except {
		r, err := keywordRule(e)
		if err != nil {
			return nil, fmt.Errorf("except: %w", err)
		}
		r.Verdict = Exclude
		rules = append(rules, r)
	}
	for _, o := range only {
		r, err := keywordRule(o)
		if err != nil {
			return nil, fmt.Errorf("only: %w", err)
		}
		r.Verdict = Include
		rules = append(rules, r)
	}
	if len(only) == 0 {
		rules = append(rules, Rule{Verdict: Include})
	}
	return rules, nil
}

func keywordRule(entry string) (Rule, error) {
	switch entry {
	case "branches":
		return Rule{Kinds: []Kind{KindBranch}}, nil
	case "tags":
		return Rule{Kinds: []Kind{KindTag}}, nil
	case "schedules":
		return Rule{Kinds: []Kind{KindSchedule}}, nil
	case "manual":
		return Rule{Kinds: []Kind{KindManual}}, nil
	case "api", "web":
		return Rule{Sources: []string{entry}}, nil
	case "pushes":
		return Rule{Sources: []string{"push"}}, nil
	}
	p, err := ParseRefPattern(entry)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Refs: []RefPattern{p}}, nil
}
