// Package manifest parses pipeline manifests into composed, validated jobs.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
	"git.home.luguber.info/inful/pipewright/internal/foundation/expiry"
	"git.home.luguber.info/inful/pipewright/internal/retry"
	"git.home.luguber.info/inful/pipewright/internal/trigger"
)

// Load reads and parses the manifest at path.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "cannot read manifest").
			WithContext("path", path).Build()
	}
	return Parse(data)
}

// Parse composes and validates a manifest. It is pure: the same bytes always
// yield the same Pipeline or the same problems.
func Parse(data []byte) (*Pipeline, error) {
	probs := &problems{}
	doc, err := splitDocument(data, probs)
	if err != nil {
		return nil, errors.ValidationError("manifest is invalid").WithCause(err).Build()
	}

	p := &Pipeline{
		Stages:    stageList(doc),
		Variables: map[string]string(doc.variables),
		Jobs:      make(map[string]*Job, len(doc.order)),
	}
	if p.Variables == nil {
		p.Variables = map[string]string{}
	}
	for _, k := range unknownDefaultKeys(doc.defaults) {
		probs.addf("", "default: key %q is not supported", k)
	}
	if rules, err := compileRules(doc.workflow.Rules); err != nil {
		probs.addf("", "workflow: %v", err)
	} else {
		p.Workflow = rules
	}

	res := newResolver(doc)
	for _, name := range doc.order {
		flat, err := res.resolve(name)
		if err != nil {
			probs.addf(name, "%v", err)
			continue
		}
		job, warnings, err := buildJob(name, applyDefaults(flat, doc.defaults), p.Variables)
		if err != nil {
			probs.addf(name, "%v", err)
			continue
		}
		for _, w := range warnings {
			p.Warnings = append(p.Warnings, fmt.Sprintf("job %q: %s", name, w))
		}
		p.Jobs[name] = job
		p.order = append(p.order, name)
	}
	if len(doc.order) == 0 {
		probs.addf("", "manifest defines no jobs")
	}

	validate(p, probs)
	if err := probs.err(); err != nil {
		return nil, err
	}
	return p, nil
}

func stageList(doc *document) []string {
	stages := doc.stages
	if !doc.hasStages {
		stages = DefaultStages
	}
	out := make([]string, 0, len(stages)+2)
	if !slices.Contains(stages, StagePre) {
		out = append(out, StagePre)
	}
	out = append(out, stages...)
	if !slices.Contains(stages, StagePost) {
		out = append(out, StagePost)
	}
	return out
}

func buildJob(name string, flat map[string]any, pipelineVars map[string]string) (*Job, []string, error) {
	var raw rawJob
	buf, err := yaml.Marshal(flat)
	if err != nil {
		return nil, nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("%s", strings.TrimPrefix(err.Error(), "yaml: unmarshal errors:\n  "))
	}

	job := &Job{
		Name:          name,
		Stage:         raw.Stage,
		Interruptible: raw.Interruptible,
		Image:         string(raw.Image),
		Tags:          raw.Tags,
		Variables:     make(map[string]string, len(pipelineVars)+len(raw.Variables)),
	}
	if job.Stage == "" {
		job.Stage = DefaultStage
	}
	for k, v := range pipelineVars {
		job.Variables[k] = v
	}
	for k, v := range raw.Variables {
		job.Variables[k] = v
	}

	job.Script = append(job.Script, raw.BeforeScript...)
	job.Script = append(job.Script, raw.Script...)
	job.Script = append(job.Script, raw.AfterScript...)
	if len(raw.Script) == 0 {
		return nil, nil, fmt.Errorf("script is empty")
	}

	if len(raw.Rules) > 0 && (raw.Only != nil || raw.Except != nil) {
		return nil, nil, fmt.Errorf("rules cannot be combined with only/except")
	}
	if len(raw.Rules) > 0 {
		if job.Rules, err = compileRules(raw.Rules); err != nil {
			return nil, nil, err
		}
	} else if raw.Only != nil || raw.Except != nil {
		var only, except []string
		if raw.Only != nil {
			only = *raw.Only
		}
		if raw.Except != nil {
			except = *raw.Except
		}
		if job.Rules, err = trigger.CompileOnlyExcept(only, except); err != nil {
			return nil, nil, err
		}
	}

	if raw.Needs != nil {
		job.HasNeeds = true
		for _, n := range *raw.Needs {
			job.Needs = append(job.Needs, Need(n))
		}
	}
	if raw.Dependencies != nil {
		job.HasDependencies = true
		job.Dependencies = *raw.Dependencies
	}

	var warnings []string
	job.Retry = retry.NoRetry()
	if raw.Retry != nil {
		if job.Retry, warnings, err = retry.NewPolicy(raw.Retry.Max, raw.Retry.When); err != nil {
			return nil, nil, err
		}
	}

	if raw.Timeout != "" {
		period, err := expiry.Parse(raw.Timeout)
		if err != nil || period.Never || period.Duration <= 0 {
			return nil, nil, fmt.Errorf("invalid timeout %q", raw.Timeout)
		}
		job.Timeout = period.Duration
	}

	if raw.Artifacts != nil {
		if job.Artifacts, err = buildArtifacts(name, raw.Artifacts); err != nil {
			return nil, nil, err
		}
	}
	if raw.Cache != nil && !raw.Cache.Disabled {
		if job.Cache, err = buildCache(raw.Cache); err != nil {
			return nil, nil, err
		}
	}
	return job, warnings, nil
}

func buildArtifacts(job string, raw *rawArtifact) (*Artifacts, error) {
	a := &Artifacts{Name: raw.Name, Paths: raw.Paths, Exclude: raw.Exclude, When: ArtifactWhen(raw.When)}
	if a.Name == "" {
		a.Name = job
	}
	switch a.When {
	case "":
		a.When = ArtifactsOnSuccess
	case ArtifactsOnSuccess, ArtifactsOnFailure, ArtifactsAlways:
	default:
		return nil, fmt.Errorf("unknown artifacts.when %q", raw.When)
	}
	if len(a.Paths) == 0 {
		return nil, fmt.Errorf("artifacts.paths is empty")
	}
	for _, p := range a.Paths {
		if filepath.IsAbs(p) || strings.HasPrefix(filepath.Clean(p), "..") {
			return nil, fmt.Errorf("artifacts path %q must be relative to the job directory", p)
		}
	}
	period, err := expiry.Parse(raw.ExpireIn)
	if err != nil {
		return nil, fmt.Errorf("artifacts.expire_in: %w", err)
	}
	a.ExpireIn = period
	return a, nil
}

func buildCache(raw *rawCache) (*Cache, error) {
	c := &Cache{Key: raw.Key, Paths: raw.Paths, Policy: CachePolicy(raw.Policy)}
	switch c.Policy {
	case "":
		c.Policy = CachePullPush
	case CachePullPush, CachePull, CachePush:
	default:
		return nil, fmt.Errorf("unknown cache policy %q", raw.Policy)
	}
	for _, p := range c.Paths {
		if filepath.IsAbs(p) || strings.HasPrefix(filepath.Clean(p), "..") {
			return nil, fmt.Errorf("cache path %q must be relative to the job directory", p)
		}
	}
	return c, nil
}

func compileRules(raws []rawRule) ([]trigger.Rule, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	rules := make([]trigger.Rule, 0, len(raws))
	for i, r := range raws {
		if r.If != "" {
			return nil, fmt.Errorf("rules[%d]: if expressions are not supported, use ref, kind, source or variables", i)
		}
		verdict, err := trigger.ParseVerdict(r.When)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rule := trigger.Rule{Verdict: verdict, Variables: r.Variables, Sources: r.Sources}
		for _, ref := range appendOne(r.Refs, r.Ref) {
			p, err := trigger.ParseRefPattern(ref)
			if err != nil {
				return nil, fmt.Errorf("rules[%d]: %w", i, err)
			}
			rule.Refs = append(rule.Refs, p)
		}
		for _, k := range appendOne(r.Kinds, r.Kind) {
			kind, err := trigger.ParseKind(k)
			if err != nil {
				return nil, fmt.Errorf("rules[%d]: %w", i, err)
			}
			rule.Kinds = append(rule.Kinds, kind)
		}
		if r.Source != "" {
			rule.Sources = append(slices.Clone(rule.Sources), r.Source)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func appendOne(list []string, one string) []string {
	if one == "" {
		return list
	}
	return append(slices.Clone(list), one)
}
