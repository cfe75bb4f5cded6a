package manifest

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keys that are never jobs.
const (
	keyStages    = "stages"
	keyVariables = "variables"
	keyDefault   = "default"
	keyWorkflow  = "workflow"
	keyInclude   = "include"
	keyExtends   = "extends"
)

// Keys a default: block may provide.
var defaultableKeys = []string{
	"image", "tags", "retry", "interruptible", "timeout",
	"before_script", "after_script", "cache", "artifacts", "variables",
}

// document is the manifest split into its top-level parts, before composition.
type document struct {
	stages    []string
	hasStages bool
	variables variableMap
	defaults  map[string]any
	workflow  rawWorkflow
	templates map[string]map[string]any
	jobs      map[string]map[string]any
	order     []string
}

func splitDocument(data []byte, probs *problems) (*document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: manifest must be a map of jobs", top.Line)
	}

	doc := &document{
		templates: make(map[string]map[string]any),
		jobs:      make(map[string]map[string]any),
	}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(top.Content); i += 2 {
		keyNode, val := top.Content[i], top.Content[i+1]
		key := keyNode.Value
		if seen[key] {
			probs.addf("", "line %d: key %q is defined more than once", keyNode.Line, key)
			continue
		}
		seen[key] = true

		switch {
		case key == "<<":
			probs.addf("", "line %d: merge keys are not supported at the top level", keyNode.Line)
		case key == keyStages:
			doc.hasStages = true
			if err := val.Decode(&doc.stages); err != nil {
				probs.addf("", "stages: %v", err)
			}
		case key == keyVariables:
			if err := val.Decode(&doc.variables); err != nil {
				probs.addf("", "variables: %v", err)
			}
		case key == keyDefault:
			if err := val.Decode(&doc.defaults); err != nil {
				probs.addf("", "default: %v", err)
			}
		case key == keyWorkflow:
			if err := val.Decode(&doc.workflow); err != nil {
				probs.addf("", "workflow: %v", err)
			}
		case key == keyInclude:
			probs.addf("", "line %d: include is not supported; inline the included jobs", keyNode.Line)
		case strings.HasPrefix(key, "."):
			m, err := decodeMap(val)
			if err != nil {
				probs.addf("", "template %q: %v", key, err)
				continue
			}
			doc.templates[key] = m
		default:
			m, err := decodeMap(val)
			if err != nil {
				probs.addf(key, "%v", err)
				continue
			}
			doc.jobs[key] = m
			doc.order = append(doc.order, key)
		}
	}
	return doc, nil
}

func decodeMap(node *yaml.Node) (map[string]any, error) {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a map", node.Line)
	}
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// resolver flattens extends chains. Parents may be templates or jobs.
type resolver struct {
	doc      *document
	resolved map[string]map[string]any
	visiting map[string]bool
}

func newResolver(doc *document) *resolver {
	return &resolver{doc: doc, resolved: make(map[string]map[string]any), visiting: make(map[string]bool)}
}

func (r *resolver) resolve(name string) (map[string]any, error) {
	if m, ok := r.resolved[name]; ok {
		return m, nil
	}
	own, ok := r.doc.templates[name]
	if !ok {
		own, ok = r.doc.jobs[name]
	}
	if !ok {
		return nil, fmt.Errorf("extends unknown job or template %q", name)
	}
	if r.visiting[name] {
		return nil, fmt.Errorf("extends loop through %q", name)
	}
	r.visiting[name] = true
	defer delete(r.visiting, name)

	parents, err := extendsList(own[keyExtends])
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	for _, p := range parents {
		pm, err := r.resolve(p)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, pm)
	}
	self := maps.Clone(own)
	delete(self, keyExtends)
	merged = deepMerge(merged, self)
	r.resolved[name] = merged
	return merged, nil
}

func extendsList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("extends entries must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("extends must be a string or a list")
	}
}

// deepMerge returns base overlaid with over. Maps merge recursively; every
// other value in over replaces the one in base.
func deepMerge(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	maps.Copy(out, base)
	for k, v := range over {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = deepMerge(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// applyDefaults fills keys the job does not set from the default: block.
// artifacts merges so that a default expire_in reaches jobs declaring paths only.
func applyDefaults(job, defaults map[string]any) map[string]any {
	if len(defaults) == 0 {
		return job
	}
	out := maps.Clone(job)
	for _, k := range defaultableKeys {
		dv, ok := defaults[k]
		if !ok {
			continue
		}
		jv, has := out[k]
		switch {
		case !has:
			if k == "artifacts" {
				continue
			}
			out[k] = dv
		case k == "artifacts" || k == "variables":
			if dm, ok := dv.(map[string]any); ok {
				if jm, ok := jv.(map[string]any); ok {
					out[k] = deepMerge(dm, jm)
				}
			}
		}
	}
	return out
}

func unknownDefaultKeys(defaults map[string]any) []string {
	var out []string
	for k := range defaults {
		if !slices.Contains(defaultableKeys, k) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
