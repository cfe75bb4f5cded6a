package manifest

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// rawJob is the flattened job map decoded with KnownFields so unknown keys fail.
type rawJob struct {
	Stage         string       `yaml:"stage"`
	Script        stringList   `yaml:"script"`
	BeforeScript  stringList   `yaml:"before_script"`
	AfterScript   stringList   `yaml:"after_script"`
	Rules         []rawRule    `yaml:"rules"`
	Only          *refList     `yaml:"only"`
	Except        *refList     `yaml:"except"`
	Needs         *[]rawNeed   `yaml:"needs"`
	Dependencies  *[]string    `yaml:"dependencies"`
	Artifacts     *rawArtifact `yaml:"artifacts"`
	Cache         *rawCache    `yaml:"cache"`
	Retry         *rawRetry    `yaml:"retry"`
	Interruptible bool         `yaml:"interruptible"`
	Variables     variableMap  `yaml:"variables"`
	Image         rawImage     `yaml:"image"`
	Tags          []string     `yaml:"tags"`
	Timeout       string       `yaml:"timeout"`
}

type rawRule struct {
	If        string            `yaml:"if"`
	Ref       string            `yaml:"ref"`
	Refs      []string          `yaml:"refs"`
	Kind      string            `yaml:"kind"`
	Kinds     []string          `yaml:"kinds"`
	Source    string            `yaml:"source"`
	Sources   []string          `yaml:"sources"`
	Variables map[string]string `yaml:"variables"`
	When      string            `yaml:"when"`
}

type rawWorkflow struct {
	Rules []rawRule `yaml:"rules"`
}

type rawArtifact struct {
	Name     string     `yaml:"name"`
	Paths    stringList `yaml:"paths"`
	Exclude  stringList `yaml:"exclude"`
	When     string     `yaml:"when"`
	ExpireIn string     `yaml:"expire_in"`
}

// stringList accepts a scalar or a (nested) sequence of scalars. Nesting
// appears when anchored script blocks are reused inside another script.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	out, err := flattenScalars(node)
	if err != nil {
		return err
	}
	*l = out
	return nil
}

func flattenScalars(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var out []string
		for _, item := range node.Content {
			items, err := flattenScalars(item)
			if err != nil {
				return nil, err
			}
			out = append(out, items...)
		}
		return out, nil
	case yaml.AliasNode:
		return flattenScalars(node.Alias)
	default:
		return nil, fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// refList is an only/except value: a list, or a map with a refs key.
type refList []string

func (l *refList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var m struct {
			Refs stringList `yaml:"refs"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		*l = refList(m.Refs)
		return nil
	}
	out, err := flattenScalars(node)
	if err != nil {
		return err
	}
	*l = out
	return nil
}

// rawNeed is a job name or {job, artifacts, optional}.
type rawNeed struct {
	Job       string
	Artifacts bool
	Optional  bool
}

func (n *rawNeed) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*n = rawNeed{Job: node.Value, Artifacts: true}
		return nil
	}
	var m struct {
		Job       string `yaml:"job"`
		Artifacts *bool  `yaml:"artifacts"`
		Optional  bool   `yaml:"optional"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	*n = rawNeed{Job: m.Job, Artifacts: m.Artifacts == nil || *m.Artifacts, Optional: m.Optional}
	return nil
}

// rawRetry is an integer or {max, when}.
type rawRetry struct {
	Max  int
	When []string
}

func (r *rawRetry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		n, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: retry must be an integer or a map", node.Line)
		}
		*r = rawRetry{Max: n}
		return nil
	}
	var m struct {
		Max  int        `yaml:"max"`
		When stringList `yaml:"when"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	*r = rawRetry{Max: m.Max, When: m.When}
	return nil
}

// rawCache is {key, paths, policy}, or false to disable an inherited cache.
type rawCache struct {
	Disabled bool
	Key      string
	Paths    []string
	Policy   string
}

func (c *rawCache) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var b bool
		if err := node.Decode(&b); err != nil || b {
			return fmt.Errorf("line %d: cache must be a map or false", node.Line)
		}
		*c = rawCache{Disabled: true}
		return nil
	}
	var m struct {
		Key    string     `yaml:"key"`
		Paths  stringList `yaml:"paths"`
		Policy string     `yaml:"policy"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	*c = rawCache{Key: m.Key, Paths: m.Paths, Policy: m.Policy}
	return nil
}

// rawImage is a name or {name, ...}; only the name is kept.
type rawImage string

func (i *rawImage) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*i = rawImage(node.Value)
		return nil
	}
	var m struct {
		Name string `yaml:"name"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	*i = rawImage(m.Name)
	return nil
}

// variableMap accepts scalar values or {value, description} maps.
type variableMap map[string]string

func (v *variableMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: variables must be a map", node.Line)
	}
	out := make(variableMap, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind == yaml.AliasNode {
			val = val.Alias
		}
		switch val.Kind {
		case yaml.ScalarNode:
			out[key.Value] = val.Value
		case yaml.MappingNode:
			var m struct {
				Value string `yaml:"value"`
			}
			if err := val.Decode(&m); err != nil {
				return err
			}
			out[key.Value] = m.Value
		default:
			return fmt.Errorf("line %d: variable %q must be a scalar", val.Line, key.Value)
		}
	}
	*v = out
	return nil
}
