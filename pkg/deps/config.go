// Package deps downloads and unpacks the external tools listed in DEPS.yml
package deps

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigName is the dependency list in the project root
	ConfigName = "DEPS.yml"
	// StampsPath records which version of each dependency is unpacked
	StampsPath = ".tools/DEPS.stamps"
)

// Spec describes a single dependency
type Spec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	MarkExec   []string `yaml:"markExec,omitempty"`
}

// Config is the parsed DEPS.yml
type Config struct {
	Vars map[string]string
	Deps map[string]Spec

	path string
	raw  []byte
}

// Stamps maps dependency names to the URL and checksum they were unpacked from
type Stamps map[string]string

// LoadConfig reads DEPS.yml and the stamps file from projectRoot
func LoadConfig(projectRoot string) (*Config, Stamps, error) {
	cfg := &Config{path: filepath.Join(projectRoot, ConfigName)}
	data, err := os.ReadFile(cfg.path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "Could not open file %s.", cfg.path)
	}

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "Failed to parse %s.", cfg.path)
	}
	cfg.raw = data
	if cfg.Vars == nil {
		cfg.Vars = map[string]string{}
	}

	stamps := Stamps{}
	stampPath := filepath.Join(projectRoot, StampsPath)
	stampData, err := os.ReadFile(stampPath)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return nil, nil, eris.Wrapf(err, "Failed to read stamps file %s.", stampPath)
		}
	} else {
		err = json.Unmarshal(stampData, &stamps)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "Failed to parse JSON file %s.", stampPath)
		}
	}

	return cfg, stamps, nil
}

// Save writes the stamps file
func (s Stamps) Save(projectRoot string) error {
	stampPath := filepath.Join(projectRoot, StampsPath)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "Failed to encode stamps")
	}

	err = os.MkdirAll(filepath.Dir(stampPath), 0o770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", filepath.Dir(stampPath))
	}

	return eris.Wrapf(os.WriteFile(stampPath, data, 0o660), "Failed to write %s", stampPath)
}

// Token identifies the unpacked version of a dependency
func (s Spec) Token() string {
	return s.URL + "#" + s.Sha256
}

// PlatformVars returns the variables every condition can refer to
func PlatformVars() map[string]string {
	vars := map[string]string{
		runtime.GOARCH: "true",
		runtime.GOOS:   "true",
	}
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}
	return vars
}

var varMatcher = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// EvalConditions replaces the {VAR} placeholders in the URL and reports whether the dependency applies. Every
// name listed in "if" has to be set and no name listed in "ifNot" may be set.
func EvalConditions(meta *Spec, vars map[string]string) bool {
	meta.URL = varMatcher.ReplaceAllStringFunc(meta.URL, func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	})

	for _, condition := range strings.Split(meta.Condition, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] == "" {
			return false
		}
	}

	for _, condition := range strings.Split(meta.Rejections, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] != "" {
			return false
		}
	}
	return true
}

// UpdateChecksums rewrites the sha256 fields of the named dependencies in DEPS.yml. Comments and ordering are kept.
func (c *Config) UpdateChecksums(changes map[string]string) error {
	if len(changes) == 0 {
		return nil
	}

	var doc yaml.Node
	err := yaml.Unmarshal(c.raw, &doc)
	if err != nil {
		return eris.Wrapf(err, "Failed to parse %s.", c.path)
	}

	var depsNode *yaml.Node
	if len(doc.Content) > 0 {
		depsNode = mappingValue(doc.Content[0], "deps")
	}
	if depsNode == nil {
		return eris.Errorf("%s has no deps section", c.path)
	}

	for name, checksum := range changes {
		depNode := mappingValue(depsNode, name)
		if depNode == nil || depNode.Kind != yaml.MappingNode {
			return eris.Errorf("Failed to find the section for %s!", name)
		}

		sumNode := mappingValue(depNode, "sha256")
		if sumNode == nil {
			depNode.Content = append(depNode.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: "sha256"},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: checksum},
			)
		} else {
			// placeholders like 0000 are tagged as ints and have to be turned into strings
			sumNode.Kind = yaml.ScalarNode
			sumNode.Tag = "!!str"
			sumNode.Style = 0
			sumNode.Value = checksum
		}

		spec := c.Deps[name]
		spec.Sha256 = checksum
		c.Deps[name] = spec
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return eris.Wrapf(err, "Failed to encode %s.", c.path)
	}

	c.raw = data
	return eris.Wrapf(os.WriteFile(c.path, data, 0o660), "Failed to write %s", c.path)
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}

	for idx := 0; idx+1 < len(node.Content); idx += 2 {
		if node.Content[idx].Value == key {
			return node.Content[idx+1]
		}
	}
	return nil
}
