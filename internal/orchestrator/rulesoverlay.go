package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlRuleFile is the shape of the optional detection-rules.yaml overlay
// named by cfg.DetectionRules.RulesFile (spec §4.6: "a small rule table maps
// detection to {kind, startCommand, port}" — kept as data here rather than
// code, grounded on cuemby-warren's cmd/warren/apply.go YAML-resource
// convention).
type yamlRuleFile struct {
	Rules []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	Name         string   `yaml:"name"`
	Dependency   string   `yaml:"dependency"`
	RequireFiles []string `yaml:"requireFiles"`
	Kind         string   `yaml:"kind"`
	StartCommand string   `yaml:"startCommand"`
	Port         int      `yaml:"port"`
}

// loadRulesOverlay reads path and converts its entries into detectionRules,
// which are tried before the built-in table (operator overrides win).
// A missing file is not an error: the overlay is optional.
func loadRulesOverlay(path string) ([]detectionRule, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading detection rules overlay: %w", err)
	}

	var file yamlRuleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing detection rules overlay %s: %w", path, err)
	}

	rules := make([]detectionRule, 0, len(file.Rules))
	for _, r := range file.Rules {
		r := r
		rules = append(rules, detectionRule{
			name: r.Name,
			matches: func(f projectFiles) bool {
				if r.Dependency != "" && (f.packageJSON == nil || !hasDep(f.packageJSON, r.Dependency)) {
					return false
				}
				for _, required := range r.RequireFiles {
					if !f.hasFile[required] {
						return false
					}
				}
				return r.Dependency != "" || len(r.RequireFiles) > 0
			},
			kind:    ProjectKind(r.Kind),
			command: r.StartCommand,
			port:    r.Port,
		})
	}
	return rules, nil
}
