package quota

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultLimit applies to plans missing from the table.
const DefaultLimit = 10

// Plans maps a plan name to its monthly scan allowance.
type Plans map[string]int

// DefaultPlans is the built-in plan table.
var DefaultPlans = Plans{
	"free":    10,
	"starter": 100,
	"team":    500,
}

// Limit returns the allowance for plan, or DefaultLimit when the plan is unknown.
func (p Plans) Limit(plan string) int {
	if n, ok := p[plan]; ok {
		return n
	}
	return DefaultLimit
}

type plansFile struct {
	Plans map[string]int `yaml:"plans"`
}

// LoadPlans reads a YAML plan table and layers it over DefaultPlans.
//
//	plans:
//	  free: 10
//	  enterprise: 5000
func LoadPlans(path string) (Plans, error) {
	out := maps.Clone(DefaultPlans)
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	var f plansFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}
	for name, limit := range f.Plans {
		if limit < 0 {
			return nil, fmt.Errorf("plan %q has negative limit %d", name, limit)
		}
		out[name] = limit
	}
	return out, nil
}
