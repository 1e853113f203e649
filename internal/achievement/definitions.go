package achievement

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// definitionsFile is the YAML shape of a deployment's achievement set.
type definitionsFile struct {
	Achievements []definitionNode `yaml:"achievements"`
}

type definitionNode struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Points      int       `yaml:"points"`
	Rarity      string    `yaml:"rarity"`
	Rule        *ruleNode `yaml:"rule"`
}

// ruleNode is the declarative rule tree. Exactly one field may be set per
// node; combinators nest further nodes.
type ruleNode struct {
	All      []ruleNode     `yaml:"all"`
	Any      []ruleNode     `yaml:"any"`
	Not      *ruleNode      `yaml:"not"`
	Outcome  string         `yaml:"outcome"`
	Moves    *comparison    `yaml:"moves"`
	Time     *timeThreshold `yaml:"time"`
	Mistakes *comparison    `yaml:"mistakes"`
	Patterns []string       `yaml:"patterns"`
	Custom   string         `yaml:"custom"`
}

type comparison struct {
	Cmp   string `yaml:"cmp"`
	Value int    `yaml:"value"`
}

type timeThreshold struct {
	Cmp     string `yaml:"cmp"`
	ValueMs int64  `yaml:"value_ms"`
}

// LoadDefinitions reads achievement definitions from a YAML file.
func LoadDefinitions(path string) ([]Achievement, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open achievement definitions: %w", err)
	}
	defer file.Close()
	return ParseDefinitions(file)
}

// ParseDefinitions decodes achievement definitions from YAML.
func ParseDefinitions(r io.Reader) ([]Achievement, error) {
	var parsed definitionsFile
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode achievement definitions: %w", err)
	}

	defs := make([]Achievement, 0, len(parsed.Achievements))
	seen := make(map[string]bool, len(parsed.Achievements))
	for _, node := range parsed.Achievements {
		def, err := node.compile()
		if err != nil {
			return nil, fmt.Errorf("achievement %q: %w", node.ID, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate achievement id: %s", def.ID)
		}
		seen[def.ID] = true
		defs = append(defs, def)
	}
	return defs, nil
}

func (n definitionNode) compile() (Achievement, error) {
	if n.Rule == nil {
		return Achievement{}, fmt.Errorf("rule is required")
	}
	rule, err := n.Rule.compile()
	if err != nil {
		return Achievement{}, err
	}

	rarity := Rarity(strings.ToLower(strings.TrimSpace(n.Rarity)))
	if rarity == "" {
		rarity = RarityCommon
	}
	def := Achievement{
		ID:          strings.TrimSpace(n.ID),
		Name:        strings.TrimSpace(n.Name),
		Description: strings.TrimSpace(n.Description),
		Points:      n.Points,
		Rarity:      rarity,
		Rule:        rule,
	}
	if err := def.Validate(); err != nil {
		return Achievement{}, err
	}
	return def, nil
}

func (n ruleNode) compile() (Rule, error) {
	var rules []Rule

	appendRule := func(rule Rule) {
		rules = append(rules, rule)
	}

	if len(n.All) > 0 {
		children, err := compileChildren(n.All)
		if err != nil {
			return nil, err
		}
		appendRule(All(children...))
	}
	if len(n.Any) > 0 {
		children, err := compileChildren(n.Any)
		if err != nil {
			return nil, err
		}
		appendRule(Any(children...))
	}
	if n.Not != nil {
		child, err := n.Not.compile()
		if err != nil {
			return nil, err
		}
		appendRule(Not(child))
	}
	if n.Outcome != "" {
		appendRule(Outcome(strings.TrimSpace(n.Outcome)))
	}
	if n.Moves != nil {
		cmp, err := ParseComparator(n.Moves.Cmp)
		if err != nil {
			return nil, fmt.Errorf("moves: %w", err)
		}
		appendRule(Moves(cmp, n.Moves.Value))
	}
	if n.Time != nil {
		cmp, err := ParseComparator(n.Time.Cmp)
		if err != nil {
			return nil, fmt.Errorf("time: %w", err)
		}
		appendRule(Time(cmp, n.Time.ValueMs))
	}
	if n.Mistakes != nil {
		cmp, err := ParseComparator(n.Mistakes.Cmp)
		if err != nil {
			return nil, fmt.Errorf("mistakes: %w", err)
		}
		appendRule(Mistakes(cmp, n.Mistakes.Value))
	}
	if len(n.Patterns) > 0 {
		appendRule(Patterns(n.Patterns...))
	}
	if strings.TrimSpace(n.Custom) != "" {
		rule, err := LuaRule(n.Custom)
		if err != nil {
			return nil, fmt.Errorf("custom: %w", err)
		}
		appendRule(rule)
	}

	switch len(rules) {
	case 0:
		return nil, fmt.Errorf("empty rule node")
	case 1:
		return rules[0], nil
	default:
		// Multiple keys on one node conjoin, matching reader intuition.
		return All(rules...), nil
	}
}

func compileChildren(nodes []ruleNode) ([]Rule, error) {
	children := make([]Rule, 0, len(nodes))
	for _, node := range nodes {
		child, err := node.compile()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}
