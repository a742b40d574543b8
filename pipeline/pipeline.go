// Package pipeline describes machine-learning pipelines as a sequence of
// steps, each choosing one node (algorithm variant) with its own
// hyperparameters, and turns them into a conditional configuration space.
//
// Keys are namespaced "step:__choice__" for the node choice and
// "step:node:hyperparameter" for node hyperparameters, so the step a key
// belongs to is always its first segment.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/thalesfsp/pcsmac"
)

// ChoiceName is the hyperparameter selecting the node of a step.
const ChoiceName = "__choice__"

// DefaultSteps is the step order of a classification pipeline.
var DefaultSteps = []string{
	"one_hot_encoder",
	"imputation",
	"rescaling",
	"balancing",
	"feature_preprocessor",
	"classifier",
}

// Node is one algorithm variant of a step.
//
// The builder functions receive the node's key prefix ("step:node:") and
// return hyperparameters, conditions and forbidden clauses named with it.
// Any of them may be nil.
type Node struct {
	Name string

	Hyperparameters func(prefix string) []pcsmac.Hyperparameter
	Conditions      func(prefix string) []pcsmac.Condition
	Forbidden       func(prefix string) []pcsmac.ForbiddenClause
}

// Step is a named pipeline stage with its candidate nodes. Caching marks a
// step whose output can be cached and reused by later evaluations.
type Step struct {
	Name    string
	Nodes   []Node
	Caching bool
}

// Instance is a step resolved against a configuration: the chosen node and
// its hyperparameters keyed by their short name.
type Instance struct {
	Step   string
	Node   string
	Params map[string]any
}

// Pipeline is an ordered list of steps plus cross-step forbidden
// combinations.
type Pipeline struct {
	Steps     []Step
	Forbidden []pcsmac.ForbiddenClause
}

//////
// Step methods.
//////

// ChoiceKey returns the key selecting the node of the step.
func (s Step) ChoiceKey() string { return s.Name + pcsmac.KeySeparator + ChoiceName }

// Active returns the node cfg chooses for this step.
func (s Step) Active(cfg pcsmac.Configuration) (Node, bool) {
	v, ok := cfg.Get(s.ChoiceKey())
	if !ok {
		return Node{}, false
	}

	name, _ := v.(string)

	return s.node(name)
}

// Instantiate resolves the step against cfg.
func (s Step) Instantiate(cfg pcsmac.Configuration) (Instance, error) {
	node, ok := s.Active(cfg)
	if !ok {
		return Instance{}, fmt.Errorf("step %s: no valid node chosen", s.Name)
	}

	prefix := s.prefix(node)
	params := map[string]any{}

	for _, k := range cfg.Keys() {
		if strings.HasPrefix(k, prefix) {
			params[strings.TrimPrefix(k, prefix)], _ = cfg.Get(k)
		}
	}

	return Instance{Step: s.Name, Node: node.Name, Params: params}, nil
}

func (s Step) node(name string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}

	return Node{}, false
}

func (s Step) prefix(n Node) string {
	return s.Name + pcsmac.KeySeparator + n.Name + pcsmac.KeySeparator
}

//////
// Pipeline methods.
//////

// BuildSpace returns the configuration space of the pipeline: one choice per
// step and the hyperparameters of every node, active only when the node is
// chosen.
func (p *Pipeline) BuildSpace() (*pcsmac.Space, error) {
	space := pcsmac.NewSpace()

	for _, step := range p.Steps {
		if len(step.Nodes) == 0 {
			return nil, fmt.Errorf("step %s has no nodes", step.Name)
		}

		names := make([]string, len(step.Nodes))
		for i, n := range step.Nodes {
			names[i] = n.Name
		}

		if err := space.Add(pcsmac.NewCategorical(step.ChoiceKey(), names, "")); err != nil {
			return nil, fmt.Errorf("step %s: %w", step.Name, err)
		}

		for _, node := range step.Nodes {
			if err := addNode(space, step, node); err != nil {
				return nil, err
			}
		}
	}

	for _, clause := range p.Forbidden {
		if err := space.AddForbidden(clause...); err != nil {
			return nil, err
		}
	}

	return space, nil
}

func addNode(space *pcsmac.Space, step Step, node Node) error {
	prefix := step.prefix(node)

	if node.Hyperparameters == nil {
		return nil
	}

	hps := node.Hyperparameters(prefix)
	if err := space.Add(hps...); err != nil {
		return fmt.Errorf("node %s: %w", strings.TrimSuffix(prefix, pcsmac.KeySeparator), err)
	}

	for _, hp := range hps {
		err := space.AddCondition(pcsmac.Condition{
			Child:  hp.Name(),
			Parent: step.ChoiceKey(),
			Values: []any{node.Name},
		})
		if err != nil {
			return err
		}
	}

	if node.Conditions != nil {
		for _, c := range node.Conditions(prefix) {
			if err := space.AddCondition(c); err != nil {
				return err
			}
		}
	}

	if node.Forbidden != nil {
		for _, clause := range node.Forbidden(prefix) {
			if err := space.AddForbidden(clause...); err != nil {
				return err
			}
		}
	}

	return nil
}

// Partition splits the step names into the constant part, every step up to
// and including the last caching step, and the variable remainder. Batch
// sampling keeps the constant part fixed within a leaf.
func (p *Pipeline) Partition() (constant, variable []string) {
	last := -1

	for i, s := range p.Steps {
		if s.Caching {
			last = i
		}
	}

	for i, s := range p.Steps {
		if i <= last {
			constant = append(constant, s.Name)
		} else {
			variable = append(variable, s.Name)
		}
	}

	return constant, variable
}

// Instantiate resolves every step against cfg.
func (p *Pipeline) Instantiate(cfg pcsmac.Configuration) ([]Instance, error) {
	out := make([]Instance, 0, len(p.Steps))

	for _, s := range p.Steps {
		inst, err := s.Instantiate(cfg)
		if err != nil {
			return nil, err
		}

		out = append(out, inst)
	}

	return out, nil
}

// Prefix returns the values of cfg belonging to steps, e.g. the constant
// part of a configuration that a cache entry covers.
func Prefix(cfg pcsmac.Configuration, steps []string) map[string]any {
	want := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		want[s] = struct{}{}
	}

	out := map[string]any{}

	for _, k := range cfg.Keys() {
		if _, ok := want[pcsmac.Step(k)]; ok {
			out[k], _ = cfg.Get(k)
		}
	}

	return out
}

//////
// Factory.
//////

// New builds a pipeline from registered steps, in the given order. No names
// means DefaultSteps. Cross-step forbidden combinations whose steps are all
// present are included.
func New(names ...string) (*Pipeline, error) {
	if len(names) == 0 {
		names = DefaultSteps
	}

	p := &Pipeline{}
	present := map[string]bool{}

	for _, name := range names {
		step, err := Get(name)
		if err != nil {
			return nil, err
		}

		p.Steps = append(p.Steps, step)
		present[name] = true
	}

	for _, clause := range crossStepForbidden {
		ok := true

		for _, term := range clause {
			if !present[pcsmac.Step(term.Key)] {
				ok = false

				break
			}
		}

		if ok {
			p.Forbidden = append(p.Forbidden, clause)
		}
	}

	return p, nil
}
