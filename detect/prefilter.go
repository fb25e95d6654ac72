package detect

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Combinator keys as written in snippet files
const (
	keyNot = "Not"
	keyAnd = "And"
	keyOr  = "Or"
)

// PreFilterConfig is the declarative form of a pre-filter tree.
// A non-nil Key makes the node a leaf even when empty.
// ForeignKey marks a key written as a non-string; no event field can carry it.
type PreFilterConfig struct {
	Key        *string
	ForeignKey bool
	Condition  string
	Value      any
	HasValue   bool
	And        []PreFilterConfig
	Or         []PreFilterConfig
	Not        []PreFilterConfig
}

// ParsePreFilterConfig reads a config from a generic map as produced by YAML or JSON decoding.
// Combinators that are not lists and children that are not maps are ignored.
func ParsePreFilterConfig(raw map[string]any) PreFilterConfig {
	var cfg PreFilterConfig
	if raw == nil {
		return cfg
	}

	if k, ok := raw["key"]; ok && k != nil {
		key := stringify(k)
		cfg.Key = &key
		_, isString := k.(string)
		cfg.ForeignKey = !isString
	}
	if c, ok := raw["condition"].(string); ok {
		cfg.Condition = c
	}
	if v, ok := raw["value"]; ok {
		cfg.Value = v
		cfg.HasValue = true
	}

	cfg.Not = parseChildren(raw[keyNot])
	cfg.And = parseChildren(raw[keyAnd])
	cfg.Or = parseChildren(raw[keyOr])
	return cfg
}

func parseChildren(raw any) []PreFilterConfig {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	children := make([]PreFilterConfig, 0, len(list))
	for _, item := range list {
		if m := asStringMap(item); m != nil {
			children = append(children, ParsePreFilterConfig(m))
		}
	}
	return children
}

// asStringMap accepts both string keyed maps and the interface keyed maps some YAML decoders produce
func asStringMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out
	}
	return nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// UnmarshalJSON decodes a config tree from JSON
func (c *PreFilterConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode pre-filter: %w", err)
	}
	*c = ParsePreFilterConfig(raw)
	return nil
}

// UnmarshalYAML decodes a config tree from YAML
func (c *PreFilterConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode pre-filter: %w", err)
	}
	*c = ParsePreFilterConfig(raw)
	return nil
}

// NodeKind names which branch of a compiled pre-filter is active
type NodeKind string

const (
	NodeLeaf  NodeKind = "leaf"
	NodeOr    NodeKind = "or"
	NodeAnd   NodeKind = "and"
	NodeNot   NodeKind = "not"
	NodeEmpty NodeKind = "empty"
)

// Node is one compiled pre-filter branch
type Node interface {
	Kind() NodeKind
	Filter(event map[string]any) bool
}

// LeafNode applies a single condition
type LeafNode struct {
	Condition Condition
}

func (LeafNode) Kind() NodeKind { return NodeLeaf }

func (n LeafNode) Filter(event map[string]any) bool {
	return n.Condition.Apply(event)
}

// OrNode is true when any child is true, evaluated in order
type OrNode struct {
	Children []*PreFilter
}

func (OrNode) Kind() NodeKind { return NodeOr }

func (n OrNode) Filter(event map[string]any) bool {
	for _, child := range n.Children {
		if child.Filter(event) {
			return true
		}
	}
	return false
}

// AndNode is true when every child is true, evaluated in order
type AndNode struct {
	Children []*PreFilter
}

func (AndNode) Kind() NodeKind { return NodeAnd }

func (n AndNode) Filter(event map[string]any) bool {
	for _, child := range n.Children {
		if !child.Filter(event) {
			return false
		}
	}
	return true
}

// NotNode is NOT(all children true). With several children this is NAND, not NOR.
type NotNode struct {
	Children []*PreFilter
}

func (NotNode) Kind() NodeKind { return NodeNot }

func (n NotNode) Filter(event map[string]any) bool {
	all := true
	for _, child := range n.Children {
		if !child.Filter(event) {
			all = false
		}
	}
	return !all
}

// EmptyNode matches nothing
type EmptyNode struct{}

func (EmptyNode) Kind() NodeKind { return NodeEmpty }

func (EmptyNode) Filter(map[string]any) bool { return false }

// PreFilter is a compiled, immutable pre-filter tree.
// Every configured branch is kept but exactly one is active.
type PreFilter struct {
	leaf   *Condition
	or     []*PreFilter
	and    []*PreFilter
	not    []*PreFilter
	active Node
}

// CompilePreFilter builds a tree from its config. It never fails: unusable configs compile to Empty.
func CompilePreFilter(cfg PreFilterConfig) *PreFilter {
	pf := &PreFilter{
		or:  compileAll(cfg.Or),
		and: compileAll(cfg.And),
		not: compileAll(cfg.Not),
	}

	if cfg.Key != nil {
		value := cfg.Value
		if !cfg.HasValue {
			value = ""
		}
		cond := NewCondition(*cfg.Key, cfg.Condition, value)
		cond.Unreachable = cfg.ForeignKey
		pf.leaf = &cond
	}

	switch {
	case pf.leaf != nil:
		pf.active = LeafNode{Condition: *pf.leaf}
	case len(pf.or) > 0:
		pf.active = OrNode{Children: pf.or}
	case len(pf.and) > 0:
		pf.active = AndNode{Children: pf.and}
	case len(pf.not) > 0:
		pf.active = NotNode{Children: pf.not}
	default:
		pf.active = EmptyNode{}
	}
	return pf
}

func compileAll(cfgs []PreFilterConfig) []*PreFilter {
	if len(cfgs) == 0 {
		return nil
	}
	out := make([]*PreFilter, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, CompilePreFilter(c))
	}
	return out
}

// CompilePreFilterMap is a shorthand for compiling a generic map
func CompilePreFilterMap(raw map[string]any) *PreFilter {
	return CompilePreFilter(ParsePreFilterConfig(raw))
}

// ActiveKind reports which branch decides Filter
func (p *PreFilter) ActiveKind() NodeKind {
	return p.active.Kind()
}

// Active returns the deciding node
func (p *PreFilter) Active() Node {
	return p.active
}

// Filter decides whether the event is eligible for the detection.
// A nil event behaves like an event with no fields.
func (p *PreFilter) Filter(event map[string]any) bool {
	if p == nil || p.active == nil {
		return false
	}
	return p.active.Filter(event)
}
