package types

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// TextKey is the key element text is exposed under when an element also carries attributes or children.
const TextKey = "text"

// Element is one parsed declaration: a named node with string attributes, nested child elements and optional
// text. Manifests of every format are reduced to this shape before they reach an extensions area.
type Element struct {
	Name       string            `json:"name" yaml:"name"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Children   []*Element        `json:"children,omitempty" yaml:"children,omitempty"`
	Text       string            `json:"text,omitempty" yaml:"text,omitempty"`

	// Repeated marks a child that was declared as a list item, so that a single item still decodes into a slice.
	Repeated bool `json:"repeated,omitempty" yaml:"repeated,omitempty"`
}

// NewElement creates an empty element.
func NewElement(name string) *Element {
	return &Element{Name: name, Attributes: make(map[string]string)}
}

// Attr returns the attribute value, or "" when absent.
func (e *Element) Attr(key string) string {
	if nil == e || nil == e.Attributes {
		return ""
	}
	return e.Attributes[key]
}

// SetAttr sets an attribute and returns the element for chaining.
func (e *Element) SetAttr(key, value string) *Element {
	if nil == e.Attributes {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// AddChild appends a child and returns the element for chaining.
func (e *Element) AddChild(child *Element) *Element {
	e.Children = append(e.Children, child)
	return e
}

// Node converts the element into a yaml node tree so it can be decoded onto a Go value with yaml tags.
//
// Attributes become scalar entries (sorted by key), children become nested mappings grouped by name; a name that
// occurs more than once, or a child marked Repeated, becomes a sequence. An element with only text is a scalar.
func (e *Element) Node() *yaml.Node {
	if len(e.Attributes) == 0 && len(e.Children) == 0 {
		return &yaml.Node{Kind: yaml.ScalarNode, Value: e.Text}
	}

	n := &yaml.Node{Kind: yaml.MappingNode}

	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Content = append(n.Content, scalar(k), scalar(e.Attributes[k]))
	}

	if e.Text != "" {
		n.Content = append(n.Content, scalar(TextKey), scalar(e.Text))
	}

	var names []string
	groups := make(map[string][]*Element)
	for _, c := range e.Children {
		if _, seen := groups[c.Name]; !seen {
			names = append(names, c.Name)
		}
		groups[c.Name] = append(groups[c.Name], c)
	}
	for _, name := range names {
		group := groups[name]
		if len(group) == 1 && !group[0].Repeated {
			n.Content = append(n.Content, scalar(name), group[0].Node())
			continue
		}
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, c := range group {
			seq.Content = append(seq.Content, c.Node())
		}
		n.Content = append(n.Content, scalar(name), seq)
	}

	return n
}

// Decode decodes the element onto out, which must be a pointer.
func (e *Element) Decode(out any) error {
	return e.Node().Decode(out)
}

// UnmarshalYAML builds the element from a yaml mapping; the element name is left to the caller.
func (e *Element) UnmarshalYAML(value *yaml.Node) error {
	el, err := ElementFromNode(e.Name, value)
	if err != nil {
		return err
	}
	*e = *el
	return nil
}

// ElementFromNode converts a yaml node into an element named name. Scalars in a mapping become attributes,
// mappings become children and sequences become repeated children of the same name.
func ElementFromNode(name string, n *yaml.Node) (*Element, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return NewElement(name), nil
		}
		return ElementFromNode(name, n.Content[0])
	case yaml.AliasNode:
		return ElementFromNode(name, n.Alias)
	case yaml.ScalarNode:
		el := NewElement(name)
		el.Text = scalarValue(n)
		return el, nil
	case yaml.MappingNode:
		el := NewElement(name)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			value := n.Content[i+1]
			if value.Kind == yaml.AliasNode {
				value = value.Alias
			}

			switch value.Kind {
			case yaml.ScalarNode:
				el.Attributes[key] = scalarValue(value)
			case yaml.MappingNode:
				child, err := ElementFromNode(key, value)
				if err != nil {
					return nil, err
				}
				el.Children = append(el.Children, child)
			case yaml.SequenceNode:
				for _, item := range value.Content {
					child, err := ElementFromNode(key, item)
					if err != nil {
						return nil, err
					}
					child.Repeated = true
					el.Children = append(el.Children, child)
				}
			default:
				return nil, fmt.Errorf("element %q: unsupported value for %q at line %d", name, key, value.Line)
			}
		}
		return el, nil
	default:
		return nil, fmt.Errorf("element %q: expected a mapping at line %d", name, n.Line)
	}
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

func scalarValue(n *yaml.Node) string {
	if n.Tag == "!!null" {
		return ""
	}
	return n.Value
}
