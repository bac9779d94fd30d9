package types

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// PointAttribute is the manifest key naming the extension point an extension is contributed to. It is consumed
// while parsing and never reaches the declaration attributes.
const PointAttribute = "point"

type Extension struct {
	// the qualified extension point name that this extension provides functionality to/for.
	ExtensionPoint string `json:"extensionPoint" yaml:"extensionPoint" toml:"extensionPoint"`

	// Element is the raw declaration: implementation, id and order bookkeeping attributes plus whatever the
	// extension point's bean or implementation class is configured with.
	Element *Element `json:"element" yaml:"element" toml:"element"`
}

// UnmarshalYAML reads an extension from the flat manifest form:
//
//	- point: com.example.greeter
//	  implementation: HelloGreeter
//	  order: first
//	  greeting: hello
func (e *Extension) UnmarshalYAML(value *yaml.Node) error {
	el, err := ElementFromNode("", value)
	if err != nil {
		return err
	}
	point, ok := el.Attributes[PointAttribute]
	if !ok || point == "" {
		return fmt.Errorf("extension at line %d: %q is required", value.Line, PointAttribute)
	}
	delete(el.Attributes, PointAttribute)
	el.Name = point

	e.ExtensionPoint = point
	e.Element = el
	return nil
}

// Declaration returns the declaration element registered with an extensions area. Its name is always the
// qualified extension point name.
func (e *Extension) Declaration() *Element {
	if nil == e.Element {
		e.Element = NewElement(e.ExtensionPoint)
	}
	e.Element.Name = e.ExtensionPoint
	return e.Element
}
