package types

import "strings"

// Area names an ExtensionPoint may be declared for.
const (
	AreaApplication = "application"
	AreaProject     = "project"
)

type ExtensionPoint struct {
	// the local identifier of the extension point. The registered name is the declaring plugin id and this id
	// separated by a period, unless QualifiedName is set.
	Id string `json:"id" yaml:"id" toml:"id"`

	// QualifiedName overrides the composed name. Used by platform plugins that declare points outside of their
	// own namespace.
	QualifiedName string `json:"qualifiedName" yaml:"qualifiedName" toml:"qualifiedName"`

	// a display or friendly name for this extension point, not to be confused with the Id.
	Name string `json:"name" yaml:"name" toml:"name"`

	// a meaningful description of this extension point that could be displayed in a plugin store for example.
	Description string `json:"description" yaml:"description" toml:"description"`

	// Interface is the class name of the contract extensions must implement. Extensions of an interface point
	// name their own implementation class.
	Interface string `json:"interface" yaml:"interface" toml:"interface"`

	// BeanClass is the class name every extension of a bean point is created from; the declaration attributes
	// are decoded onto it. Exactly one of Interface and BeanClass is set.
	BeanClass string `json:"beanClass" yaml:"beanClass" toml:"beanClass"`

	// Area is the component scope the point lives in: "application" (default) or "project".
	Area string `json:"area" yaml:"area" toml:"area"`

	// if true, the engine builds this extension point right after locking so the first consumer finds the list
	// already cached.
	StartOnLoad bool `json:"startOnLoad" yaml:"startOnLoad" toml:"startOnLoad"`
}

// FullName returns the registered name of the extension point when declared by pluginID.
func (ep ExtensionPoint) FullName(pluginID string) string {
	if ep.QualifiedName != "" {
		return ep.QualifiedName
	}
	if pluginID == "" {
		return ep.Id
	}
	return pluginID + "." + ep.Id
}

// ClassName returns the declared contract class name, whichever kind the point is.
func (ep ExtensionPoint) ClassName() string {
	if ep.Interface != "" {
		return ep.Interface
	}
	return ep.BeanClass
}

// NormalizeArea maps an area attribute onto one of the known area names. Anything that is not "project" is the
// application area.
func NormalizeArea(area string) string {
	if strings.EqualFold(strings.TrimSpace(area), AreaProject) {
		return AreaProject
	}
	return AreaApplication
}
