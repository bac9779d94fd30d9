package types

// Runtime values understood by the engine when it builds a plugin descriptor.
const (
	RuntimeGo   = "go"
	RuntimeLua  = "lua"
	RuntimeWasm = "wasm"
)

type Plugin struct {
	// a unique identifier such as a reverse domain name (com.example.greeters). Extension point ids declared by this
	// plugin are qualified with it.
	Id string `json:"id" yaml:"id" toml:"id"`

	// a display or friendly name for this plugin
	Name string `json:"name" yaml:"name" toml:"name"`

	Version     string `json:"version" yaml:"version" toml:"version"`
	Description string `json:"description" yaml:"description" toml:"description"`

	// Runtime selects how implementation names of this plugin are resolved: "go" (types registered by the host
	// application), "lua" (globals of the Main script) or "wasm" (exports of the Main module). Empty means "go".
	Runtime string `json:"runtime" yaml:"runtime" toml:"runtime"`

	// Main is the entry file of lua and wasm plugins, relative to the manifest directory.
	Main string `json:"main" yaml:"main" toml:"main"`

	ExtensionPoints []ExtensionPoint `json:"extensionPoints" yaml:"extensionPoints" toml:"extensionPoints"`
	Extensions      []Extension      `json:"extensions" yaml:"extensions" toml:"extensions"`
}

// ExtensionPointsFor returns the extension points declared for the given area ("" and "application" are the same
// area).
func (p *Plugin) ExtensionPointsFor(area string) []ExtensionPoint {
	area = NormalizeArea(area)
	var eps []ExtensionPoint
	for _, ep := range p.ExtensionPoints {
		if NormalizeArea(ep.Area) == area {
			eps = append(eps, ep)
		}
	}
	return eps
}
