package types

// Engine event ids.
const (
	EventPluginLoaded        = "plugin.loaded"
	EventPluginFailed        = "plugin.failed"
	EventExtensionUnresolved = "extension.unresolved"
	EventAreaLocked          = "area.locked"
)

// Event is a notification emitted by the engine while plugins are loaded and registered.
type Event struct {
	Id string `json:"id"`

	// Data is an optional human-readable detail, such as an error message.
	Data []byte `json:"data"`

	// Source is the plugin id the event is about.
	Source string `json:"source"`

	// Target is the extension point or area name the event is about, if any.
	Target string `json:"target"`
}
