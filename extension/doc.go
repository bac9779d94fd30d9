// Package extension implements the extension point registry.
//
// Plugins declare extension points, typed slots identified by a qualified name, and contribute extensions to
// points declared by themselves or by other plugins. The registry keeps those contributions as lazy adapters and
// turns a point into an ordered list of live objects on first use.
//
// # Areas
//
// An Area holds the points of one component scope: one for the application and one per open project. Startup
// code declares points and registers extensions, then locks the area:
//
//	area := extension.NewArea(extension.ScopeApplication, "app")
//	area.RegisterExtensionPoint("com.example.greeter", "Greeter", plugin, extension.KindInterface)
//	area.RegisterExtension(plugin, types.NewElement("com.example.greeter").
//		SetAttr("implementation", "HelloGreeter").
//		SetAttr("order", "first"))
//	area.SetLocked()
//
// Registration problems caused by plugin data (a duplicate point, a declaration without implementation, an
// unknown point) are logged with the plugin id and the declaration is dropped.
//
// # Building
//
// The first call to ExtensionPoint.Extensions sorts the adapters by LoadingOrder, materializes each one,
// drops those that fail, that do not implement the point contract or that duplicate an earlier instance, appends
// whatever the point's extenders contribute and caches the list:
//
//	greeters, err := extension.ExtensionsOf[Greeter](ctx, area.MustExtensionPoint("com.example.greeter"))
//
// Only cancellation, through the context or the area's CancelProbe, aborts a build.
//
// # Loading order
//
// An extension declares its position with an order attribute:
//
//	first            ahead of every unanchored extension
//	last             behind every unanchored extension
//	before:ID        ahead of the extension with id ID
//	after:ID         behind the extension with id ID
//
// Parts can be combined with commas. Extensions without constraints keep their registration order.
//
// # Extenders
//
// An Extender registered with the ExtenderPointName point adds computed extensions to the point it targets
// every time that point is built.
package extension
