package extension

// ExtenderPointName is the point every area declares for extenders. It is the one point that never consults
// extenders itself.
const ExtenderPointName = "extensions.extender"

// ExtenderClassName is the contract class name of the extender point.
const ExtenderClassName = "extension.Extender"

// Extender contributes extensions computed at build time to the point named by Target.
//
// Extensions handed to sink are appended after the declared extensions, as they are: they are not checked
// against the contract or for duplicates.
type Extender interface {
	Target() string
	Extend(area *Area, sink func(any))
}

// ExtenderBase implements Target from a "key" declaration attribute. Embed it inline:
//
//	type myExtender struct {
//		extension.ExtenderBase `yaml:",inline"`
//	}
type ExtenderBase struct {
	Key string `yaml:"key"`
}

// Target implements Extender.
func (b *ExtenderBase) Target() string {
	return b.Key
}

// ExtenderFunc adapts a function to an Extender of the target point.
type ExtenderFunc struct {
	ExtenderBase `yaml:",inline"`
	fn           func(area *Area, sink func(any))
}

// NewExtender returns an extender contributing to target through fn.
func NewExtender(target string, fn func(area *Area, sink func(any))) *ExtenderFunc {
	return &ExtenderFunc{ExtenderBase: ExtenderBase{Key: target}, fn: fn}
}

// Extend implements Extender.
func (e *ExtenderFunc) Extend(area *Area, sink func(any)) {
	if nil != e.fn {
		e.fn(area, sink)
	}
}
