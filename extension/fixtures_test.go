package extension

import (
	"bytes"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/spirefy/go-extension-engine/internal/logx"
	"github.com/spirefy/go-extension-engine/types"
)

type Greeter interface {
	Greet() string
}

type hello struct {
	Greeting string `yaml:"greeting"`
}

func (h *hello) Greet() string { return h.Greeting }

type silent struct{}

func (*silent) Greet() string { return "..." }

type loud struct {
	Greeting string `yaml:"greeting"`
	Volume   int    `yaml:"volume"`
}

func (l *loud) Greet() string { return strings.ToUpper(l.Greeting) }

type notAGreeter struct {
	Name string `yaml:"name"`
}

type awareHello struct {
	hello  `yaml:",inline"`
	plugin PluginDescriptor
	calls  int
}

func (a *awareHello) SetPluginDescriptor(p PluginDescriptor) {
	a.plugin = p
	a.calls++
}

type beanConfig struct {
	Name string   `yaml:"name"`
	Size int      `yaml:"size"`
	Tags []string `yaml:"tag"`
}

// funcClass builds its instances with fn.
type funcClass struct {
	name string
	fn   func() (any, error)
}

func (c funcClass) Name() string              { return c.name }
func (c funcClass) Type() reflect.Type        { return reflect.TypeOf((*hello)(nil)) }
func (c funcClass) NewInstance() (any, error) { return c.fn() }

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// errorLines counts the error entries logged to buf.
func errorLines(buf *syncBuffer) int {
	return strings.Count(buf.String(), `"level":"error"`)
}

func testLoader() *ClassLoader {
	l := NewClassLoader(nil)
	RegisterType[Greeter](l, "Greeter")
	RegisterType[*hello](l, "hello")
	RegisterType[*loud](l, "loud")
	RegisterType[*notAGreeter](l, "notAGreeter")
	RegisterType[*awareHello](l, "aware")
	RegisterType[*beanConfig](l, "bean")
	l.RegisterClass(funcClass{name: "panics", fn: func() (any, error) { panic("boom") }})
	return l
}

func newTestArea(t *testing.T, opts ...AreaOption) (*Area, *syncBuffer, *Plugin) {
	t.Helper()
	buf := &syncBuffer{}
	area := NewArea(ScopeApplication, "test", append([]AreaOption{WithLogger(logx.New(buf))}, opts...)...)
	return area, buf, NewPlugin("test.plugin", testLoader())
}

func greeterPoint(t *testing.T, area *Area, plugin *Plugin) {
	t.Helper()
	if err := area.RegisterExtensionPoint("test.greeter", "Greeter", plugin, KindInterface); err != nil {
		t.Fatal(err)
	}
}

func greeting(impl, id, order, text string) *types.Element {
	el := types.NewElement("test.greeter").SetAttr(AttrImplementation, impl)
	if id != "" {
		el.SetAttr(AttrID, id)
	}
	if order != "" {
		el.SetAttr(AttrOrder, order)
	}
	if text != "" {
		el.SetAttr("greeting", text)
	}
	return el
}

func greetings(list []any) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, v.(Greeter).Greet())
	}
	return out
}
