package extension

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spirefy/go-extension-engine/types"
)

type countingRecorder struct {
	built    map[string]int
	failed   int
	rejected int
}

func (r *countingRecorder) ExtensionPointBuilt(point string, n int, _ time.Duration) {
	r.built[point] = n
}

func (r *countingRecorder) ExtensionFailed(string, string)      { r.failed++ }
func (r *countingRecorder) RegistrationRejected(string, string) { r.rejected++ }

func TestNewAreaDeclaresExtenderPoint(t *testing.T) {
	area, _, _ := newTestArea(t)

	assert.NotEmpty(t, area.ID())
	assert.Equal(t, ScopeApplication, area.Scope())
	assert.Equal(t, "test", area.Name())
	assert.True(t, area.HasExtensionPoint(ExtenderPointName))

	p := area.MustExtensionPoint(ExtenderPointName)
	assert.Equal(t, CorePluginID, p.Plugin().PluginID())
	contract, err := p.Contract()
	require.NoError(t, err)
	assert.Equal(t, ExtenderClassName, contract.Name())

	other := NewArea(ScopeProject, "test")
	assert.NotEqual(t, area.ID(), other.ID())
}

func TestDuplicateExtensionPointKeepsFirst(t *testing.T) {
	rec := &countingRecorder{built: map[string]int{}}
	area, buf, plugin := newTestArea(t, WithRecorder(rec))
	greeterPoint(t, area, plugin)

	other := NewPlugin("other.plugin", testLoader())
	err := area.RegisterExtensionPoint("test.greeter", "bean", other, KindBeanClass)
	assert.ErrorIs(t, err, ErrDuplicateExtensionPoint)

	p := area.MustExtensionPoint("test.greeter")
	assert.Equal(t, "Greeter", p.ContractClassName())
	assert.Equal(t, KindInterface, p.Kind())
	assert.Equal(t, PluginID("test.plugin"), p.Plugin().PluginID())
	assert.Equal(t, 1, errorLines(buf))
	assert.Equal(t, 1, rec.rejected)
}

func TestLockedAreaRejectsRegistration(t *testing.T) {
	area, buf, plugin := newTestArea(t)
	greeterPoint(t, area, plugin)
	area.SetLocked()

	assert.True(t, area.IsLocked())
	assert.True(t, area.MustExtensionPoint("test.greeter").IsLocked())

	err := area.RegisterExtensionPoint("test.late", "Greeter", plugin, KindInterface)
	assert.ErrorIs(t, err, ErrLocked)
	assert.False(t, area.HasExtensionPoint("test.late"))

	err = area.RegisterExtension(plugin, greeting("hello", "", "", "late"))
	assert.ErrorIs(t, err, ErrLocked)

	err = area.RegisterExtensionInstance(plugin, "test.greeter", &hello{}, "", "")
	assert.ErrorIs(t, err, ErrLocked)

	assert.Equal(t, 3, errorLines(buf))

	list, err := area.MustExtensionPoint("test.greeter").Extensions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRegisterExtensionErrors(t *testing.T) {
	area, buf, plugin := newTestArea(t)
	greeterPoint(t, area, plugin)

	err := area.RegisterExtension(plugin, types.NewElement("test.greeter").SetAttr(AttrOrder, "first"))
	assert.ErrorIs(t, err, ErrMissingImplementation)

	el := greeting("hello", "", "", "")
	el.Name = "test.nowhere"
	err = area.RegisterExtension(plugin, el)
	assert.ErrorIs(t, err, ErrUnknownExtensionPoint)

	err = area.RegisterExtension(plugin, nil)
	assert.ErrorIs(t, err, ErrUnknownExtensionPoint)

	err = area.RegisterExtensionInstance(plugin, "test.greeter", nil, "", "")
	assert.Error(t, err)

	assert.Equal(t, 3, errorLines(buf))
	assert.Empty(t, area.MustExtensionPoint("test.greeter").Adapters())
}

func TestExtensionPointLookup(t *testing.T) {
	area, buf, plugin := newTestArea(t)
	greeterPoint(t, area, plugin)
	require.NoError(t, area.RegisterExtensionPointClass("test.host", ClassOf[Greeter]("Greeter"), nil, KindInterface))

	_, err := area.ExtensionPoint("test.missing")
	assert.ErrorIs(t, err, ErrUnknownExtensionPoint)
	assert.Panics(t, func() { area.MustExtensionPoint("test.missing") })

	empty := area.ExtensionPointOrEmpty("test.missing")
	assert.True(t, empty.IsLocked())
	assert.Equal(t, 1, errorLines(buf))
	list, err := Extensions[Greeter](context.Background(), area, "test.missing")
	require.NoError(t, err)
	assert.Empty(t, list)

	host := area.MustExtensionPoint("test.host")
	assert.Equal(t, CorePluginID, host.Plugin().PluginID())

	var names []string
	for _, p := range area.ExtensionPoints() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{ExtenderPointName, "test.greeter", "test.host"}, names)
}

func TestRecorderObservesBuilds(t *testing.T) {
	rec := &countingRecorder{built: map[string]int{}}
	area, _, plugin := newTestArea(t, WithRecorder(rec))
	greeterPoint(t, area, plugin)
	require.NoError(t, area.RegisterExtension(plugin, greeting("hello", "", "", "one")))
	require.NoError(t, area.RegisterExtension(plugin, greeting("nope", "", "", "")))

	_, err := area.MustExtensionPoint("test.greeter").Extensions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rec.built["test.greeter"])
	assert.Equal(t, 0, rec.built[ExtenderPointName])
	assert.Equal(t, 1, rec.failed)
}

func TestExtensionsOfSkipsForeignValues(t *testing.T) {
	area, buf, plugin := newTestArea(t)
	greeterPoint(t, area, plugin)
	require.NoError(t, area.RegisterExtensionInstance(plugin, ExtenderPointName, NewExtender("test.greeter", func(_ *Area, sink func(any)) {
		sink("not a greeter")
		sink(&hello{Greeting: "fine"})
	}), "", ""))

	greeters, err := ExtensionsOf[Greeter](context.Background(), area.MustExtensionPoint("test.greeter"))
	require.NoError(t, err)
	require.Len(t, greeters, 1)
	assert.Equal(t, "fine", greeters[0].Greet())
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
