package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spirefy/go-extension-engine/extension"
	"github.com/spirefy/go-extension-engine/types"
)

var _ extension.Recorder = (*Recorder)(nil)

func TestRecorder(t *testing.T) {
	m := NewRecorder()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg), "collectors register once")

	m.ExtensionPointBuilt("p", 3, 100*time.Millisecond)
	m.ExtensionPointBuilt("p", 2, 100*time.Millisecond)
	m.ExtensionFailed("p", "plugin.a")
	m.RegistrationRejected("q", "plugin.b")
	m.PluginLoaded("lua", true)
	m.PluginLoaded("wasm", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pointBuilds.WithLabelValues("p")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pointSize.WithLabelValues("p")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("p", "plugin.a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("q", "plugin.b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pluginLoads.WithLabelValues("lua", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pluginLoads.WithLabelValues("wasm", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.buildDuration))
}

type widget interface{ Size() int }

type smallWidget struct{ N int }

func (w *smallWidget) Size() int { return w.N }

func TestRecorderObservesArea(t *testing.T) {
	m := NewRecorder()
	classes := extension.NewClassLoader(nil)
	extension.RegisterType[widget](classes, "Widget")
	extension.RegisterType[*smallWidget](classes, "small")
	plugin := extension.NewPlugin("widgets", classes)

	area := extension.NewArea(extension.ScopeApplication, "metrics", extension.WithRecorder(m))
	require.NoError(t, area.RegisterExtensionPoint("widgets", "Widget", plugin, extension.KindInterface))
	require.NoError(t, area.RegisterExtension(plugin, types.NewElement("widgets").SetAttr("implementation", "small")))
	require.NoError(t, area.RegisterExtension(plugin, types.NewElement("widgets").SetAttr("implementation", "large")))
	assert.Error(t, area.RegisterExtensionPoint("widgets", "Widget", plugin, extension.KindInterface))

	list, err := area.MustExtensionPoint("widgets").Extensions(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pointBuilds.WithLabelValues("widgets")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pointSize.WithLabelValues("widgets")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("widgets", "widgets")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("widgets", "widgets")))
}
