package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spirefy/go-extension-engine/types"
)

const yamlManifest = `
id: com.example.greeters
name: Greeters
version: 1.2.0
extensionPoints:
  - id: greeter
    interface: Greeter
  - id: banner
    beanClass: Banner
    area: project
    startOnLoad: true
extensions:
  - point: com.example.greeters.greeter
    implementation: HelloGreeter
    id: hello
    order: first
  - point: com.example.greeters.banner
    text: Welcome
    color:
      name: blue
    tags:
      - one
`

const jsonManifest = `{
	"id": "com.example.greeters",
	"version": "1.2.0",
	"extensionPoints": [
		{"id": "greeter", "interface": "Greeter"},
		{"id": "banner", "beanClass": "Banner", "area": "project", "startOnLoad": true}
	],
	"extensions": [
		{"point": "com.example.greeters.greeter", "implementation": "HelloGreeter", "id": "hello", "order": "first"},
		{"point": "com.example.greeters.banner", "text": "Welcome", "color": {"name": "blue"}, "tags": ["one"]}
	]
}`

const tomlManifest = `
id = "com.example.greeters"
version = "1.2.0"

[[extensionPoints]]
id = "greeter"
interface = "Greeter"

[[extensionPoints]]
id = "banner"
beanClass = "Banner"
area = "project"
startOnLoad = true

[[extensions]]
point = "com.example.greeters.greeter"
implementation = "HelloGreeter"
id = "hello"
order = "first"

[[extensions]]
point = "com.example.greeters.banner"
text = "Welcome"
tags = ["one"]

[extensions.color]
name = "blue"
`

func TestParseFormats(t *testing.T) {
	tests := []struct {
		format Format
		data   string
	}{
		{FormatYAML, yamlManifest},
		{FormatJSON, jsonManifest},
		{FormatTOML, tomlManifest},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			p, err := Parse([]byte(tt.data), tt.format)
			require.NoError(t, err)

			assert.Equal(t, "com.example.greeters", p.Id)
			assert.Equal(t, "1.2.0", p.Version)
			assert.Equal(t, types.RuntimeGo, p.Runtime)

			require.Len(t, p.ExtensionPoints, 2)
			assert.Equal(t, "com.example.greeters.greeter", p.ExtensionPoints[0].FullName(p.Id))
			assert.Equal(t, "Greeter", p.ExtensionPoints[0].ClassName())
			assert.Equal(t, types.AreaProject, types.NormalizeArea(p.ExtensionPoints[1].Area))
			assert.True(t, p.ExtensionPoints[1].StartOnLoad)
			assert.Len(t, p.ExtensionPointsFor(types.AreaApplication), 1)

			require.Len(t, p.Extensions, 2)
			hello := p.Extensions[0].Declaration()
			assert.Equal(t, "com.example.greeters.greeter", hello.Name)
			assert.Equal(t, "HelloGreeter", hello.Attr("implementation"))
			assert.Equal(t, "hello", hello.Attr("id"))
			assert.Equal(t, "first", hello.Attr("order"))
			assert.Empty(t, hello.Attr(types.PointAttribute))

			banner := p.Extensions[1].Declaration()
			assert.Equal(t, "Welcome", banner.Attr("text"))
			require.Len(t, banner.Children, 2)
			var color, tag *types.Element
			for _, c := range banner.Children {
				switch c.Name {
				case "color":
					color = c
				case "tags":
					tag = c
				}
			}
			require.NotNil(t, color)
			require.NotNil(t, tag)
			assert.Equal(t, "blue", color.Attr("name"))
			assert.True(t, tag.Repeated)
			assert.Equal(t, "one", tag.Text)
		})
	}
}

func TestParseDefaults(t *testing.T) {
	p, err := Parse([]byte("id: minimal\n"), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, p.Version)
	assert.Equal(t, "minimal", p.Name)
	assert.Equal(t, types.RuntimeGo, p.Runtime)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		data string
		err  error
	}{
		{name: "missing id", data: "name: x\n", err: ErrMissingID},
		{name: "bad id", data: "id: 'has space'\n", err: ErrInvalidID},
		{name: "bad version", data: "id: x\nversion: 1.2\n", err: ErrInvalidVersion},
		{name: "negative version", data: "id: x\nversion: 1.-2.3\n", err: ErrInvalidVersion},
		{name: "unknown runtime", data: "id: x\nruntime: python\n", err: ErrUnknownRuntime},
		{name: "lua without main", data: "id: x\nruntime: lua\n", err: ErrMissingMain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), FormatYAML)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParseKeepsMalformedPoints(t *testing.T) {
	data := "id: x\nextensionPoints:\n  - id: p\n    interface: I\n  - qualifiedName: x.p\n    interface: J\n  - id: both\n    interface: I\n    beanClass: B\n"
	p, err := Parse([]byte(data), FormatYAML)
	require.NoError(t, err)
	assert.Len(t, p.ExtensionPoints, 3)
}

func TestValidatePoint(t *testing.T) {
	tests := []struct {
		name string
		ep   types.ExtensionPoint
		err  error
	}{
		{name: "interface", ep: types.ExtensionPoint{Id: "p", Interface: "I"}},
		{name: "bean class", ep: types.ExtensionPoint{QualifiedName: "other.p", BeanClass: "B"}},
		{name: "no id", ep: types.ExtensionPoint{Interface: "I"}, err: ErrInvalidPoint},
		{name: "both kinds", ep: types.ExtensionPoint{Id: "p", Interface: "I", BeanClass: "B"}, err: ErrInvalidPoint},
		{name: "no kind", ep: types.ExtensionPoint{Id: "p"}, err: ErrInvalidPoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePoint("x", tt.ep)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParseRejectsExtensionWithoutPoint(t *testing.T) {
	_, err := Parse([]byte("id: x\nextensions:\n  - implementation: Foo\n"), FormatYAML)
	assert.Error(t, err)
}

func TestParseUnsupportedFormat(t *testing.T) {
	_, err := Parse([]byte("id = x"), Format("ini"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = FormatOf("plugin.ini")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestIsSemverValid(t *testing.T) {
	assert.True(t, IsSemverValid("0.0.0"))
	assert.True(t, IsSemverValid("10.20.30"))
	assert.False(t, IsSemverValid("1.2"))
	assert.False(t, IsSemverValid("1.2.x"))
	assert.False(t, IsSemverValid("1..3"))
	assert.False(t, IsSemverValid("-1.2.3"))
	assert.False(t, IsSemverValid("١.٢.٣"), "only ASCII digits")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.toml"), []byte(tomlManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte("id: preferred\nruntime: lua\nmain: init.lua\n"), 0o644))

	m, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "preferred", m.Plugin.Id)
	assert.Equal(t, filepath.Join(dir, "plugin.yaml"), m.Path)
	assert.Equal(t, filepath.Join(dir, "init.lua"), m.MainPath())

	_, err = LoadDir(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadFileReportsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id": "x", "version": "one"}`), 0o644))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrInvalidVersion)
	assert.Contains(t, err.Error(), path)
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("a/plugin.yaml", "id: a\n")
	write("a/plugin.json", `{"id": "a"}`)
	write("b/plugin.toml", "id = \"b\"\n")
	write("b/b.wasm", "")
	write("c/standalone.wasm", "")
	write("c/settings.json", "{}")

	d, err := Discover(root, filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a", "plugin.yaml"),
		filepath.Join(root, "b", "plugin.toml"),
	}, d.Manifests)
	assert.Equal(t, []string{filepath.Join(root, "c", "standalone.wasm")}, d.Modules)
}
