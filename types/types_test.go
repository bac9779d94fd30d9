package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const declaration = `
point: com.example.banner
text: Welcome
size: 3
color:
  name: blue
tags:
  - one
`

type bannerBean struct {
	Text  string `yaml:"text"`
	Size  int    `yaml:"size"`
	Color struct {
		Name string `yaml:"name"`
	} `yaml:"color"`
	Tags []string `yaml:"tags"`
}

func TestExtensionUnmarshal(t *testing.T) {
	var ext Extension
	require.NoError(t, yaml.Unmarshal([]byte(declaration), &ext))

	assert.Equal(t, "com.example.banner", ext.ExtensionPoint)
	el := ext.Declaration()
	assert.Equal(t, "com.example.banner", el.Name)
	assert.Empty(t, el.Attr(PointAttribute), "the point key is consumed")
	assert.Equal(t, "Welcome", el.Attr("text"))
	require.Len(t, el.Children, 2)
	assert.Equal(t, "color", el.Children[0].Name)
	assert.True(t, el.Children[1].Repeated)

	var bean bannerBean
	require.NoError(t, el.Decode(&bean))
	assert.Equal(t, "Welcome", bean.Text)
	assert.Equal(t, 3, bean.Size)
	assert.Equal(t, "blue", bean.Color.Name)
	assert.Equal(t, []string{"one"}, bean.Tags, "a single list item still decodes into a slice")
}

func TestExtensionRequiresPoint(t *testing.T) {
	var ext Extension
	err := yaml.Unmarshal([]byte("implementation: Hello\n"), &ext)
	assert.Error(t, err)
}

func TestElementNode(t *testing.T) {
	el := NewElement("root").SetAttr("b", "2").SetAttr("a", "1")
	el.Text = "body"
	el.AddChild(&Element{Name: "item", Text: "x"})
	el.AddChild(&Element{Name: "item", Text: "y"})

	var out map[string]any
	require.NoError(t, el.Decode(&out))
	assert.Equal(t, map[string]any{
		"a":     1,
		"b":     2,
		TextKey: "body",
		"item":  []any{"x", "y"},
	}, out)

	n := el.Node()
	require.Equal(t, yaml.MappingNode, n.Kind)
	assert.Equal(t, "a", n.Content[0].Value, "attributes are sorted")

	assert.Equal(t, yaml.ScalarNode, (&Element{Name: "t", Text: "only"}).Node().Kind)
	assert.Equal(t, "", (*Element)(nil).Attr("x"))
}

func TestElementFromNodeRejectsSequenceRoot(t *testing.T) {
	var n yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("- a\n- b\n"), &n))
	_, err := ElementFromNode("root", &n)
	assert.Error(t, err)
}

func TestExtensionPointNames(t *testing.T) {
	ep := ExtensionPoint{Id: "greeter", Interface: "Greeter"}
	assert.Equal(t, "com.example.greeter", ep.FullName("com.example"))
	assert.Equal(t, "greeter", ep.FullName(""))
	assert.Equal(t, "Greeter", ep.ClassName())

	ep = ExtensionPoint{Id: "x", QualifiedName: "platform.x", BeanClass: "Bean"}
	assert.Equal(t, "platform.x", ep.FullName("com.example"))
	assert.Equal(t, "Bean", ep.ClassName())

	assert.Equal(t, AreaProject, NormalizeArea(" Project "))
	assert.Equal(t, AreaApplication, NormalizeArea(""))
	assert.Equal(t, AreaApplication, NormalizeArea("anything"))
}

func TestExtensionPointsFor(t *testing.T) {
	p := Plugin{ExtensionPoints: []ExtensionPoint{
		{Id: "a"},
		{Id: "b", Area: AreaProject},
		{Id: "c", Area: AreaApplication},
	}}

	app := p.ExtensionPointsFor("")
	require.Len(t, app, 2)
	assert.Equal(t, "a", app[0].Id)
	assert.Equal(t, "c", app[1].Id)

	project := p.ExtensionPointsFor(AreaProject)
	require.Len(t, project, 1)
	assert.Equal(t, "b", project[0].Id)
}
