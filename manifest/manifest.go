// Package manifest reads plugin manifests into types.Plugin records.
//
// A plugin directory holds one manifest named plugin.yaml, plugin.yml, plugin.json or plugin.toml. Whatever the
// format, the document is brought to the YAML node form first so that extension declarations end up as the same
// types.Element tree.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/spirefy/go-extension-engine/types"
)

// Manifest errors.
var (
	ErrMissingID          = errors.New("manifest: id is required")
	ErrInvalidID          = errors.New("manifest: id must contain letters, digits, '.', '-' or '_'")
	ErrInvalidVersion     = errors.New("manifest: version must be MAJOR.MINOR.PATCH")
	ErrUnknownRuntime     = errors.New("manifest: unknown runtime")
	ErrMissingMain        = errors.New("manifest: main is required for this runtime")
	ErrInvalidPoint       = errors.New("manifest: invalid extension point")
	ErrUnsupportedFormat  = errors.New("manifest: unsupported format")
	ErrMissingPointTarget = errors.New("manifest: extension has no point")
)

// Format is a manifest serialization.
type Format string

// Formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// DefaultVersion is assumed for manifests without a version.
const DefaultVersion = "0.0.0"

// FileNames are the manifest file names recognized in a plugin directory, in lookup order.
var FileNames = []string{"plugin.yaml", "plugin.yml", "plugin.json", "plugin.toml"}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Manifest is a parsed plugin manifest and where it was read from.
type Manifest struct {
	Plugin *types.Plugin

	// Path is the manifest file, Dir its directory. Both are empty for parsed buffers.
	Path string
	Dir  string
}

// MainPath returns the entry file of the plugin resolved against the manifest directory.
func (m *Manifest) MainPath() string {
	if m.Plugin.Main == "" || filepath.IsAbs(m.Plugin.Main) {
		return m.Plugin.Main
	}
	return filepath.Join(m.Dir, m.Plugin.Main)
}

// FormatOf returns the format implied by a file name.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// IsManifestFile reports whether the base name of path is a recognized manifest name.
func IsManifestFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, name := range FileNames {
		if base == name {
			return true
		}
	}
	return false
}

// Parse decodes and validates a manifest.
func Parse(data []byte, format Format) (*types.Plugin, error) {
	var p types.Plugin

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse yaml manifest: %w", err)
		}
	case FormatJSON:
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json manifest: %w", err)
		}
		if err := fromDocument(doc, &p); err != nil {
			return nil, err
		}
	case FormatTOML:
		var doc map[string]any
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse toml manifest: %w", err)
		}
		if err := fromDocument(doc, &p); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	applyDefaults(&p)
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// fromDocument re-encodes a generic document as yaml and decodes it onto p, so every format goes through the
// same unmarshalers.
func fromDocument(doc map[string]any, p *types.Plugin) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("convert manifest: %w", err)
	}
	return nil
}

// LoadFile reads, parses and validates the manifest at path.
func LoadFile(path string) (*Manifest, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Manifest{Plugin: p, Path: path, Dir: filepath.Dir(path)}, nil
}

// LoadDir loads the manifest of a plugin directory, trying FileNames in order.
func LoadDir(dir string) (*Manifest, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no plugin manifest in %s: %w", dir, os.ErrNotExist)
}

func applyDefaults(p *types.Plugin) {
	if p.Version == "" {
		p.Version = DefaultVersion
	}
	if p.Runtime == "" {
		p.Runtime = types.RuntimeGo
	}
	if p.Name == "" {
		p.Name = p.Id
	}
}

// Validate checks the plugin level fields. Point declarations are checked one by one with ValidatePoint.
func Validate(p *types.Plugin) error {
	if p.Id == "" {
		return ErrMissingID
	}
	if !idPattern.MatchString(p.Id) {
		return fmt.Errorf("%w: %s", ErrInvalidID, p.Id)
	}
	if p.Version != "" && !IsSemverValid(p.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, p.Version)
	}

	switch p.Runtime {
	case "", types.RuntimeGo:
	case types.RuntimeLua, types.RuntimeWasm:
		if p.Main == "" {
			return fmt.Errorf("%w: %s", ErrMissingMain, p.Runtime)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownRuntime, p.Runtime)
	}

	for i, ext := range p.Extensions {
		if ext.ExtensionPoint == "" {
			return fmt.Errorf("%w: #%d", ErrMissingPointTarget, i)
		}
	}

	return nil
}

// ValidatePoint checks the shape of one point declared by plugin id. A malformed point is skipped on its own; it
// does not invalidate the rest of the manifest.
func ValidatePoint(id string, ep types.ExtensionPoint) error {
	if ep.Id == "" && ep.QualifiedName == "" {
		return fmt.Errorf("%w: point of %s has no id", ErrInvalidPoint, id)
	}
	if (ep.Interface == "") == (ep.BeanClass == "") {
		return fmt.Errorf("%w: %s must set exactly one of interface and beanClass", ErrInvalidPoint, ep.FullName(id))
	}
	return nil
}

// IsSemverValid reports whether version is three dot separated non-negative integers.
func IsSemverValid(version string) bool {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return false
	}

	for _, part := range parts {
		if !isValidNumber(part) {
			return false
		}
	}
	return true
}

// isValidNumber
// helper func used by IsSemverValid
func isValidNumber(str string) bool {
	if len(str) == 0 || str[0] == '-' {
		return false
	}

	for _, c := range str {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
