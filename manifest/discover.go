package manifest

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Discovery is the result of walking plugin search paths.
type Discovery struct {
	// Manifests are the manifest files found, one per plugin directory.
	Manifests []string

	// Modules are WebAssembly modules without a manifest of their own; they describe themselves when started.
	Modules []string
}

func contains(arr []string, str string) bool {
	for _, s := range arr {
		if s == str {
			return true
		}
	}
	return false
}

// findFilesWithExtensions returns the files below root whose extension is one of extensions.
func findFilesWithExtensions(root string, extensions []string) ([]string, error) {
	var matchingFiles []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			ext := strings.ToLower(filepath.Ext(path))
			if contains(extensions, ext) {
				matchingFiles = append(matchingFiles, path)
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return matchingFiles, nil
}

// Discover walks roots for plugin manifests and standalone .wasm modules. A directory with several manifest
// files contributes the first one in FileNames order; a module that sits next to a manifest belongs to that
// plugin and is not reported. Roots that do not exist are skipped; other walk errors are joined.
func Discover(roots ...string) (*Discovery, error) {
	d := &Discovery{}
	var errs []error

	manifestDirs := make(map[string]string)
	var modules []string

	for _, root := range roots {
		files, err := findFilesWithExtensions(root, []string{".yaml", ".yml", ".json", ".toml", ".wasm"})
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}

		for _, file := range files {
			if strings.EqualFold(filepath.Ext(file), ".wasm") {
				modules = append(modules, file)
				continue
			}
			if !IsManifestFile(file) {
				continue
			}
			dir := filepath.Dir(file)
			if current, ok := manifestDirs[dir]; !ok || rank(file) < rank(current) {
				manifestDirs[dir] = file
			}
		}
	}

	for _, file := range manifestDirs {
		d.Manifests = append(d.Manifests, file)
	}
	sort.Strings(d.Manifests)

	for _, module := range modules {
		if _, owned := manifestDirs[filepath.Dir(module)]; owned {
			continue
		}
		d.Modules = append(d.Modules, module)
	}
	sort.Strings(d.Modules)

	return d, errors.Join(errs...)
}

func rank(path string) int {
	base := strings.ToLower(filepath.Base(path))
	for i, name := range FileNames {
		if base == name {
			return i
		}
	}
	return len(FileNames)
}
