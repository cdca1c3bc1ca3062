package partial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rzbill/cruise/pkg/merge"
	yaml "gopkg.in/yaml.v3"
)

// Files holds the raw documents of a partial keyed by path relative to the
// directory they were read from.
type Files map[string]string

// Names returns the file names in sorted order.
func (f Files) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select keeps the files whose slash separated name matches one of
// patterns. No patterns keeps every file.
func (f Files) Select(patterns []string) (Files, error) {
	if len(patterns) == 0 {
		return f, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}
	out := Files{}
	for name, data := range f {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, name); ok {
				out[name] = data
				break
			}
		}
	}
	return out, nil
}

// IsPartialFile reports whether path names a YAML document.
func IsPartialFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// DecodeDocument parses one YAML document. Unknown keys are rejected and an
// empty input yields an empty document.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &doc, nil
}

// Decode parses data into a partial defined at origin.
func Decode(data []byte, origin merge.Origin) (*merge.PartialConfig, error) {
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.ToPartial(origin)
}

// Parse decodes every file, in name order, into one partial.
func Parse(files Files, origin merge.Origin) (*merge.PartialConfig, error) {
	all := &Document{}
	for _, name := range files.Names() {
		doc, err := DecodeDocument([]byte(files[name]))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		all.Append(doc)
	}
	return all.ToPartial(origin)
}

// LoadFile reads the partial at path.
func LoadFile(path string, origin merge.Origin) (*merge.PartialConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	p, err := Decode(data, origin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ReadDir collects the YAML documents below dir. Hidden directories are
// skipped.
func ReadDir(dir string) (Files, error) {
	files := Files{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsPartialFile(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read partials from %s: %w", dir, err)
	}
	return files, nil
}

// LoadDir reads every YAML document below dir into one partial.
func LoadDir(dir string, origin merge.Origin) (*merge.PartialConfig, error) {
	files, err := ReadDir(dir)
	if err != nil {
		return nil, err
	}
	return Parse(files, origin)
}
