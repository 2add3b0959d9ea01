package cascade

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

//go:embed tables
var builtinFS embed.FS

// BuiltinSpecs parses the embedded domain rule tables, ordered by domain name.
func BuiltinSpecs() ([]TableSpec, error) {
	var specs []TableSpec
	err := fs.WalkDir(builtinFS, "tables", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		spec, err := ParseSpec(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		specs = append(specs, spec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load builtin rule tables: %w", err)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Domain < specs[j].Domain })
	return specs, nil
}

// BuiltinSpec returns the embedded table for one domain.
func BuiltinSpec(domain string) (TableSpec, bool, error) {
	specs, err := BuiltinSpecs()
	if err != nil {
		return TableSpec{}, false, err
	}
	for _, s := range specs {
		if s.Domain == domain {
			return s, true, nil
		}
	}
	return TableSpec{}, false, nil
}
