package notion

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/ideabot/internal/project"
)

//go:embed schema.yaml
var defaultSchema []byte

type schemaFile struct {
	Columns []project.Column `yaml:"columns"`
}

// LoadSchema reads the required columns from path, or from the embedded
// schema.yaml when path is empty.
func LoadSchema(path string) ([]project.Column, error) {
	data := defaultSchema
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("notion: read schema %s: %w", path, err)
		}
		data = b
	}
	return ParseSchema(data)
}

// ParseSchema decodes and validates a schema document.
func ParseSchema(data []byte) ([]project.Column, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("notion: parse schema: %w", err)
	}
	seen := make(map[string]bool, len(f.Columns))
	titles := 0
	for _, c := range f.Columns {
		if c.Name == "" {
			return nil, errors.New("notion: schema column without a name")
		}
		if !c.Kind.Valid() {
			return nil, fmt.Errorf("notion: schema column %q has unsupported type %q", c.Name, c.Kind)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("notion: schema column %q listed twice", c.Name)
		}
		seen[c.Name] = true
		if c.Kind == project.ColumnTitle {
			titles++
		}
	}
	if titles > 1 {
		return nil, errors.New("notion: schema declares more than one title column")
	}
	return f.Columns, nil
}

// SchemaStore is the part of the record store EnsureSchema needs.
type SchemaStore interface {
	Schema(ctx context.Context) (map[string]project.ColumnKind, error)
	AddField(ctx context.Context, col project.Column) error
}

// Mismatch is a required column that exists with a different kind.
type Mismatch struct {
	Column project.Column
	Actual project.ColumnKind
}

// EnsureSchema adds every missing column in want and returns what it added
// and which existing columns have a different kind. A database always has
// exactly one title column, so a missing title is reported as a mismatch
// instead of being added.
func EnsureSchema(ctx context.Context, s SchemaStore, want []project.Column) (added []string, mismatched []Mismatch, err error) {
	have, err := s.Schema(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, col := range want {
		kind, ok := have[col.Name]
		switch {
		case ok && kind != col.Kind:
			mismatched = append(mismatched, Mismatch{Column: col, Actual: kind})
		case ok:
		case col.Kind == project.ColumnTitle:
			mismatched = append(mismatched, Mismatch{Column: col})
		default:
			if err := s.AddField(ctx, col); err != nil {
				return added, mismatched, err
			}
			added = append(added, col.Name)
		}
	}
	return added, mismatched, nil
}
