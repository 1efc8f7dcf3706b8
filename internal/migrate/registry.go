package migrate

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var builtin embed.FS

// Step is one schema change.
type Step struct {
	Seq      int
	Name     string
	SQL      string
	Checksum string
}

// Registry is an ordered, immutable list of steps.
type Registry struct {
	steps []Step
}

// Default returns the registry of steps compiled into this binary.
func Default() *Registry {
	r, err := Load(builtin, "migrations")
	if err != nil {
		// Embedded files are fixed at build time; a bad name is a build defect.
		panic(fmt.Sprintf("migrate: invalid embedded migrations: %v", err))
	}
	return r
}

// Load reads every .sql file in dir. File names must start with a positive
// integer sequence followed by an underscore, e.g. 0003_add_tags.sql.
func Load(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var steps []Step
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		seq, name, err := parseName(entry.Name())
		if err != nil {
			return nil, err
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		steps = append(steps, NewStep(seq, name, string(content)))
	}

	return New(steps...)
}

// New builds a registry from explicit steps. Steps are sorted by Seq;
// duplicate or non-positive sequence numbers are rejected.
func New(steps ...Step) (*Registry, error) {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	for i, s := range sorted {
		if s.Seq <= 0 {
			return nil, fmt.Errorf("migration %q: sequence must be positive, got %d", s.Name, s.Seq)
		}
		if i > 0 && sorted[i-1].Seq == s.Seq {
			return nil, fmt.Errorf("duplicate migration sequence %d (%s, %s)", s.Seq, sorted[i-1].Name, s.Name)
		}
		if s.Checksum == "" {
			sorted[i].Checksum = checksum(s.SQL)
		}
	}

	return &Registry{steps: sorted}, nil
}

// NewStep builds a step and computes its checksum.
func NewStep(seq int, name, sql string) Step {
	return Step{Seq: seq, Name: name, SQL: sql, Checksum: checksum(sql)}
}

// Steps returns a copy of the registry's steps in ascending order.
func (r *Registry) Steps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Latest returns the highest known sequence, or 0 for an empty registry.
func (r *Registry) Latest() int {
	if len(r.steps) == 0 {
		return 0
	}
	return r.steps[len(r.steps)-1].Seq
}

func parseName(file string) (int, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: name must look like NNNN_name.sql", file)
	}
	seq, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", fmt.Errorf("migration %s: invalid sequence %q: %w", file, prefix, err)
	}
	return seq, name, nil
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}
