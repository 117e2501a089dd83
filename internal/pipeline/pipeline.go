// Package pipeline loads and expands the build pipeline definition.
//
// A pipeline definition is a YAML document declaring the program name, the
// build command, and a build matrix of platform families. Expansion turns the
// matrix into a flat list of targets, each of which yields exactly one archive
// named <program>-<platform>[-<variant>]-<arch>.zip.
package pipeline

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crestline/release-plane/internal/models"
)

// Common errors returned by pipeline loading and validation.
var (
	// ErrEmptyMatrix is returned when the definition declares no targets.
	ErrEmptyMatrix = errors.New("pipeline matrix is empty")
	// ErrDuplicateArchive is returned when two matrix entries expand to the
	// same archive name.
	ErrDuplicateArchive = errors.New("duplicate archive name in matrix")
)

// Definition is the parsed pipeline definition file.
type Definition struct {
	// Program is the base name of the compiled binary and of every archive.
	Program string `yaml:"program"`
	// BuildCommand is the toolchain invocation template. The target triple
	// is appended by the executor.
	BuildCommand string `yaml:"build_command"`
	// BinaryDir is the directory, relative to the checkout, where the
	// toolchain leaves the compiled binary for a given triple.
	BinaryDir string `yaml:"binary_dir"`
	// Matrix enumerates the platform families to build.
	Matrix []MatrixEntry `yaml:"matrix"`
}

// MatrixEntry is one platform family in the build matrix.
type MatrixEntry struct {
	Platform models.Platform `yaml:"platform"`
	// Variant optionally distinguishes builds of the same platform/arch.
	Variant string `yaml:"variant,omitempty"`
	// Arches maps each architecture to its toolchain target triple.
	Arches []ArchSpec `yaml:"arches"`
	// Linker is an optional cross-linker applied to every arch of the entry.
	Linker string `yaml:"linker,omitempty"`
	// Env holds extra toolchain environment variables for the entry.
	Env map[string]string `yaml:"env,omitempty"`
	// Packages are extra system packages required on the build host.
	Packages []string `yaml:"packages,omitempty"`
	// ExtraFiles are bundled into the archive next to the binary.
	ExtraFiles []string `yaml:"extra_files,omitempty"`
}

// ArchSpec binds an architecture name to its toolchain target triple.
type ArchSpec struct {
	Arch   string `yaml:"arch"`
	Triple string `yaml:"triple"`
	// Linker overrides the entry-level linker for this arch.
	Linker string `yaml:"linker,omitempty"`
}

// Load reads and validates a pipeline definition from path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline definition: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a pipeline definition from YAML bytes.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing pipeline definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition for structural errors.
func (d *Definition) Validate() error {
	if d.Program == "" {
		return fmt.Errorf("pipeline definition: program is required")
	}
	if d.BuildCommand == "" {
		return fmt.Errorf("pipeline definition: build_command is required")
	}
	if len(d.Matrix) == 0 {
		return ErrEmptyMatrix
	}

	seen := make(map[string]struct{})
	for i, entry := range d.Matrix {
		if !entry.Platform.Valid() {
			return fmt.Errorf("pipeline definition: matrix[%d]: unknown platform %q", i, entry.Platform)
		}
		if len(entry.Arches) == 0 {
			return fmt.Errorf("pipeline definition: matrix[%d] (%s): no arches", i, entry.Platform)
		}
		for j, arch := range entry.Arches {
			if arch.Arch == "" {
				return fmt.Errorf("pipeline definition: matrix[%d].arches[%d]: arch is required", i, j)
			}
			if arch.Triple == "" {
				return fmt.Errorf("pipeline definition: matrix[%d].arches[%d]: triple is required", i, j)
			}
			name := (models.Target{
				Platform: entry.Platform,
				Variant:  entry.Variant,
				Arch:     arch.Arch,
			}).ArchiveName(d.Program)
			if _, dup := seen[name]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateArchive, name)
			}
			seen[name] = struct{}{}
		}
	}
	return nil
}

// Expand flattens the matrix into the full target list. Every target yields
// exactly one archive; ExpectedArchives lists the names in the same order.
func (d *Definition) Expand() []models.Target {
	var targets []models.Target
	for _, entry := range d.Matrix {
		for _, arch := range entry.Arches {
			linker := arch.Linker
			if linker == "" {
				linker = entry.Linker
			}
			target := models.Target{
				Platform:   entry.Platform,
				Variant:    entry.Variant,
				Arch:       arch.Arch,
				Triple:     arch.Triple,
				Linker:     linker,
				Packages:   append([]string(nil), entry.Packages...),
				ExtraFiles: append([]string(nil), entry.ExtraFiles...),
			}
			if len(entry.Env) > 0 {
				target.Env = make(map[string]string, len(entry.Env))
				for k, v := range entry.Env {
					target.Env[k] = v
				}
			}
			targets = append(targets, target)
		}
	}
	return targets
}

// ExpectedArchives returns the archive names the full matrix must produce.
// The release stage verifies the uploaded artifact set against this list.
func (d *Definition) ExpectedArchives() []string {
	targets := d.Expand()
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.ArchiveName(d.Program))
	}
	return names
}
