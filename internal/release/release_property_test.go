package release

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/crestline/release-plane/internal/models"
)

const sampleChangelog = `# Changelog

All notable changes are documented here.

## [2.1.0] - 2026-08-20

### Added
- Android aarch64 builds with bundled libc++_shared.so
- Windows arm64 target

### Fixed
- Linker selection for musl targets

## [2.0.0] - 2026-07-01

### Changed
- **Breaking:** renamed the config file to ` + "`helios.yaml`" + `

## [1.9.3] - 2026-06-12

- Maintenance release

[2.1.0]: https://github.com/crestline/helios/releases/tag/v2.1.0
[2.0.0]: https://github.com/crestline/helios/releases/tag/v2.0.0
[1.9.3]: https://github.com/crestline/helios/releases/tag/v1.9.3
`

func TestExtractSection(t *testing.T) {
	cases := []struct {
		version      string
		wantContains []string
		wantAbsent   []string
		wantErr      bool
	}{
		{
			version:      "2.1.0",
			wantContains: []string{"## [2.1.0]", "Android aarch64", "musl targets"},
			wantAbsent:   []string{"2.0.0", "Maintenance release"},
		},
		{
			version:      "2.0.0",
			wantContains: []string{"**Breaking:**", "`helios.yaml`"},
			wantAbsent:   []string{"Android aarch64", "Maintenance release"},
		},
		{
			version:      "1.9.3",
			wantContains: []string{"Maintenance release"},
			wantAbsent:   []string{"releases/tag/v1.9.3"},
		},
		{version: "9.9.9", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.version, func(t *testing.T) {
			section, err := ExtractSection(sampleChangelog, tc.version)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error for unknown version")
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractSection: %v", err)
			}
			for _, want := range tc.wantContains {
				if !strings.Contains(section, want) {
					t.Errorf("section missing %q:\n%s", want, section)
				}
			}
			for _, absent := range tc.wantAbsent {
				if strings.Contains(section, absent) {
					t.Errorf("section should not contain %q:\n%s", absent, section)
				}
			}
		})
	}
}

// TestExtractSectionPreservesMarkdown checks that extraction never reflows or
// alters the lines it keeps.
func TestExtractSectionPreservesMarkdown(t *testing.T) {
	section, err := ExtractSection(sampleChangelog, "2.1.0")
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(section, "\n") {
		if line == "" {
			continue
		}
		if !strings.Contains(sampleChangelog, line) {
			t.Errorf("line %q not present verbatim in source changelog", line)
		}
	}
}

func artifactsNamed(names ...string) []*models.Artifact {
	arts := make([]*models.Artifact, 0, len(names))
	for _, n := range names {
		arts = append(arts, &models.Artifact{Name: n})
	}
	return arts
}

func TestVerifyArtifactSet(t *testing.T) {
	expected := []string{
		"helios-linux-gnu-x86_64.zip",
		"helios-windows-x86_64.zip",
		"helios-android-aarch64.zip",
	}

	cases := []struct {
		name    string
		have    []string
		wantErr string
	}{
		{
			name: "exact match",
			have: []string{"helios-android-aarch64.zip", "helios-windows-x86_64.zip", "helios-linux-gnu-x86_64.zip"},
		},
		{
			name:    "missing archive",
			have:    []string{"helios-linux-gnu-x86_64.zip", "helios-windows-x86_64.zip"},
			wantErr: "missing artifact",
		},
		{
			name:    "unexpected archive",
			have:    append([]string{"helios-macos-x86_64.zip"}, expected...),
			wantErr: "unexpected artifact",
		},
		{
			name:    "duplicate archive",
			have:    append([]string{"helios-windows-x86_64.zip"}, expected...),
			wantErr: "duplicate artifact",
		},
		{
			name:    "empty run",
			have:    nil,
			wantErr: "missing artifact",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := verifyArtifactSet(artifactsNamed(tc.have...), expected)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

// TestVerifyArtifactSetProperties checks the exact-set semantics over
// generated archive name sets.
func TestVerifyArtifactSetProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	genNames := gen.IntRange(1, 8).Map(func(n int) []string {
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("helios-linux-gnu-arch%d.zip", i)
		}
		return names
	})

	properties.Property("complete set always verifies", prop.ForAll(
		func(names []string) bool {
			return verifyArtifactSet(artifactsNamed(names...), names) == nil
		},
		genNames,
	))

	properties.Property("any missing archive fails verification", prop.ForAll(
		func(names []string, drop int) bool {
			have := make([]string, 0, len(names)-1)
			for i, n := range names {
				if i != drop%len(names) {
					have = append(have, n)
				}
			}
			return verifyArtifactSet(artifactsNamed(have...), names) != nil
		},
		genNames,
		gen.IntRange(0, 7),
	))

	properties.Property("any extra archive fails verification", prop.ForAll(
		func(names []string) bool {
			have := append([]string{"helios-extra-arch.zip"}, names...)
			return verifyArtifactSet(artifactsNamed(have...), names) != nil
		},
		genNames,
	))

	properties.TestingRun(t)
}

func TestExpandUploadURL(t *testing.T) {
	got := expandUploadURL("https://uploads.github.com/repos/o/r/releases/1/assets{?name,label}", "helios-linux-gnu-x86_64.zip")
	want := "https://uploads.github.com/repos/o/r/releases/1/assets?name=helios-linux-gnu-x86_64.zip"
	if got != want {
		t.Errorf("expandUploadURL = %q, want %q", got, want)
	}
}
