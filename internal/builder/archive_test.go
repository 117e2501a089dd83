package builder

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/crestline/release-plane/internal/models"
)

func writeTestFile(t *testing.T, dir, name string, content []byte, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, mode); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestPackageArchiveBinaryOnly(t *testing.T) {
	dir := t.TempDir()
	binary := writeTestFile(t, dir, "helios", []byte("fake elf contents"), 0o755)

	dest := filepath.Join(dir, "helios-linux-gnu-x86_64.zip")
	info, err := PackageArchive(dest, binary, nil)
	if err != nil {
		t.Fatalf("PackageArchive: %v", err)
	}

	if info.Path != dest {
		t.Errorf("info.Path = %q, want %q", info.Path, dest)
	}
	if info.SizeBytes <= 0 {
		t.Errorf("info.SizeBytes = %d, want > 0", info.SizeBytes)
	}
	if len(info.Digest) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(info.Digest))
	}

	zr, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}
	defer zr.Close()

	if len(zr.File) != 1 {
		t.Fatalf("archive has %d entries, want 1", len(zr.File))
	}
	entry := zr.File[0]
	if entry.Name != "helios" {
		t.Errorf("entry name = %q, want %q", entry.Name, "helios")
	}
	if entry.Mode()&0o111 == 0 {
		t.Error("executable bit not preserved on binary entry")
	}
}

// Android archives carry the shared C++ runtime next to the binary; entries
// stay flat even when the extra file sits in a subdirectory of the checkout.
func TestPackageArchiveWithExtraFiles(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "target", "aarch64-linux-android", "release")
	if err := os.MkdirAll(filepath.Join(binDir, "deps"), 0o755); err != nil {
		t.Fatal(err)
	}
	binary := writeTestFile(t, binDir, "helios", []byte("android binary"), 0o755)
	writeTestFile(t, filepath.Join(binDir, "deps"), "libc++_shared.so", []byte("shared runtime"), 0o644)

	dest := filepath.Join(dir, "helios-android-aarch64.zip")
	if _, err := PackageArchive(dest, binary, []string{"deps/libc++_shared.so"}); err != nil {
		t.Fatalf("PackageArchive: %v", err)
	}

	zr, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}
	defer zr.Close()

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["helios"] || !names["libc++_shared.so"] {
		t.Errorf("archive entries = %v, want helios and libc++_shared.so", names)
	}
	if len(zr.File) != 2 {
		t.Errorf("archive has %d entries, want 2", len(zr.File))
	}
}

func TestPackageArchiveMissingBinary(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.zip")
	if _, err := PackageArchive(dest, filepath.Join(dir, "nonexistent"), nil); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestBinaryPathTripleExpansion(t *testing.T) {
	cases := []struct {
		name      string
		binaryDir string
		target    models.Target
		program   string
		want      string
	}{
		{
			name:      "cargo layout",
			binaryDir: "target/{triple}/release",
			target:    models.Target{Platform: models.PlatformLinux, Triple: "x86_64-unknown-linux-gnu"},
			program:   "helios",
			want:      "src/target/x86_64-unknown-linux-gnu/release/helios",
		},
		{
			name:      "windows adds exe suffix",
			binaryDir: "target/{triple}/release",
			target:    models.Target{Platform: models.PlatformWindows, Triple: "x86_64-pc-windows-msvc"},
			program:   "helios",
			want:      "src/target/x86_64-pc-windows-msvc/release/helios.exe",
		},
		{
			name:      "no placeholder",
			binaryDir: "dist",
			target:    models.Target{Platform: models.PlatformMacOS, Triple: "aarch64-apple-darwin"},
			program:   "helios",
			want:      "src/dist/helios",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BinaryPath("src", tc.binaryDir, tc.target, tc.program)
			want := filepath.FromSlash(tc.want)
			if got != want {
				t.Errorf("BinaryPath = %q, want %q", got, want)
			}
		})
	}
}

func TestLinkerEnvVar(t *testing.T) {
	got := linkerEnvVar("aarch64-unknown-linux-gnu")
	want := "CARGO_TARGET_AARCH64_UNKNOWN_LINUX_GNU_LINKER"
	if got != want {
		t.Errorf("linkerEnvVar = %q, want %q", got, want)
	}
}
