package builder

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
)

// ArchiveInfo describes a packaged archive.
type ArchiveInfo struct {
	// Path is the location of the written archive.
	Path string
	// Digest is the SHA-256 digest of the archive, hex encoded.
	Digest string
	// SizeBytes is the archive size.
	SizeBytes int64
}

// PackageArchive writes the compiled binary and any extra files into a zip
// archive at destPath. Extra file paths are resolved relative to the binary's
// directory; entries are stored flat under their base names, matching the
// published archive layout.
func PackageArchive(destPath, binaryPath string, extraFiles []string) (*ArchiveInfo, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	files := append([]string{binaryPath}, resolveExtraFiles(binaryPath, extraFiles)...)
	for _, file := range files {
		if err := addFile(zw, file); err != nil {
			zw.Close()
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}

	digest, size, err := hashFile(destPath)
	if err != nil {
		return nil, err
	}

	return &ArchiveInfo{
		Path:      destPath,
		Digest:    digest,
		SizeBytes: size,
	}, nil
}

// resolveExtraFiles resolves extra file paths relative to the binary's
// directory unless they are absolute.
func resolveExtraFiles(binaryPath string, extraFiles []string) []string {
	dir := filepath.Dir(binaryPath)
	resolved := make([]string, 0, len(extraFiles))
	for _, file := range extraFiles {
		if filepath.IsAbs(file) {
			resolved = append(resolved, file)
			continue
		}
		resolved = append(resolved, filepath.Join(dir, filepath.FromSlash(file)))
	}
	return resolved
}

// addFile writes one file into the archive under its base name, preserving
// the executable bit.
func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("statting %s: %w", path, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("building header for %s: %w", path, err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("creating entry %s: %w", header.Name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("writing entry %s: %w", header.Name, err)
	}
	return nil
}

// hashFile returns the SHA-256 digest and size of a file.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening archive for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
