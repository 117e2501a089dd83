package release

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// versionHeadingPattern matches a changelog release heading like
// "## [1.2.3] - 2026-08-24" or "## 1.2.3".
var versionHeadingPattern = regexp.MustCompile(`(?m)^## \[?v?(\d+\.\d+\.\d+)\]?`)

// ReadChangelog reads the changelog file verbatim. The release body carries
// the file content byte for byte, so markdown formatting survives untouched.
func ReadChangelog(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading changelog: %w", err)
	}
	return string(data), nil
}

// ExtractSection returns the changelog section for one version: the text from
// that version's heading up to the next version heading or the link footer.
func ExtractSection(changelog, version string) (string, error) {
	matches := versionHeadingPattern.FindAllStringSubmatchIndex(changelog, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no version headings found in changelog")
	}

	for i, m := range matches {
		heading := changelog[m[2]:m[3]]
		if heading != version {
			continue
		}

		start := m[0]
		end := len(changelog)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}

		section := changelog[start:end]
		// Drop trailing footer links of the form [x.y.z]: url.
		if idx := strings.Index(section, "\n["); idx != -1 && linkLine(section[idx+1:]) {
			section = section[:idx]
		}
		return strings.TrimSpace(section), nil
	}

	return "", fmt.Errorf("version %s not found in changelog", version)
}

// linkLine reports whether the text starts with a changelog footer link.
func linkLine(s string) bool {
	line := s
	if idx := strings.IndexByte(line, '\n'); idx != -1 {
		line = line[:idx]
	}
	return regexp.MustCompile(`^\[[\dv.]+\]:`).MatchString(line)
}
