// Package scripts provides CHANGELOG.md maintenance utilities.
//
// The generated format is what the release publisher parses: "## [X.Y.Z] - DATE"
// headings with "[X.Y.Z]: URL" reference links at the bottom of the file.
package scripts

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ChangelogEntry is a single release section to insert into the changelog.
type ChangelogEntry struct {
	Version string    // "1.2.3", no leading v
	Date    time.Time // release date
	URL     string    // link target for the version reference
	Notes   string    // markdown body, inserted verbatim
}

const changelogHeader = `# Changelog

All notable changes to this project are documented here.

`

var (
	versionHeadingRegex = regexp.MustCompile(`(?m)^## \[(\d+\.\d+\.\d+)\]`)
	referenceLinkRegex  = regexp.MustCompile(`(?m)^\[[\dv.]+\]:`)
)

// Validate checks that the entry can be rendered.
func (e ChangelogEntry) Validate() error {
	if e.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(e.Version); err != nil {
		return fmt.Errorf("invalid version %q: %w", e.Version, err)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	return nil
}

// Render produces the markdown section for the entry.
func (e ChangelogEntry) Render() (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## [%s] - %s\n\n", e.Version, e.Date.Format("2006-01-02"))
	if notes := strings.TrimSpace(e.Notes); notes != "" {
		sb.WriteString(notes)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return sb.String(), nil
}

// RenderLink produces the footer reference link for the entry.
func (e ChangelogEntry) RenderLink() (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	url := e.URL
	if url == "" {
		return "", fmt.Errorf("url is required")
	}
	return fmt.Sprintf("[%s]: %s\n", e.Version, url), nil
}

// PrependEntry inserts a new release section after the changelog header and
// its reference link before the existing links. An empty or headerless input
// gets a fresh header.
func PrependEntry(changelog string, entry ChangelogEntry) (string, error) {
	section, err := entry.Render()
	if err != nil {
		return "", err
	}
	link, err := entry.RenderLink()
	if err != nil {
		return "", err
	}

	if !strings.HasPrefix(changelog, "# Changelog") {
		return changelogHeader + section + link, nil
	}

	// Insert after the first heading and its blank line.
	insertAt := len(changelog)
	if first := versionHeadingRegex.FindStringIndex(changelog); first != nil {
		insertAt = first[0]
	} else if firstLink := referenceLinkRegex.FindStringIndex(changelog); firstLink != nil {
		insertAt = firstLink[0]
	}

	var sb strings.Builder
	sb.WriteString(changelog[:insertAt])
	sb.WriteString(section)

	rest := changelog[insertAt:]
	if firstLink := referenceLinkRegex.FindStringIndex(rest); firstLink != nil {
		sb.WriteString(rest[:firstLink[0]])
		sb.WriteString(link)
		sb.WriteString(rest[firstLink[0]:])
	} else {
		sb.WriteString(rest)
		if !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString(link)
	}

	return sb.String(), nil
}

// Versions lists all version numbers present in the changelog, newest first.
func Versions(changelog string) []string {
	matches := versionHeadingRegex.FindAllStringSubmatch(changelog, -1)
	versions := make([]string, 0, len(matches))
	for _, m := range matches {
		versions = append(versions, m[1])
	}
	return versions
}

// ContainsVersion reports whether the changelog already has a section for
// the version.
func ContainsVersion(changelog, version string) bool {
	for _, v := range Versions(changelog) {
		if v == version {
			return true
		}
	}
	return false
}
