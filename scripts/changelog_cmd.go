//go:build ignore

// Command changelog_cmd prepends a release section to CHANGELOG.md.
//
// Usage:
//
//	go run changelog_cmd.go -version 1.2.3 -notes notes.md -url https://... [-output CHANGELOG.md]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/crestline/release-plane/scripts"
)

func main() {
	var (
		version    string
		dateStr    string
		notesFile  string
		releaseURL string
		outputFile string
	)

	flag.StringVar(&version, "version", "", "Version number (e.g., 1.2.3)")
	flag.StringVar(&dateStr, "date", "", "Release date (YYYY-MM-DD, defaults to today)")
	flag.StringVar(&notesFile, "notes", "", "Path to file containing release notes")
	flag.StringVar(&releaseURL, "url", "", "Release URL for the footer link")
	flag.StringVar(&outputFile, "output", "CHANGELOG.md", "Changelog file path")
	flag.Parse()

	if version == "" || releaseURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -version and -url are required")
		os.Exit(1)
	}

	if dateStr == "" {
		dateStr = time.Now().Format("2006-01-02")
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid date format: %v\n", err)
		os.Exit(1)
	}

	var notes string
	if notesFile != "" {
		content, err := os.ReadFile(notesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read notes file: %v\n", err)
			os.Exit(1)
		}
		notes = string(content)
	}

	var changelog string
	if content, err := os.ReadFile(outputFile); err == nil {
		changelog = string(content)
	}

	if scripts.ContainsVersion(changelog, version) {
		fmt.Printf("Version %s already exists in changelog, skipping\n", version)
		os.Exit(0)
	}

	updated, err := scripts.PrependEntry(changelog, scripts.ChangelogEntry{
		Version: version,
		Date:    date,
		URL:     releaseURL,
		Notes:   notes,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to update changelog: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outputFile, []byte(updated), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to write changelog: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Updated %s with version %s\n", outputFile, version)
}
