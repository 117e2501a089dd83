package scripts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// CommitType is the leading type of a conventional commit subject.
type CommitType string

const (
	CommitTypeFeat     CommitType = "feat"
	CommitTypeFix      CommitType = "fix"
	CommitTypePerf     CommitType = "perf"
	CommitTypeRefactor CommitType = "refactor"
	CommitTypeDocs     CommitType = "docs"
	CommitTypeBuild    CommitType = "build"
	CommitTypeCI       CommitType = "ci"
	CommitTypeTest     CommitType = "test"
	CommitTypeChore    CommitType = "chore"
	CommitTypeStyle    CommitType = "style"
	CommitTypeOther    CommitType = "other"
)

// Commit is a parsed conventional commit.
type Commit struct {
	Type     CommitType
	Scope    string
	Subject  string
	Breaking bool
	Raw      string
}

var conventionalRegex = regexp.MustCompile(`^(\w+)(?:\(([^)]*)\))?(!)?\s*:\s*(.*)$`)

var knownTypes = map[string]CommitType{
	"feat": CommitTypeFeat, "fix": CommitTypeFix, "perf": CommitTypePerf,
	"refactor": CommitTypeRefactor, "docs": CommitTypeDocs, "build": CommitTypeBuild,
	"ci": CommitTypeCI, "test": CommitTypeTest, "chore": CommitTypeChore,
	"style": CommitTypeStyle,
}

// ParseCommit parses a commit message. Subjects that do not follow the
// conventional format come back as CommitTypeOther with the first line as
// the subject.
func ParseCommit(raw string) Commit {
	raw = strings.TrimSpace(raw)
	lines := strings.SplitN(raw, "\n", 2)
	subject := strings.TrimSpace(lines[0])

	var body string
	if len(lines) > 1 {
		body = lines[1]
	}
	breaking := strings.Contains(strings.ToUpper(body), "BREAKING CHANGE")

	m := conventionalRegex.FindStringSubmatch(subject)
	if m == nil {
		return Commit{Type: CommitTypeOther, Subject: subject, Breaking: breaking, Raw: raw}
	}

	ct, ok := knownTypes[strings.ToLower(m[1])]
	if !ok {
		ct = CommitTypeOther
	}
	return Commit{
		Type:     ct,
		Scope:    m[2],
		Subject:  strings.TrimSpace(m[4]),
		Breaking: breaking || m[3] == "!",
		Raw:      raw,
	}
}

// noiseSubjectRegex matches subjects that carry no release-note value.
var noiseSubjectRegex = regexp.MustCompile(`(?i)^(fix(ing)?\s+(typo|lint|format|whitespace)|merge\s+(branch|pull request)|wip\b|bump\s+version)`)

// IsNoise reports whether a commit should be dropped from release notes.
// Housekeeping types and boilerplate subjects are noise; breaking changes
// never are.
func IsNoise(c Commit) bool {
	if c.Breaking {
		return false
	}
	switch c.Type {
	case CommitTypeChore, CommitTypeStyle, CommitTypeCI, CommitTypeTest:
		return true
	}
	return noiseSubjectRegex.MatchString(c.Subject)
}

// FilterNoise drops noise commits, preserving input order.
func FilterNoise(commits []Commit) []Commit {
	kept := make([]Commit, 0, len(commits))
	for _, c := range commits {
		if !IsNoise(c) {
			kept = append(kept, c)
		}
	}
	return kept
}

// section ordering in the rendered notes.
var sectionOrder = []struct {
	header string
	match  func(Commit) bool
}{
	{"### Breaking Changes", func(c Commit) bool { return c.Breaking }},
	{"### Features", func(c Commit) bool { return !c.Breaking && c.Type == CommitTypeFeat }},
	{"### Fixes", func(c Commit) bool { return !c.Breaking && c.Type == CommitTypeFix }},
	{"### Performance", func(c Commit) bool { return !c.Breaking && c.Type == CommitTypePerf }},
	{"### Other", func(c Commit) bool {
		return !c.Breaking && c.Type != CommitTypeFeat && c.Type != CommitTypeFix && c.Type != CommitTypePerf
	}},
}

// RenderNotes renders commit messages into sectioned markdown release notes.
// Noise commits are dropped first; within a section items are sorted by scope
// so related changes sit together.
func RenderNotes(rawCommits []string) string {
	commits := make([]Commit, 0, len(rawCommits))
	for _, raw := range rawCommits {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		commits = append(commits, ParseCommit(raw))
	}
	commits = FilterNoise(commits)

	var sb strings.Builder
	for _, section := range sectionOrder {
		var items []Commit
		for _, c := range commits {
			if section.match(c) {
				items = append(items, c)
			}
		}
		if len(items) == 0 {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].Scope < items[j].Scope })

		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(section.header)
		sb.WriteString("\n\n")
		for _, c := range items {
			if c.Scope != "" {
				fmt.Fprintf(&sb, "- **%s**: %s\n", c.Scope, c.Subject)
			} else {
				fmt.Fprintf(&sb, "- %s\n", c.Subject)
			}
		}
	}

	if sb.Len() == 0 {
		return "No notable changes in this release.\n"
	}
	return sb.String()
}
