// Package trigger decides which external events start a pipeline run.
//
// Two triggers exist: a pushed tag matching the numeric major.minor.patch
// pattern, and a manual dispatch through the API. Manual runs never publish
// a release.
package trigger

import (
	"errors"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrNotReleaseTag is returned for tags that do not match the release pattern.
var ErrNotReleaseTag = errors.New("tag does not match release pattern")

// releaseTagPattern is the strict numeric pattern a release tag must match.
// Pre-release and build-metadata suffixes do not trigger releases.
var releaseTagPattern = regexp.MustCompile(`^v?\d+\.\d+\.\d+$`)

// MatchTag checks whether a pushed tag starts a release run. It returns the
// normalized version (no "v" prefix) or ErrNotReleaseTag.
func MatchTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if !releaseTagPattern.MatchString(tag) {
		return "", ErrNotReleaseTag
	}

	version, err := semver.StrictNewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return "", ErrNotReleaseTag
	}
	return version.String(), nil
}
