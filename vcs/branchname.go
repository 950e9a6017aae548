package vcs

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxBranchNameLen = 75

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	invalidRe    = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRunRe  = regexp.MustCompile(`-{2,}`)
)

// DeriveBranchName maps a change title to a staging branch name. The
// mapping is deterministic: the same title always yields the same name,
// which is how title collisions become branch collisions the caller has
// to resolve by renaming.
func DeriveBranchName(prefix, title string) string {
	name := strings.ToLower(title)
	name = whitespaceRe.ReplaceAllString(name, "-")
	name = invalidRe.ReplaceAllString(name, "")
	name = hyphenRunRe.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")

	if len(name) > maxBranchNameLen {
		name = strings.TrimRight(name[:maxBranchNameLen], "-")
	}

	if name == "" {
		// Titles made entirely of stripped characters still need a
		// collision-free name.
		name = fmt.Sprintf("change-%d", time.Now().UnixNano())
	}

	return prefix + name
}
