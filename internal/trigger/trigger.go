// Package trigger evaluates whether a pull request carries the configured
// merge trigger. The trigger must occupy its own line within the searched
// text: a line matches when, after trimming surrounding whitespace, the
// pattern matches the entire line. Substring hits never count.
package trigger

import (
	"fmt"
	"regexp"
	"strings"
)

// Corpus identifies where a trigger match was found.
type Corpus int

const (
	// CorpusNone means no match was found.
	CorpusNone Corpus = iota
	// CorpusDescription means the trigger was found in the PR description.
	CorpusDescription
	// CorpusComments means the trigger was found in one of the searched comments.
	CorpusComments
)

// String returns a human-readable corpus name for log lines.
func (c Corpus) String() string {
	switch c {
	case CorpusDescription:
		return "description"
	case CorpusComments:
		return "comments"
	default:
		return "none"
	}
}

// Policy selects which corpora are searched for the trigger.
type Policy struct {
	CheckDescription bool
	CheckComments    bool
}

// Matcher holds a compiled whole-line trigger pattern.
type Matcher struct {
	re *regexp.Regexp
}

// Compile validates the user-supplied pattern and anchors it to match a
// whole line. An invalid pattern is a configuration error and must abort
// startup; it is never a per-candidate condition.
func Compile(pattern string) (*Matcher, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("compiling trigger pattern %q: %w", pattern, err)
	}
	return &Matcher{re: re}, nil
}

// MatchText reports whether any line of text, trimmed, fully matches the
// trigger pattern.
func (m *Matcher) MatchText(text string) bool {
	for text != "" {
		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i+1], text[i+1:]
		} else {
			text = ""
		}
		if m.re.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// Matches scans the corpora enabled by policy, description first, and
// returns on the first hit. Comments are the raw text of the comments the
// caller already filtered per its authorship policy.
func (m *Matcher) Matches(policy Policy, description string, comments []string) (bool, Corpus) {
	if policy.CheckDescription && m.MatchText(description) {
		return true, CorpusDescription
	}
	if policy.CheckComments {
		for _, c := range comments {
			if m.MatchText(c) {
				return true, CorpusComments
			}
		}
	}
	return false, CorpusNone
}
