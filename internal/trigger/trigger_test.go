package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRejectsInvalidPattern(t *testing.T) {
	_, err := Compile("[unclosed")
	require.Error(t, err)
}

func TestMatchTextWholeLineOnly(t *testing.T) {
	m, err := Compile(`^:shipit:$`)
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"own line", "looks good\n:shipit:\n", true},
		{"only line", ":shipit:", true},
		{"surrounding whitespace trimmed", "   :shipit:  \n", true},
		{"windows line endings", "ready\r\n:shipit:\r\n", true},
		{"substring of a line", "please :shipit: soon", false},
		{"prefix of a line", ":shipit: when green", false},
		{"empty text", "", false},
		{"different marker", "ship it\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.MatchText(tt.text))
		})
	}
}

func TestMatchTextUnanchoredPatternStillBindsToLine(t *testing.T) {
	// A pattern without explicit anchors must still only match when it
	// covers a whole trimmed line.
	m, err := Compile(`:shipit:`)
	require.NoError(t, err)

	assert.True(t, m.MatchText("fine by me\n:shipit:"))
	assert.False(t, m.MatchText("please :shipit: soon"))
}

func TestMatchesCorpusOrder(t *testing.T) {
	m, err := Compile(`^:shipit:$`)
	require.NoError(t, err)

	both := Policy{CheckDescription: true, CheckComments: true}

	matched, corpus := m.Matches(both, "desc\n:shipit:", []string{":shipit:"})
	assert.True(t, matched)
	assert.Equal(t, CorpusDescription, corpus, "description is searched before comments")

	matched, corpus = m.Matches(both, "no trigger here", []string{"lgtm", ":shipit:"})
	assert.True(t, matched)
	assert.Equal(t, CorpusComments, corpus)

	matched, corpus = m.Matches(both, "nothing", []string{"nothing"})
	assert.False(t, matched)
	assert.Equal(t, CorpusNone, corpus)
}

func TestMatchesHonorsPolicy(t *testing.T) {
	m, err := Compile(`^:shipit:$`)
	require.NoError(t, err)

	// Trigger present in both corpora, but each is disabled in turn.
	matched, _ := m.Matches(Policy{CheckComments: true}, ":shipit:", nil)
	assert.False(t, matched, "description disabled")

	matched, _ = m.Matches(Policy{CheckDescription: true}, "", []string{":shipit:"})
	assert.False(t, matched, "comments disabled")
}
