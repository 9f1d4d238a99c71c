package forum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		kind TargetKind
		base string
	}{
		{"homepage", "https://example.proboards.com", TargetHomepage, "https://example.proboards.com"},
		{"homepage trailing slash", "https://example.proboards.com/", TargetHomepage, "https://example.proboards.com"},
		{"members", "https://example.proboards.com/members", TargetMembers, "https://example.proboards.com"},
		{"user", "https://example.proboards.com/user/42", TargetUser, "https://example.proboards.com"},
		{"board", "https://example.proboards.com/board/3/general", TargetBoard, "https://example.proboards.com"},
		{"thread", "https://example.proboards.com/thread/1234/some-title", TargetThread, "https://example.proboards.com"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target, err := ClassifyURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, target.Kind)
			assert.Equal(t, tt.base, target.BaseURL)
		})
	}
}

func TestClassifyURLRejectsUnknownPaths(t *testing.T) {
	t.Parallel()

	_, err := ClassifyURL("https://example.proboards.com/search?q=x")
	require.Error(t, err)

	_, err = ClassifyURL("example.proboards.com/members")
	require.Error(t, err)
}
