package utf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugifyBasic(t *testing.T) {
	require.Equal(t, "my-movie-part-1", Slugify("My  Movie / Part 1!!", true))
}

func TestSlugifyStripsLeadingTrailingDashes(t *testing.T) {
	require.Equal(t, "abc", Slugify("---abc---", true))
}

func TestSlugifyKeepsUnicodeLetters(t *testing.T) {
	require.Equal(t, "ファイル名.usm", Slugify("ファイル名.usm", true))
	require.Equal(t, "café-movie.usm", Slugify("Café Movie.usm", true))
}

func TestSlugifyAsciiFold(t *testing.T) {
	got := Slugify("Café", false)
	require.NotContains(t, got, "é")
}

func TestPageSlug(t *testing.T) {
	p := NewPage("CRIUSF_DIR_STREAM")
	p.Set("filename", NewString("Opening Movie.usm"))
	slug, ok := p.Slug(true)
	require.True(t, ok)
	require.Equal(t, "opening-movie.usm", slug)

	empty := NewPage("CRIUSF_DIR_STREAM")
	_, ok = empty.Slug(true)
	require.False(t, ok)
}
