package forum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripQuotesAsideQuote(t *testing.T) {
	t.Parallel()

	html := `<aside class="quote"><blockquote><p>earlier point</p></blockquote></aside>
<p>my reply to it</p>`

	text, quotes := StripQuotes(html)
	require.Equal(t, "my reply to it", text)
	require.Equal(t, []string{"earlier point"}, quotes)
}

func TestStripQuotesStandaloneBlockquote(t *testing.T) {
	t.Parallel()

	html := `<blockquote>bare quote</blockquote><p>response</p>`
	text, quotes := StripQuotes(html)
	require.Equal(t, "response", text)
	require.Equal(t, []string{"bare quote"}, quotes)
}

func TestStripQuotesLegacyHeaderRemoved(t *testing.T) {
	t.Parallel()

	html := `<blockquote>10/28/2018 09:08 PMPosted by Snowfox
the actual quote body</blockquote><p>reply</p>`

	_, quotes := StripQuotes(html)
	require.Equal(t, []string{"the actual quote body"}, quotes)
}

func TestStripQuotesNoQuotes(t *testing.T) {
	t.Parallel()

	text, quotes := StripQuotes(`<p>plain   post
with whitespace</p>`)
	require.Equal(t, "plain post with whitespace", text)
	require.Empty(t, quotes)
}

func TestSplitUsername(t *testing.T) {
	t.Parallel()

	name, server := SplitUsername("Snowfox-Stormrage")
	require.Equal(t, "Snowfox", name)
	require.Equal(t, "Stormrage", server)

	name, server = SplitUsername("Plainname")
	require.Equal(t, "Plainname", name)
	require.Empty(t, server)
}
