package forum

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// Legacy quote headers look like "10/28/2018 09:08 PMPosted by Snowfox".
	legacyQuoteHeader = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4} \d{1,2}:\d{2} [APM]{2}Posted by \w+\n*`)
	truncatedSpan     = regexp.MustCompile(`(?s)<span class="truncated">.*?</span>`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
)

// StripQuotes splits a post's rendered HTML into its own text and the quoted
// passages it embeds. Quotes live either inside aside.quote wrappers or as
// bare blockquote elements; both are removed from the remaining text.
func StripQuotes(html string) (text string, quotes []string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return NormalizeText(html), nil
	}

	doc.Find("aside.quote").Each(func(_ int, aside *goquery.Selection) {
		if block := aside.Find("blockquote").First(); block.Length() > 0 {
			quotes = append(quotes, cleanQuote(block.Text()))
		}
		aside.Remove()
	})
	doc.Find("blockquote").Each(func(_ int, block *goquery.Selection) {
		quotes = append(quotes, cleanQuote(block.Text()))
		block.Remove()
	})

	return NormalizeText(doc.Text()), quotes
}

func cleanQuote(quote string) string {
	quote = legacyQuoteHeader.ReplaceAllString(quote, "")
	quote = truncatedSpan.ReplaceAllString(quote, "")
	return strings.TrimSpace(quote)
}

// NormalizeText collapses newlines and whitespace runs into single spaces.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}
