package crawler

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractHTML pulls the title and visible text out of an HTML document.
// Script, style and noscript subtrees are dropped; remaining text is
// whitespace-normalized.
func extractHTML(html []byte) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	return title, squashWhitespace(body.Text()), nil
}

func squashWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
