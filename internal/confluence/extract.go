package confluence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ExtractText strips Confluence storage-format markup down to plain text.
// Entities are decoded, scripts/styles dropped, and whitespace collapsed so
// the result is stable input for hashing and Q&A generation.
func ExtractText(storage string) string {
	if strings.TrimSpace(storage) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(storage))
	if err != nil {
		// Storage markup is XHTML-ish and occasionally malformed;
		// fall back to a plain tokenizer walk.
		return collapseWhitespace(stripTags(storage))
	}

	doc.Find("script, style").Remove()
	return collapseWhitespace(doc.Text())
}

// stripTags walks raw markup with the html tokenizer and keeps text nodes.
func stripTags(raw string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
}

// collapseWhitespace folds any run of whitespace into a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContentHash returns the hex sha256 digest of the extracted text.
// Two page snapshots with the same digest are treated as unchanged.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
