package ics

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var reURL = regexp.MustCompile(`https?://[^\s<>"]+`)

// urlTrailing is trimmed from the end of a URL matched in free text.
const urlTrailing = `).,;">'`

// LinkFromDescription returns the first link found in a DESCRIPTION value,
// or "" if there is none.
//
//   - If the value looks like HTML, the first <a href> wins. Without an
//     anchor, the markup is reduced to its text and scanned like plain text.
//   - Plain text is scanned for the first http(s) URL with trailing
//     punctuation removed.
func LinkFromDescription(description string) string {
	s := strings.TrimSpace(description)
	if s == "" {
		return ""
	}

	if looksLikeMarkup(s) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			if href, ok := doc.Find("a[href]").First().Attr("href"); ok {
				if href = strings.TrimSpace(href); href != "" {
					return href
				}
			}
			s = textOf(doc)
		}
	}

	m := reURL.FindString(s)
	if m == "" {
		return ""
	}
	return strings.TrimRight(m, urlTrailing)
}

func looksLikeMarkup(s string) bool {
	if !strings.Contains(s, "<") || !strings.Contains(s, ">") {
		return false
	}
	low := strings.ToLower(s)
	return strings.Contains(low, "<a") || strings.Contains(low, "</")
}

// textOf joins the document's text nodes with spaces so that adjacent
// block elements do not glue a URL to the next word.
func textOf(doc *goquery.Document) string {
	var parts []string
	doc.Find("body").Contents().Each(func(_ int, sel *goquery.Selection) {
		collectText(sel, &parts)
	})
	return strings.Join(parts, " ")
}

func collectText(sel *goquery.Selection, parts *[]string) {
	if goquery.NodeName(sel) == "#text" {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		collectText(child, parts)
	})
}
