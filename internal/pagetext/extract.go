// Package pagetext pulls the readable text out of an HTML page so it can be
// sent for summarization or translation.
package pagetext

import (
	"errors"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoText is returned when a page has no visible text.
var ErrNoText = errors.New("pagetext: page has no readable text")

// Page is the extracted content of a document.
type Page struct {
	Title string
	Text  string
}

var (
	// Tried in order; the first with text wins.
	contentSelectors = []string{"article", "main", "[role=main]", "body"}
	boilerplate      = "script, style, noscript, template, svg, iframe, form, nav, header, footer, aside, [hidden], [aria-hidden=true]"
	blockElements    = map[string]bool{
		"p": true, "div": true, "section": true, "article": true, "main": true,
		"li": true, "ul": true, "ol": true, "dl": true, "dt": true, "dd": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"blockquote": true, "pre": true, "table": true, "tr": true, "br": true,
		"figure": true, "figcaption": true, "hr": true,
	}
)

// Extract parses HTML from r and returns the main content as plain text,
// one paragraph per line.
func Extract(r io.Reader) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, err
	}
	title := collapse(doc.Find("title").First().Text())
	doc.Find(boilerplate).Remove()

	for _, sel := range contentSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if text := render(s); text != "" {
			return Page{Title: title, Text: text}, nil
		}
	}
	return Page{Title: title}, ErrNoText
}

// ExtractString is Extract over a string.
func ExtractString(html string) (Page, error) {
	return Extract(strings.NewReader(html))
}

func render(s *goquery.Selection) string {
	var lines []string
	var cur strings.Builder
	flush := func() {
		if line := collapse(cur.String()); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			name := goquery.NodeName(c)
			switch {
			case name == "#text":
				cur.WriteString(c.Text())
				cur.WriteByte(' ')
			case name == "#comment":
			case blockElements[name]:
				flush()
				walk(c)
				flush()
			default:
				walk(c)
			}
		})
	}
	walk(s)
	flush()
	return strings.Join(lines, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
