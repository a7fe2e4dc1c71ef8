// Package extract holds the content heuristics every backend applies to a
// fetched page: anti-bot detection, WO and national number extraction, and
// metadata parsing.
package extract

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

// Minimum page sizes below which a response is treated as a block page.
const (
	MinBrowserContent = 1000
	MinHTTPContent    = 500
)

const maxAbstract = 500

var blockIndicators = []string{
	"unusual traffic",
	"automated requests",
	"captcha",
	"recaptcha",
	"access denied",
	"forbidden",
	"blocked",
}

var (
	woPattern      = regexp.MustCompile(`(?i)WO[\s-]?(\d{4})[\s/]?(\d{6})`)
	countryPattern = map[string]*regexp.Regexp{
		"BR": regexp.MustCompile(`(?i)BR[\s-]?(\d{10,12})[A-Z]?\d?`),
	}
)

// Blocked reports whether content looks like an anti-bot page and why.
func Blocked(content string, minLength int) (bool, string) {
	lower := strings.ToLower(content)
	for _, indicator := range blockIndicators {
		if strings.Contains(lower, indicator) {
			return true, indicator
		}
	}

	if len(content) < minLength {
		return true, fmt.Sprintf("response too small (%d bytes)", len(content))
	}

	return false, ""
}

// WONumbers returns the distinct WO publication numbers in content, sorted.
func WONumbers(content string) []patent.Identifier {
	set := patent.NewSet()
	for _, m := range woPattern.FindAllStringSubmatch(content, -1) {
		set.Add(patent.Identifier("WO" + m[1] + m[2]))
	}

	return set.Sorted()
}

// CountryNumbers returns national numbers for each country in order of
// appearance, first occurrence winning. With no countries BR is assumed.
func CountryNumbers(text string, countries []string) []patent.Identifier {
	if len(countries) == 0 {
		countries = []string{"BR"}
	}

	set := patent.NewSet()
	var out []patent.Identifier

	for _, country := range countries {
		re := patternFor(country)
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			id := patent.Identifier(strings.ToUpper(country) + m[1])
			if set.Add(id) {
				out = append(out, id)
			}
		}
	}

	return out
}

func patternFor(country string) *regexp.Regexp {
	country = strings.ToUpper(country)
	if re, ok := countryPattern[country]; ok {
		return re
	}

	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(country) + `[\s-]?(\d{6,12})[A-Z]?\d?`)
}

// Page is the part of a patent page the backends care about.
type Page struct {
	Title       string
	Description string
	Text        string
}

// ParsePage reads citation metadata and the visible text of an HTML page.
func ParsePage(r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &Page{}
	var text strings.Builder
	var docTitle string

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "meta":
				name, content := attr(n, "name"), attr(n, "content")
				switch strings.ToLower(name) {
				case "citation_title", "dc.title":
					if page.Title == "" {
						page.Title = strings.TrimSpace(content)
					}
				case "description", "dc.description":
					if page.Description == "" {
						page.Description = strings.TrimSpace(content)
					}
				}
			case "title":
				if docTitle == "" && n.FirstChild != nil {
					docTitle = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				text.WriteString(s)
				text.WriteByte(' ')
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	page.Text = strings.TrimSpace(text.String())
	if page.Title == "" {
		page.Title = docTitle
	}

	return page, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// Record builds a record from a parsed page.
func Record(id patent.Identifier, page *Page, source string) *patent.Record {
	title := page.Title
	if title == "" {
		title = "Unknown"
	}

	return &patent.Record{
		Identifier: id,
		Title:      title,
		Abstract:   Truncate(page.Description, maxAbstract),
		Source:     source,
	}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
