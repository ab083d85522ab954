package automation

import (
	"strings"

	"golang.org/x/net/html"
)

// SummarizePage counts the structural elements of a page so checkpoints
// record what kind of screen an operation ran against. Unparseable HTML
// yields an empty summary.
func SummarizePage(src string) map[string]interface{} {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return map[string]interface{}{}
	}

	var title string
	counts := map[string]int{}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form", "button", "input", "select", "textarea", "a", "table":
				counts[n.Data]++
			case "title":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return map[string]interface{}{
		"title":     title,
		"forms":     counts["form"],
		"buttons":   counts["button"],
		"inputs":    counts["input"] + counts["select"] + counts["textarea"],
		"links":     counts["a"],
		"tables":    counts["table"],
		"has_forms": counts["form"] > 0,
	}
}
