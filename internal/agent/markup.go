// internal/agent/markup.go
package agent

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// skippedElements are removed together with their children.
var skippedElements = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"link":     true,
	"meta":     true,
}

// preservedAttributes are kept on any element; everything else is dropped.
var preservedAttributes = map[string]bool{
	"id":          true,
	"class":       true,
	"name":        true,
	"type":        true,
	"role":        true,
	"placeholder": true,
	"href":        true,
	"for":         true,
	"disabled":    true,
	"title":       true,
	"alt":         true,
	"action":      true,
	"method":      true,
	"value":       true,
}

// textInputTypes are input types whose value may echo what was typed.
var textInputTypes = map[string]bool{
	"":         true,
	"text":     true,
	"email":    true,
	"password": true,
	"search":   true,
	"tel":      true,
	"url":      true,
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// CleanMarkup strips non-informational markup from a page and keeps the body
// with the attributes needed to target elements.
func CleanMarkup(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	root := findElement(doc, "body")
	if root == nil {
		root = doc
	}

	var b strings.Builder
	writeClean(&b, root)
	return strings.TrimSpace(b.String()), nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func writeClean(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
			b.WriteString(html.EscapeString(text))
		}
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] {
			return
		}
		b.WriteString("<")
		b.WriteString(tag)
		for _, attr := range n.Attr {
			if keepAttribute(n, tag, attr.Key) {
				fmt.Fprintf(b, ` %s="%s"`, attr.Key, html.EscapeString(attr.Val))
			}
		}
		b.WriteString(">")
		if voidElements[tag] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeClean(b, c)
		}
		b.WriteString("</")
		b.WriteString(tag)
		b.WriteString(">")
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeClean(b, c)
	}
}

func keepAttribute(n *html.Node, tag, key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "aria-") || strings.HasPrefix(key, "data-") {
		return true
	}
	if !preservedAttributes[key] {
		return false
	}
	if key == "value" {
		// Values of typed inputs may hold credentials and are never forwarded.
		if tag == "textarea" {
			return false
		}
		if tag == "input" {
			return !textInputTypes[strings.ToLower(attrValue(n, "type"))]
		}
	}
	return true
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val
		}
	}
	return ""
}
