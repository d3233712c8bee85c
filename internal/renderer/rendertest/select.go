package rendertest

import (
	"strings"

	"golang.org/x/net/html"
)

// The matcher covers the selector subset programs actually use: tag,
// #id, .class, [attr] and [attr=val] qualifiers, and descendant chains
// separated by spaces. No combinators beyond descendant.

type simpleSelector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type attrMatch struct {
	key    string
	val    string
	hasVal bool
}

func parseSelector(s string) []simpleSelector {
	parts := strings.Fields(s)
	sels := make([]simpleSelector, 0, len(parts))
	for _, part := range parts {
		sels = append(sels, parseSimple(part))
	}
	return sels
}

func parseSimple(s string) simpleSelector {
	var sel simpleSelector

	for {
		open := strings.IndexByte(s, '[')
		if open < 0 {
			break
		}
		end := strings.IndexByte(s, ']')
		if end < open {
			break
		}
		inner := s[open+1 : end]
		s = s[:open] + s[end+1:]
		if eq := strings.IndexByte(inner, '='); eq >= 0 {
			val := strings.Trim(inner[eq+1:], `"'`)
			sel.attrs = append(sel.attrs, attrMatch{key: inner[:eq], val: val, hasVal: true})
		} else {
			sel.attrs = append(sel.attrs, attrMatch{key: inner})
		}
	}

	rest := s
	for rest != "" {
		switch rest[0] {
		case '#':
			token, rem := takeToken(rest[1:])
			sel.id = token
			rest = rem
		case '.':
			token, rem := takeToken(rest[1:])
			sel.classes = append(sel.classes, token)
			rest = rem
		default:
			token, rem := takeToken(rest)
			sel.tag = token
			rest = rem
		}
	}
	return sel
}

func takeToken(s string) (token, rest string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '#' || s[i] == '.' {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func matches(n *html.Node, sel simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if sel.tag != "" && n.Data != sel.tag {
		return false
	}
	if sel.id != "" {
		if id, ok := lookupAttr(n, "id"); !ok || id != sel.id {
			return false
		}
	}
	if len(sel.classes) > 0 {
		have, _ := lookupAttr(n, "class")
		classes := strings.Fields(have)
		for _, want := range sel.classes {
			found := false
			for _, c := range classes {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for _, am := range sel.attrs {
		got, ok := lookupAttr(n, am.key)
		if !ok {
			return false
		}
		if am.hasVal && got != am.val {
			return false
		}
	}
	return true
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// find returns the first node satisfying the selector chain, searching
// the subtree rooted at root.
func find(root *html.Node, selector string) *html.Node {
	chain := parseSelector(selector)
	if len(chain) == 0 {
		return nil
	}
	return findChain(root, chain)
}

func findChain(root *html.Node, chain []simpleSelector) *html.Node {
	if matches(root, chain[0]) {
		if len(chain) == 1 {
			return root
		}
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			if r := findChain(c, chain[1:]); r != nil {
				return r
			}
		}
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if r := findChain(c, chain); r != nil {
			return r
		}
	}
	return nil
}

// textContent concatenates the text nodes under n with whitespace
// collapsed.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
