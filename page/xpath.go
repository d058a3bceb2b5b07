package page

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// evaluateXPath evaluates a practical subset of XPath against the parsed
// document and returns matching element nodes in document order:
//   - /html/body/div          absolute path
//   - //span                  descendant anywhere
//   - //div[@id='p']//span    descendant steps anywhere in the path
//   - //span[@class='price']  attribute equality
//   - //span[@data-price]     attribute presence
//   - //span[contains(@class,'price')]
//   - //li[2]                 positional predicate
//   - (//span)[1]             positional filter over the whole result
//   - //span/text()           text() selects the element itself
func evaluateXPath(doc *html.Node, xpath string) []*html.Node {
	xpath = strings.TrimSpace(xpath)

	if strings.HasPrefix(xpath, "(") {
		end := matchingParen(xpath)
		if end < 0 {
			return nil
		}
		inner := evaluateXPath(doc, xpath[1:end])
		rest := strings.TrimSpace(xpath[end+1:])
		if rest == "" {
			return inner
		}
		if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest[1 : len(rest)-1]))
		if err != nil || n < 1 || n > len(inner) {
			return nil
		}
		return inner[n-1 : n]
	}

	current := []*html.Node{doc}
	for _, st := range splitSteps(xpath) {
		if st.name == "text()" || st.name == "node()" || st.name == "." {
			continue
		}
		seen := make(map[*html.Node]bool)
		var next []*html.Node
		add := func(n *html.Node) {
			if !seen[n] && st.matches(n) {
				seen[n] = true
				next = append(next, n)
			}
		}
		for _, parent := range current {
			if st.descendant {
				walkDescendants(parent, add)
				continue
			}
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				add(c)
			}
		}
		current = next
	}
	if len(current) == 1 && current[0] == doc {
		return nil
	}
	return current
}

type xpathStep struct {
	descendant bool
	name       string
	preds      []xpathPredicate
}

type xpathPredicate struct {
	attrName  string
	attrValue string
	contains  bool
	position  int // 1-based
}

// splitSteps splits a location path on '/' outside brackets and quotes.
// A bare expression with no leading slash is a descendant search.
func splitSteps(path string) []xpathStep {
	var steps []xpathStep
	i := 0
	descendant := !strings.HasPrefix(path, "/")
	for i < len(path) {
		slashes := 0
		for i < len(path) && path[i] == '/' {
			slashes++
			i++
		}
		if slashes >= 2 {
			descendant = true
		}
		start, depth := i, 0
		var quote byte
	scan:
		for i < len(path) {
			c := path[i]
			switch {
			case quote != 0:
				if c == quote {
					quote = 0
				}
			case c == '\'' || c == '"':
				quote = c
			case c == '[':
				depth++
			case c == ']':
				depth--
			case c == '/' && depth == 0:
				break scan
			}
			i++
		}
		if raw := strings.TrimSpace(path[start:i]); raw != "" {
			st := parseStep(raw)
			st.descendant = descendant
			steps = append(steps, st)
		}
		descendant = false
	}
	return steps
}

// parseStep parses "div", "div[@class='x']", "div[2]", "div[@a][1]".
func parseStep(raw string) xpathStep {
	idx := strings.IndexByte(raw, '[')
	if idx < 0 || strings.HasSuffix(raw, "()") {
		return xpathStep{name: raw}
	}
	st := xpathStep{name: raw[:idx]}
	rest := raw[idx:]
	for strings.HasPrefix(rest, "[") {
		end := closingBracket(rest)
		if end < 0 {
			break
		}
		st.preds = append(st.preds, parsePredicate(strings.TrimSpace(rest[1:end])))
		rest = rest[end+1:]
	}
	return st
}

func parsePredicate(s string) xpathPredicate {
	if n, err := strconv.Atoi(s); err == nil {
		return xpathPredicate{position: n}
	}

	if strings.HasPrefix(s, "contains(") && strings.HasSuffix(s, ")") {
		args := strings.SplitN(s[len("contains("):len(s)-1], ",", 2)
		if len(args) == 2 {
			return xpathPredicate{
				attrName:  strings.TrimPrefix(strings.TrimSpace(args[0]), "@"),
				attrValue: strings.Trim(strings.TrimSpace(args[1]), `'"`),
				contains:  true,
			}
		}
	}

	if strings.HasPrefix(s, "@") {
		attr := s[1:]
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			return xpathPredicate{
				attrName:  strings.TrimSpace(attr[:eq]),
				attrValue: strings.Trim(strings.TrimSpace(attr[eq+1:]), `'"`),
			}
		}
		return xpathPredicate{attrName: strings.TrimSpace(attr)}
	}

	// Unsupported predicate: never matches.
	return xpathPredicate{position: -1}
}

func (st xpathStep) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if st.name != "*" && n.Data != st.name {
		return false
	}
	for _, p := range st.preds {
		if !p.matches(n, st.name) {
			return false
		}
	}
	return true
}

func (p xpathPredicate) matches(n *html.Node, name string) bool {
	switch {
	case p.position < 0:
		return false
	case p.position > 0:
		return siblingPosition(n, name) == p.position
	case p.attrName == "text()" && p.contains:
		return strings.Contains(collectText(n), p.attrValue)
	case p.contains:
		val, ok := attr(n, p.attrName)
		return ok && strings.Contains(val, p.attrValue)
	case p.attrValue != "":
		val, _ := attr(n, p.attrName)
		return val == p.attrValue
	default:
		_, ok := attr(n, p.attrName)
		return ok
	}
}

// siblingPosition returns the 1-based index of n among its parent's element
// children matching name.
func siblingPosition(n *html.Node, name string) int {
	if n.Parent == nil {
		return 1
	}
	pos := 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode && (name == "*" || s.Data == n.Data) {
			pos++
			if s == n {
				return pos
			}
		}
	}
	return 0
}

func walkDescendants(root *html.Node, fn func(*html.Node)) {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		fn(c)
		walkDescendants(c, fn)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func matchingParen(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func closingBracket(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}
