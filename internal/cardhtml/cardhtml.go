// Package cardhtml manipulates chat-card HTML fragments: finding and
// disabling card buttons, swapping them for rendered roll results, and
// attaching follow-up controls. All input is normalized into one node
// tree at the boundary; callers never deal with raw markup mid-flight.
package cardhtml

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Node aliases the underlying html node so callers do not need their own
// x/net/html import for type declarations.
type Node = html.Node

// ElementNodeType mirrors html.ElementNode for the same reason
const ElementNodeType = html.ElementNode

// Parse parses an HTML fragment into a detached container whose children
// are the fragment's top-level nodes. Render is its inverse.
func Parse(fragment string) (*html.Node, error) {
	container := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	}

	nodes, err := html.ParseFragment(strings.NewReader(fragment), container)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		container.AppendChild(n)
	}
	return container, nil
}

// Render serializes the children of a container produced by Parse.
func Render(container *html.Node) (string, error) {
	var sb strings.Builder
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// Walk visits every element node under root in document order. The visit
// function returns false to stop the walk.
func Walk(root *html.Node, visit func(*html.Node) bool) {
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && !visit(n) {
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(root)
}

// Attr returns the value of the named attribute, "" when absent
func Attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether the named attribute is present
func HasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

// SetAttr sets an attribute, replacing an existing value
func SetAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr drops the named attribute if present
func RemoveAttr(n *html.Node, name string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// HasClass reports whether the element carries the CSS class
func HasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(Attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass appends a CSS class unless already present
func AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	existing := Attr(n, "class")
	if existing == "" {
		SetAttr(n, "class", class)
		return
	}
	SetAttr(n, "class", existing+" "+class)
}

// AppendStyle appends inline CSS declarations to the element's style
func AppendStyle(n *html.Node, css string) {
	existing := strings.TrimSpace(Attr(n, "style"))
	if existing != "" && !strings.HasSuffix(existing, ";") {
		existing += ";"
	}
	SetAttr(n, "style", existing+css)
}

// FindElement returns the first element with the given tag name
func FindElement(root *html.Node, tag string) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if n.Data == tag {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindByClass returns the first element carrying the CSS class
func FindByClass(root *html.Node, class string) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if HasClass(n, class) {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindButton returns the first button whose data-action attribute is one
// of the given actions, nil when no such button exists.
func FindButton(root *html.Node, actions ...string) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if n.Data != "button" {
			return true
		}
		action := Attr(n, "data-action")
		for _, want := range actions {
			if action == want {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

// SetDisabled toggles the disabled attribute on a button
func SetDisabled(n *html.Node, disabled bool) {
	if disabled {
		SetAttr(n, "disabled", "")
		return
	}
	RemoveAttr(n, "disabled")
}

// Remove detaches a node from its parent
func Remove(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// ReplaceWith swaps old for the children of a parsed fragment container.
func ReplaceWith(old *html.Node, container *html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	for container.FirstChild != nil {
		child := container.FirstChild
		container.RemoveChild(child)
		parent.InsertBefore(child, old)
	}
	parent.RemoveChild(old)
}

// InsertAfter places the children of a parsed fragment container right
// after the given node.
func InsertAfter(target *html.Node, container *html.Node) {
	parent := target.Parent
	if parent == nil {
		return
	}
	next := target.NextSibling
	for container.FirstChild != nil {
		child := container.FirstChild
		container.RemoveChild(child)
		if next != nil {
			parent.InsertBefore(child, next)
		} else {
			parent.AppendChild(child)
		}
	}
}

// AppendChildren moves the children of a parsed fragment container to the
// end of target.
func AppendChildren(target *html.Node, container *html.Node) {
	for container.FirstChild != nil {
		child := container.FirstChild
		container.RemoveChild(child)
		target.AppendChild(child)
	}
}

// Text returns the concatenated text content under the node
func Text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
