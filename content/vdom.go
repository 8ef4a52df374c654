package content

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
)

// Value is the untyped sum type vdom props hold: string, number, bool,
// or an opaque handler id for event-handler props (keys conventionally
// prefixed "on"). Binding the handler at the receiver is the host's
// job; this package only ever treats it as an opaque identifier.
type Value struct {
	Str       string
	Num       float64
	Bool      bool
	HandlerID string
	kind      valueKind
}

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindBool
	kindHandler
)

func StringValue(s string) Value  { return Value{Str: s, kind: kindString} }
func NumberValue(n float64) Value { return Value{Num: n, kind: kindNumber} }
func BoolValue(b bool) Value      { return Value{Bool: b, kind: kindBool} }
func HandlerValue(id string) Value {
	return Value{HandlerID: id, kind: kindHandler}
}

// valueWire is Value's wire shape: kind is unexported on Value itself
// (callers always go through the StringValue/NumberValue/... and
// render()/equal() constructors, never inspect it directly), but a
// delta op shipped over the wire still needs it to tell a number from
// a string that happens to look like one.
type valueWire struct {
	Kind      valueKind `json:"kind"`
	Str       string    `json:"str,omitempty"`
	Num       float64   `json:"num,omitempty"`
	Bool      bool      `json:"bool,omitempty"`
	HandlerID string    `json:"handler_id,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(valueWire{Kind: v.kind, Str: v.Str, Num: v.Num, Bool: v.Bool, HandlerID: v.HandlerID})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.kind = w.Kind
	v.Str = w.Str
	v.Num = w.Num
	v.Bool = w.Bool
	v.HandlerID = w.HandlerID
	return nil
}

func (v Value) equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case kindString:
		return v.Str == o.Str
	case kindNumber:
		return v.Num == o.Num
	case kindBool:
		return v.Bool == o.Bool
	case kindHandler:
		return v.HandlerID == o.HandlerID
	default:
		return false
	}
}

// render returns the attribute-value text for a recognised value
// shape, and false for anything else; unknown shapes are dropped
// deterministically rather than rendered inconsistently.
func (v Value) render() (string, bool) {
	switch v.kind {
	case kindString:
		return v.Str, true
	case kindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64), true
	case kindBool:
		if v.Bool {
			return "true", true
		}
		return "false", true
	case kindHandler:
		return v.HandlerID, true
	default:
		return "", false
	}
}

// Node is the tagged virtual-DOM tree node. A text node is represented
// by Tag == "" with Text set; an element node has Tag, Props, Children.
type Node struct {
	Tag      string
	Props    map[string]Value
	Children []*Node
	Text     string
}

// Text constructs a text node.
func Text(s string) *Node { return &Node{Text: s} }

// Elem constructs an element node.
func Elem(tag string, props map[string]Value, children ...*Node) *Node {
	return &Node{Tag: tag, Props: props, Children: children}
}

func (n *Node) isText() bool { return n.Tag == "" }

// Render produces the canonical HTML string for a tree, in
// deterministic (sorted) attribute order so two renderings of
// structurally identical trees are byte-identical.
func Render(n *Node) string {
	var b strings.Builder
	renderInto(&b, n)
	return b.String()
}

func renderInto(b *strings.Builder, n *Node) {
	if n == nil {
		return
	}
	if n.isText() {
		b.WriteString(html.EscapeString(n.Text))
		return
	}

	b.WriteByte('<')
	b.WriteString(n.Tag)

	keys := make([]string, 0, len(n.Props))
	for k, v := range n.Props {
		if strings.HasPrefix(k, "on") {
			continue // event handlers are bound client-side, never rendered
		}
		if _, ok := v.render(); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		val, _ := n.Props[k].render()
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(val))
		b.WriteByte('"')
	}
	b.WriteByte('>')

	for _, c := range n.Children {
		renderInto(b, c)
	}

	b.WriteString("</")
	b.WriteString(n.Tag)
	b.WriteByte('>')
}

// Path renders a delta-op path as "root" followed by "[i]" child
// selectors.
type Path []int

func (p Path) String() string {
	var b strings.Builder
	b.WriteString("root")
	for _, i := range p {
		fmt.Fprintf(&b, "[%d]", i)
	}
	return b.String()
}

// ChildAt navigates n down through path, returning nil if the path
// runs off the end of the tree.
func ChildAt(n *Node, path Path) *Node {
	cur := n
	for _, i := range path {
		if cur == nil || i < 0 || i >= len(cur.Children) {
			return nil
		}
		cur = cur.Children[i]
	}
	return cur
}
