// Package motd flattens Minecraft chat-component descriptions into plain text
// with inline legacy formatting codes.
package motd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MaxDepth is the default number of "extra" levels followed while parsing and flattening.
const MaxDepth = 10

// Legacy formatting escapes.
const (
	escape    = '§'
	bold      = "§l"
	underline = "§n"
)

// colorCodes maps the 16 named chat colors to their legacy code.
var colorCodes = map[string]byte{
	"black":        '0',
	"dark_blue":    '1',
	"dark_green":   '2',
	"dark_aqua":    '3',
	"dark_red":     '4',
	"dark_purple":  '5',
	"gold":         '6',
	"gray":         '7',
	"dark_gray":    '8',
	"blue":         '9',
	"green":        'a',
	"aqua":         'b',
	"red":          'c',
	"light_purple": 'd',
	"yellow":       'e',
	"white":        'f',
}

// Component is a node of a description tree: *Text, Sequence or Plain.
type Component interface {
	component()
}

// Text is a chat component object. Text is nil when the object has no "text" key.
type Text struct {
	Extra      Component
	Text       *string
	Color      string
	Bold       bool
	Underlined bool
}

// Sequence is an ordered list of components.
type Sequence []Component

// Plain is a bare string.
type Plain string

func (*Text) component()    {}
func (Sequence) component() {}
func (Plain) component()    {}

// Parse decodes a description (object, string or array) into a component tree.
// Children deeper than MaxDepth "extra" levels are dropped.
func Parse(raw json.RawMessage) (Component, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	return build(v, MaxDepth)
}

func build(v any, depth int) (Component, error) {
	if depth <= 0 {
		return nil, nil
	}

	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return Plain(val), nil
	case json.Number:
		return Plain(val.String()), nil
	case bool:
		return Plain(fmt.Sprint(val)), nil
	case []any:
		seq := make(Sequence, 0, len(val))
		for i, item := range val {
			c, err := build(item, depth)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			if c != nil {
				seq = append(seq, c)
			}
		}
		return seq, nil
	case map[string]any:
		return buildText(val, depth)
	default:
		return nil, fmt.Errorf("unexpected component type %T", v)
	}
}

func buildText(obj map[string]any, depth int) (*Text, error) {
	node := &Text{}

	if raw, ok := obj["text"]; ok {
		switch t := raw.(type) {
		case nil:
		case string:
			node.Text = &t
		case json.Number:
			s := t.String()
			node.Text = &s
		case bool:
			s := fmt.Sprint(t)
			node.Text = &s
		default:
			return nil, fmt.Errorf("text: unexpected type %T", raw)
		}
	}

	if color, ok := obj["color"].(string); ok {
		node.Color = color
	}
	node.Bold = present(obj, "bold")
	node.Underlined = present(obj, "underlined")

	if extra, ok := obj["extra"]; ok {
		child, err := build(extra, depth-1)
		if err != nil {
			return nil, fmt.Errorf("extra: %w", err)
		}
		node.Extra = child
	}

	return node, nil
}

// present reports whether key appears in obj at all; its value is not inspected.
func present(obj map[string]any, key string) bool {
	_, ok := obj[key]
	return ok
}

// Flatten concatenates the tree's text depth-first. The depth budget is
// decremented on every descent into "extra"; at zero nothing more is written.
func Flatten(c Component, depth int) string {
	var sb strings.Builder
	write(&sb, c, depth)
	return sb.String()
}

func write(sb *strings.Builder, c Component, depth int) {
	if depth <= 0 {
		return
	}

	switch node := c.(type) {
	case Plain:
		sb.WriteString(string(node))
	case Sequence:
		for _, child := range node {
			write(sb, child, depth)
		}
	case *Text:
		if node == nil {
			return
		}
		if node.Text != nil {
			if code, ok := colorCode(node.Color); ok {
				sb.WriteRune(escape)
				sb.WriteByte(code)
			}
			if node.Bold {
				sb.WriteString(bold)
			}
			if node.Underlined {
				sb.WriteString(underline)
			}
			sb.WriteString(*node.Text)
		}
		if node.Extra != nil {
			write(sb, node.Extra, depth-1)
		}
	}
}

// colorCode resolves a named color; hex colors and unknown names have no legacy code.
func colorCode(name string) (byte, bool) {
	if name == "" || strings.HasPrefix(name, "#") {
		return 0, false
	}
	code, ok := colorCodes[name]
	return code, ok
}

// Render parses a raw description and flattens it with the default depth.
func Render(raw json.RawMessage) (string, error) {
	c, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return Flatten(c, MaxDepth), nil
}

// Strip removes legacy formatting codes from s.
func Strip(s string) string {
	if !strings.ContainsRune(s, escape) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	skip := false
	for _, r := range s {
		switch {
		case skip:
			skip = false
		case r == escape:
			skip = true
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
