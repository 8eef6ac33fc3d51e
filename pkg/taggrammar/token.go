package taggrammar

import "strings"

// Token is one element of a tokenized description.
// Concrete types are TextRun, Tag and TagGroup.
type Token interface {
	// Offset is the byte offset of the token in the source.
	Offset() int
	// String renders the token back to source form.
	String() string

	token()
}

// TextRun is opaque, tag-free text.
type TextRun struct {
	Text string
	Pos  int
}

func (t TextRun) Offset() int    { return t.Pos }
func (t TextRun) String() string { return t.Text }
func (TextRun) token()           {}

// Tag is a single '@NAME' reference with an optional parenthesized parameter.
type Tag struct {
	Name     string // includes the leading '@'
	Param    string // raw text between the parentheses
	HasParam bool
	Args     []Tag // tags found inside Param, groups flattened
	Pos      int
}

func (t Tag) Offset() int { return t.Pos }

func (t Tag) String() string {
	if !t.HasParam {
		return t.Name
	}
	return t.Name + "(" + t.Param + ")"
}

func (Tag) token() {}

// Flatten returns the tag followed by every tag nested in its parameter.
func (t Tag) Flatten() []Tag {
	out := []Tag{t}
	for _, a := range t.Args {
		out = append(out, a.Flatten()...)
	}
	return out
}

// TagGroup is a pipe-separated "any of" group, optionally with a remap target.
// A single tag with a remap target is also a group.
type TagGroup struct {
	Tags  []Tag
	Remap *Tag
	Pos   int
}

func (g TagGroup) Offset() int { return g.Pos }

func (g TagGroup) String() string {
	parts := make([]string, len(g.Tags))
	for i, t := range g.Tags {
		parts[i] = t.String()
	}
	s := strings.Join(parts, "|")
	if g.Remap != nil {
		s += " → " + g.Remap.String()
	}
	return s
}

func (TagGroup) token() {}

// Members returns the group's tags and the remap target, if any.
func (g TagGroup) Members() []Tag {
	out := append([]Tag(nil), g.Tags...)
	if g.Remap != nil {
		out = append(out, *g.Remap)
	}
	return out
}
