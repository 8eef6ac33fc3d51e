package taggrammar

import "strings"

const remapArrow = "→"

// Tokenize splits s into text runs, tags and tag groups.
func Tokenize(s string) []Token {
	sc := &scanner{src: s}
	return sc.run()
}

type scanner struct {
	src    string
	tokens []Token
}

func (sc *scanner) run() []Token {
	textStart := 0
	pos := 0
	for pos < len(sc.src) {
		if sc.src[pos] != '@' {
			pos++
			continue
		}
		tok, end, ok := sc.scanGroup(pos)
		if !ok {
			pos++
			continue
		}
		if pos > textStart {
			sc.tokens = append(sc.tokens, TextRun{Text: sc.src[textStart:pos], Pos: textStart})
		}
		sc.tokens = append(sc.tokens, tok)
		pos = end
		textStart = end
	}
	if textStart < len(sc.src) {
		sc.tokens = append(sc.tokens, TextRun{Text: sc.src[textStart:], Pos: textStart})
	}
	return sc.tokens
}

// scanGroup reads a tag and any '|' continuation and '→' remap that follow it.
// A lone tag is returned as a Tag token.
func (sc *scanner) scanGroup(start int) (Token, int, bool) {
	first, end, ok := sc.scanTag(start)
	if !ok {
		return nil, start, false
	}
	tags := []Tag{first}

	for {
		k := sc.skipSpaces(end)
		if k >= len(sc.src) || sc.src[k] != '|' {
			break
		}
		m := sc.skipSpaces(k + 1)
		next, nextEnd, ok := sc.scanTag(m)
		if !ok {
			break
		}
		tags = append(tags, next)
		end = nextEnd
	}

	var remap *Tag
	if k := sc.skipSpaces(end); strings.HasPrefix(sc.src[k:], remapArrow) {
		m := sc.skipSpaces(k + len(remapArrow))
		if target, targetEnd, ok := sc.scanTag(m); ok {
			remap = &target
			end = targetEnd
		}
	}

	if len(tags) == 1 && remap == nil {
		return first, end, true
	}
	return TagGroup{Tags: tags, Remap: remap, Pos: start}, end, true
}

// scanTag reads '@' NAME and, when the parentheses balance, '(' PARAM ')'.
func (sc *scanner) scanTag(start int) (Tag, int, bool) {
	if start >= len(sc.src) || sc.src[start] != '@' {
		return Tag{}, start, false
	}
	j := start + 1
	for j < len(sc.src) && isNameByte(sc.src[j]) {
		j++
	}
	if j == start+1 {
		return Tag{}, start, false
	}

	tag := Tag{Name: sc.src[start:j], Pos: start}
	if j < len(sc.src) && sc.src[j] == '(' {
		if closeIdx := matchParen(sc.src, j); closeIdx > 0 {
			tag.HasParam = true
			tag.Param = sc.src[j+1 : closeIdx]
			tag.Args = collectTags(Tokenize(tag.Param))
			return tag, closeIdx + 1, true
		}
	}
	return tag, j, true
}

func (sc *scanner) skipSpaces(i int) int {
	for i < len(sc.src) && (sc.src[i] == ' ' || sc.src[i] == '\t') {
		i++
	}
	return i
}

// matchParen returns the index of the ')' closing the '(' at open, or -1.
func matchParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isNameByte(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}

// collectTags returns every top-level tag in tokens with groups expanded.
// Nested parameter tags stay in Args.
func collectTags(tokens []Token) []Tag {
	var out []Tag
	for _, tok := range tokens {
		switch t := tok.(type) {
		case Tag:
			out = append(out, t)
		case TagGroup:
			out = append(out, t.Members()...)
		}
	}
	return out
}

// ExtractTags returns every distinct tag referenced in s, in order of first
// appearance. Pipe groups are expanded and parameterized tags contribute both
// themselves and the tags inside their parameter.
func ExtractTags(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, top := range collectTags(Tokenize(s)) {
		for _, t := range top.Flatten() {
			key := t.String()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

// BaseName strips the parameter from a tag string: "@ADD(@25)" becomes "@ADD".
func BaseName(tag string) string {
	if i := strings.IndexByte(tag, '('); i > 0 {
		return tag[:i]
	}
	return tag
}

// IsTag reports whether s is exactly one tag with nothing around it.
func IsTag(s string) bool {
	tokens := Tokenize(s)
	if len(tokens) != 1 {
		return false
	}
	_, ok := tokens[0].(Tag)
	return ok
}
