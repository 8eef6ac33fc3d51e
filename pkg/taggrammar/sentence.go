package taggrammar

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
)

// Literal connectives of the description sentence.
const (
	connFor         = "For "
	connPayers      = " payers "
	connWhen        = " when "
	connThe         = "; the "
	connMustInclude = " must include "
)

// Sentence is the parsed form of a rule description.
type Sentence struct {
	Payers       []string // payer tags, "any of"
	Actions      []string // action tags without parameters
	Codes        []string // codes or code-group tags inside the action parentheses
	Remap        string   // optional '→' target after the action
	Trigger      string
	ChartSection string
	Phrase       string // required text, without quotes
}

// SyntaxError reports a description that does not have the fixed shape.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("description syntax error at offset %d: %s", e.Offset, e.Msg)
}

// Parse reads a description sentence. Case and if/then checks are left to
// Validate so that slightly off-style sentences still yield their tags.
func Parse(description string) (*Sentence, error) {
	s := strings.TrimSpace(description)
	if !strings.HasPrefix(s, connFor) {
		return nil, &SyntaxError{Offset: 0, Msg: `must start with "For"`}
	}
	if !strings.HasSuffix(s, ".") {
		return nil, &SyntaxError{Offset: len(s), Msg: "must end with a period"}
	}

	offset := len(connFor)
	rest := s[offset : len(s)-1]

	payersPart, rest, n, err := cut(rest, connPayers, offset)
	if err != nil {
		return nil, err
	}
	payers, err := parseGroup(payersPart, offset)
	if err != nil {
		return nil, err
	}
	offset = n

	actionPart, rest, n, err := cut(rest, connWhen, offset)
	if err != nil {
		return nil, err
	}
	sentence := &Sentence{Payers: tagStrings(payers.Tags)}
	if err := sentence.readAction(actionPart, offset); err != nil {
		return nil, err
	}
	offset = n

	trigger, rest, n, err := cut(rest, connThe, offset)
	if err != nil {
		return nil, err
	}
	sentence.Trigger = strings.TrimSpace(trigger)
	if sentence.Trigger == "" {
		return nil, &SyntaxError{Offset: offset, Msg: "empty trigger"}
	}
	offset = n

	section, rest, n, err := cut(rest, connMustInclude, offset)
	if err != nil {
		return nil, err
	}
	sentence.ChartSection = strings.TrimSpace(section)
	if !isSectionName(sentence.ChartSection) {
		return nil, &SyntaxError{Offset: offset, Msg: fmt.Sprintf("chart section %q is not a NAME or tag", sentence.ChartSection)}
	}
	offset = n

	quoted := strings.TrimSpace(rest)
	if len(quoted) < 2 || quoted[0] != '"' || quoted[len(quoted)-1] != '"' {
		return nil, &SyntaxError{Offset: offset, Msg: `"must include" must be followed by a quoted phrase`}
	}
	sentence.Phrase = quoted[1 : len(quoted)-1]
	if strings.Contains(sentence.Phrase, `"`) {
		return nil, &SyntaxError{Offset: offset, Msg: "quoted phrase contains a quote"}
	}
	return sentence, nil
}

// cut splits s at the first sep. offset is the position of s in the source;
// the returned int is the position just after sep.
func cut(s, sep string, offset int) (string, string, int, error) {
	i := strings.Index(s, sep)
	if i < 0 {
		return "", "", offset, &SyntaxError{Offset: offset, Msg: fmt.Sprintf("missing %q", strings.TrimSpace(sep))}
	}
	return s[:i], s[i+len(sep):], offset + i + len(sep), nil
}

// parseGroup requires part to be exactly one tag or tag group.
func parseGroup(part string, offset int) (TagGroup, error) {
	var group *TagGroup
	for _, tok := range Tokenize(part) {
		switch t := tok.(type) {
		case TextRun:
			if strings.TrimSpace(t.Text) != "" {
				return TagGroup{}, &SyntaxError{Offset: offset + t.Pos, Msg: fmt.Sprintf("unexpected text %q", strings.TrimSpace(t.Text))}
			}
		case Tag:
			if group != nil {
				return TagGroup{}, &SyntaxError{Offset: offset + t.Pos, Msg: "expected a single tag group"}
			}
			group = &TagGroup{Tags: []Tag{t}, Pos: t.Pos}
		case TagGroup:
			if group != nil {
				return TagGroup{}, &SyntaxError{Offset: offset + t.Pos, Msg: "expected a single tag group"}
			}
			g := t
			group = &g
		}
	}
	if group == nil {
		return TagGroup{}, &SyntaxError{Offset: offset, Msg: "expected a tag"}
	}
	return *group, nil
}

func (s *Sentence) readAction(part string, offset int) error {
	group, err := parseGroup(part, offset)
	if err != nil {
		return err
	}
	var withParam *Tag
	for i := range group.Tags {
		t := group.Tags[i]
		s.Actions = append(s.Actions, t.Name)
		if t.HasParam {
			withParam = &group.Tags[i]
		}
	}
	if withParam == nil {
		return &SyntaxError{Offset: offset, Msg: "action must carry a parenthesized code group"}
	}
	if len(withParam.Args) > 0 {
		s.Codes = tagStrings(withParam.Args)
	} else {
		for _, c := range strings.Split(withParam.Param, "|") {
			if c = strings.TrimSpace(c); c != "" {
				s.Codes = append(s.Codes, c)
			}
		}
	}
	if len(s.Codes) == 0 {
		return &SyntaxError{Offset: offset, Msg: "empty code group"}
	}
	if group.Remap != nil {
		s.Remap = group.Remap.String()
	}
	return nil
}

func tagStrings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

func isSectionName(s string) bool {
	if IsTag(s) {
		return true
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isNameByte(s[i]) {
			return false
		}
	}
	return true
}

// Format renders a sentence in the canonical shape. Parse(Format(s)) returns s.
func Format(s *Sentence) string {
	var b strings.Builder
	b.WriteString(connFor)
	b.WriteString(strings.Join(s.Payers, "|"))
	b.WriteString(connPayers)
	b.WriteString(strings.Join(s.Actions, "|"))
	b.WriteString("(")
	b.WriteString(strings.Join(s.Codes, "|"))
	b.WriteString(")")
	if s.Remap != "" {
		b.WriteString(" " + remapArrow + " ")
		b.WriteString(s.Remap)
	}
	b.WriteString(connWhen)
	b.WriteString(s.Trigger)
	b.WriteString(connThe)
	b.WriteString(s.ChartSection)
	b.WriteString(connMustInclude)
	b.WriteString(`"`)
	b.WriteString(s.Phrase)
	b.WriteString(`".`)
	return b.String()
}

// Roles maps each tag in the sentence to the category implied by its position.
func (s *Sentence) Roles() map[string]models.TagType {
	roles := make(map[string]models.TagType)
	for _, p := range s.Payers {
		roles[p] = models.TagTypePayerGroup
	}
	for _, a := range s.Actions {
		roles[a] = models.TagTypeAction
	}
	for _, c := range s.Codes {
		if strings.HasPrefix(c, "@") {
			roles[c] = models.TagTypeCodeGroup
		}
	}
	if strings.HasPrefix(s.ChartSection, "@") {
		roles[s.ChartSection] = models.TagTypeChartSection
	}
	return roles
}

// Issue is one style problem found by Validate.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Issue codes.
const (
	IssueStructure      = "structure"
	IssueMultiSentence  = "multiple_sentences"
	IssueTriggerCase    = "trigger_case"
	IssueIfThen         = "if_then"
	IssueEmptyPhrase    = "empty_phrase"
	IssueUnbalancedTags = "unbalanced_parentheses"
)

// Validate checks a description against every sentence rule and returns the
// problems found. An empty result means the description is well formed.
func Validate(description string) []Issue {
	var issues []Issue
	if strings.Count(description, "(") != strings.Count(description, ")") {
		issues = append(issues, Issue{Code: IssueUnbalancedTags, Message: "parentheses are not balanced"})
	}

	sentence, err := Parse(description)
	if err != nil {
		return append(issues, Issue{Code: IssueStructure, Message: err.Error()})
	}

	body := stripQuoted(strings.TrimSuffix(strings.TrimSpace(description), "."))
	for _, term := range []string{". ", "? ", "! "} {
		if strings.Contains(body, term) {
			issues = append(issues, Issue{Code: IssueMultiSentence, Message: "description must be exactly one sentence"})
			break
		}
	}

	trigger := stripTags(stripQuoted(sentence.Trigger))
	if trigger != strings.ToLower(trigger) {
		issues = append(issues, Issue{Code: IssueTriggerCase, Message: "trigger text must be lower case outside quoted phrases"})
	}

	if hasIfThen(body) {
		issues = append(issues, Issue{Code: IssueIfThen, Message: `"if ... then" is not allowed; use "when"`})
	}

	if strings.TrimSpace(sentence.Phrase) == "" {
		issues = append(issues, Issue{Code: IssueEmptyPhrase, Message: "quoted phrase is empty"})
	}
	return issues
}

func stripQuoted(s string) string {
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			inQuote = !inQuote
			continue
		}
		if !inQuote {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func stripTags(s string) string {
	var b strings.Builder
	for _, tok := range Tokenize(s) {
		if t, ok := tok.(TextRun); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func hasIfThen(s string) bool {
	sawIf := false
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		switch w {
		case "if":
			sawIf = true
		case "then":
			if sawIf {
				return true
			}
		}
	}
	return false
}
