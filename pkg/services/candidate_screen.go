package services

import (
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/sop-rules-engine/pkg/models"
	"github.com/ekaya-inc/sop-rules-engine/pkg/taggrammar"
)

// ScreenFinding describes a candidate field that looks like an injection payload.
type ScreenFinding struct {
	Field       string
	Kind        string // "sqli" or "xss"
	Fingerprint string
}

func (f *ScreenFinding) String() string {
	if f.Fingerprint != "" {
		return fmt.Sprintf("%s in %s (fingerprint %s)", f.Kind, f.Field, f.Fingerprint)
	}
	return fmt.Sprintf("%s in %s", f.Kind, f.Field)
}

// sqlScreenedFields are the short structured fields. Prose fields are only
// checked for markup since ordinary sentences trip the SQL fingerprinter.
var sqlScreenedFields = map[string]bool{
	"codes":          true,
	"payers":         true,
	"providers":      true,
	"code_group":     true,
	"codes_selected": true,
	"chart_section":  true,
}

// ScreenCandidate runs libinjection over every populated field of a raw
// candidate. Extracted text ends up in descriptions that are rendered and
// re-fed to prompts, so markup and SQL payloads are rejected at the boundary.
// Returns nil when the candidate is clean.
func ScreenCandidate(c *models.RawCandidate) *ScreenFinding {
	for _, field := range models.CandidateFieldNames {
		value := c.Field(field)
		if value == nil {
			continue
		}
		if f := screenValue(field, *value); f != nil {
			return f
		}
	}
	return nil
}

func screenValue(field, value string) *ScreenFinding {
	if hasMarkup(value) && libinjection.IsXSS(value) {
		return &ScreenFinding{Field: field, Kind: "xss"}
	}
	if !sqlScreenedFields[field] {
		return nil
	}
	stripped := stripTagText(value)
	if !strings.ContainsAny(stripped, `'";#`) && !strings.Contains(stripped, "--") && !strings.Contains(stripped, "/*") {
		return nil
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(stripped); isSQLi {
		return &ScreenFinding{Field: field, Kind: "sqli", Fingerprint: string(fingerprint)}
	}
	return nil
}

func hasMarkup(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<") || strings.Contains(lower, "javascript:")
}

// stripTagText keeps only the plain text runs of s.
func stripTagText(s string) string {
	var b strings.Builder
	for _, tok := range taggrammar.Tokenize(s) {
		if run, ok := tok.(taggrammar.TextRun); ok {
			b.WriteString(run.Text)
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
