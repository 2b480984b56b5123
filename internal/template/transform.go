// Package template projects a Lead into a per-buyer PING/POST payload,
// grounded on the field-mapping shape of each per-network adapter's
// convertToXRequest in the teacher's bidders package — generalized from one
// Go struct per network into data-driven FieldMappings, since buyers here
// are configuration rows, not compile-time adapters.
package template

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/rivalapex/leadauction/internal/domain"
)

// Project builds the wire payload for buyer from lead using template. When
// includeCompliance is set, it additionally emits trustedFormCertUrl,
// jornayaLeadId, and tcpaConsent (§4.2).
func Project(lead domain.Lead, tpl domain.Template, includeCompliance bool) map[string]interface{} {
	out := make(map[string]interface{}, len(tpl.FieldMappings)+3)

	for _, fm := range tpl.FieldMappings {
		value, ok := sourceValue(lead, fm.SourceField)
		rendered := render(value, ok, fm)
		out[fm.TargetField] = rendered
	}

	if includeCompliance {
		out["trustedFormCertUrl"] = lead.TrustedFormCertID
		out["jornayaLeadId"] = lead.JornayaLeadID
		out["tcpaConsent"] = booleanYesNo(lead.TCPAConsent)
	}

	return out
}

// sourceValue resolves a field name against the lead's well-known
// attributes first, then its free-form FormData.
func sourceValue(lead domain.Lead, field string) (interface{}, bool) {
	switch field {
	case "leadId":
		return lead.LeadID, true
	case "serviceTypeId":
		return lead.ServiceTypeID, true
	case "zipCode":
		return lead.ZipCode, true
	case "ownsHome":
		return lead.OwnsHome, true
	case "timeframe":
		return lead.Timeframe, true
	}
	v, ok := lead.FormData[field]
	return v, ok
}

func render(value interface{}, ok bool, fm domain.FieldMapping) interface{} {
	s := toString(value, ok)

	if fm.ValueMap != nil {
		if mapped, found := fm.ValueMap[s]; found {
			s = mapped
		}
	}

	for _, t := range fm.Transforms {
		s = applyTransform(t, s, fm, value, ok)
	}

	if s == "" && !ok && fm.DefaultValue != "" {
		return fm.DefaultValue
	}
	return s
}

func toString(value interface{}, ok bool) string {
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func applyTransform(t domain.Transform, s string, fm domain.FieldMapping, raw interface{}, ok bool) string {
	switch t {
	case domain.TransformDigitsOnly:
		return digitsOnly(s)
	case domain.TransformBooleanYesNo:
		if b, isBool := raw.(bool); isBool {
			return booleanYesNo(b)
		}
		return booleanYesNo(s == "true" || s == "yes" || s == "1")
	case domain.TransformUpperCase:
		return strings.ToUpper(s)
	case domain.TransformLowerCase:
		return strings.ToLower(s)
	case domain.TransformTitleCase:
		return titleCase(s)
	case domain.TransformTrim:
		return strings.TrimSpace(s)
	case domain.TransformTruncate:
		if fm.TruncateLen > 0 && len(s) > fm.TruncateLen {
			return s[:fm.TruncateLen]
		}
		return s
	case domain.TransformDefaultIfEmpty:
		if s == "" {
			return fm.DefaultValue
		}
		return s
	default:
		return s
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func booleanYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// titleCase converts camelCase or snake_case keys into "Title Case", for
// the titleCase transform.
func titleCase(s string) string {
	words := splitWords(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// splitWords breaks camelCase/snake_case/space-separated input into words.
func splitWords(s string) []string {
	s = strings.ReplaceAll(s, "_", " ")
	var words []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if r == ' ' {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			continue
		}
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}
