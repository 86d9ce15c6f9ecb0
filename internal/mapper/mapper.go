// Package mapper translates a lead's attributes into the payload shape a
// partner expects, driven by the partner's declarative field mapping.
package mapper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"LeadRelay/internal/models"
)

type RuleType string

const (
	RuleField    RuleType = "field"
	RuleConstant RuleType = "constant"
)

// Rule is the canonical form of one mapping entry. Partner configurations
// come in two shapes (a legacy flat object and a typed array); ParseRules
// normalizes both into this one representation so nothing downstream has to
// sniff shapes at runtime.
type Rule struct {
	Type          RuleType `json:"type"`
	LocalField    string   `json:"localField,omitempty"`
	ConstantValue string   `json:"constantValue,omitempty"`
	PartnerField  string   `json:"partnerField"`
}

type typedRule struct {
	Type          string `json:"type"`
	LocalField    string `json:"localField"`
	ConstantValue string `json:"constantValue"`
	PartnerField  string `json:"partnerField"`
}

// ParseRules decodes a raw field-mapping document. Accepted shapes:
//
//	{"email": "contact[email]", "firstName": "fname"}            (legacy)
//	[{"type":"field","localField":"email","partnerField":"..."},
//	 {"type":"constant","constantValue":"x","partnerField":"..."}]
//
// Legacy entries are emitted in stable (sorted) key order so the resulting
// rule list is deterministic.
func ParseRules(raw []byte) ([]Rule, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var typed []typedRule
		if err := json.Unmarshal(raw, &typed); err != nil {
			return nil, fmt.Errorf("parse field mapping: %w", err)
		}
		rules := make([]Rule, 0, len(typed))
		for i, tr := range typed {
			switch RuleType(tr.Type) {
			case RuleField:
				if tr.LocalField == "" || tr.PartnerField == "" {
					return nil, fmt.Errorf("field mapping rule %d: localField and partnerField are required", i)
				}
				rules = append(rules, Rule{Type: RuleField, LocalField: tr.LocalField, PartnerField: tr.PartnerField})
			case RuleConstant:
				if tr.PartnerField == "" {
					return nil, fmt.Errorf("field mapping rule %d: partnerField is required", i)
				}
				rules = append(rules, Rule{Type: RuleConstant, ConstantValue: tr.ConstantValue, PartnerField: tr.PartnerField})
			default:
				return nil, fmt.Errorf("field mapping rule %d: unknown type %q", i, tr.Type)
			}
		}
		return rules, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("parse field mapping: %w", err)
	}
	locals := make([]string, 0, len(flat))
	for local := range flat {
		locals = append(locals, local)
	}
	sort.Strings(locals)

	rules := make([]Rule, 0, len(flat))
	for _, local := range locals {
		rules = append(rules, Rule{Type: RuleField, LocalField: local, PartnerField: flat[local]})
	}
	return rules, nil
}

// Map builds the partner payload for a lead. Rules apply in order; a field
// rule whose resolved value is nil or an empty string is omitted rather than
// sent as empty. The destination supports one level of nesting via
// "parent[child]" or "parent.child".
func Map(lead *models.Lead, rules []Rule) map[string]any {
	payload := make(map[string]any, len(rules))

	for _, r := range rules {
		var value any
		switch r.Type {
		case RuleConstant:
			value = r.ConstantValue
		case RuleField:
			value = lead.Field(r.LocalField)
		default:
			continue
		}

		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && s == "" {
			continue
		}

		setField(payload, r.PartnerField, value)
	}

	return payload
}

func setField(payload map[string]any, dest string, value any) {
	parent, child, ok := splitNested(dest)
	if !ok {
		payload[dest] = value
		return
	}

	nested, _ := payload[parent].(map[string]any)
	if nested == nil {
		nested = make(map[string]any)
		payload[parent] = nested
	}
	nested[child] = value
}

// splitNested recognizes the two nested-destination notations,
// "parent[child]" and "parent.child".
func splitNested(dest string) (parent, child string, ok bool) {
	if open := strings.Index(dest, "["); open > 0 && strings.HasSuffix(dest, "]") {
		child = dest[open+1 : len(dest)-1]
		if child != "" && !strings.ContainsAny(child, "[]") {
			return dest[:open], child, true
		}
		return "", "", false
	}

	if dot := strings.Index(dest, "."); dot > 0 && dot < len(dest)-1 {
		parent, child = dest[:dot], dest[dot+1:]
		if !strings.Contains(child, ".") {
			return parent, child, true
		}
	}
	return "", "", false
}
