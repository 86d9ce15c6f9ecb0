package mapper

import (
	"reflect"
	"testing"

	"LeadRelay/internal/models"
)

func TestParseRules(t *testing.T) {
	t.Run("typed array is parsed in order", func(t *testing.T) {
		raw := []byte(`[
			{"type":"field","localField":"email","partnerField":"contact.email"},
			{"type":"constant","constantValue":"web","partnerField":"channel"}
		]`)

		rules, err := ParseRules(raw)
		if err != nil {
			t.Fatalf("ParseRules: %v", err)
		}
		want := []Rule{
			{Type: RuleField, LocalField: "email", PartnerField: "contact.email"},
			{Type: RuleConstant, ConstantValue: "web", PartnerField: "channel"},
		}
		if !reflect.DeepEqual(rules, want) {
			t.Fatalf("rules = %+v, want %+v", rules, want)
		}
	})

	t.Run("legacy flat object becomes field rules in sorted order", func(t *testing.T) {
		raw := []byte(`{"phone":"profile[phone]","email":"email"}`)

		rules, err := ParseRules(raw)
		if err != nil {
			t.Fatalf("ParseRules: %v", err)
		}
		want := []Rule{
			{Type: RuleField, LocalField: "email", PartnerField: "email"},
			{Type: RuleField, LocalField: "phone", PartnerField: "profile[phone]"},
		}
		if !reflect.DeepEqual(rules, want) {
			t.Fatalf("rules = %+v, want %+v", rules, want)
		}
	})

	t.Run("empty mapping yields no rules", func(t *testing.T) {
		rules, err := ParseRules([]byte("  "))
		if err != nil {
			t.Fatalf("ParseRules: %v", err)
		}
		if len(rules) != 0 {
			t.Fatalf("expected no rules, got %+v", rules)
		}
	})

	t.Run("unknown rule type is rejected", func(t *testing.T) {
		if _, err := ParseRules([]byte(`[{"type":"magic","partnerField":"x"}]`)); err == nil {
			t.Fatal("expected error for unknown rule type")
		}
	})

	t.Run("field rule without localField is rejected", func(t *testing.T) {
		if _, err := ParseRules([]byte(`[{"type":"field","partnerField":"x"}]`)); err == nil {
			t.Fatal("expected error for missing localField")
		}
	})
}

func TestMap(t *testing.T) {
	lead := &models.Lead{
		ID:        "lead-1",
		FirstName: "Ann",
		Email:     "a@x.com",
		Phone:     "+1",
		FormData: map[string]any{
			"utmSource": "google",
			"age":       float64(30),
		},
	}

	t.Run("direct fields and formData fallback", func(t *testing.T) {
		rules := []Rule{
			{Type: RuleField, LocalField: "email", PartnerField: "email"},
			{Type: RuleField, LocalField: "utmSource", PartnerField: "source"},
			{Type: RuleField, LocalField: "age", PartnerField: "age"},
		}
		got := Map(lead, rules)
		want := map[string]any{
			"email":  "a@x.com",
			"source": "google",
			"age":    float64(30),
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("payload = %+v, want %+v", got, want)
		}
	})

	t.Run("empty and missing values are omitted", func(t *testing.T) {
		rules := []Rule{
			{Type: RuleField, LocalField: "lastName", PartnerField: "lname"},
			{Type: RuleField, LocalField: "noSuchField", PartnerField: "mystery"},
			{Type: RuleField, LocalField: "firstName", PartnerField: "fname"},
		}
		got := Map(lead, rules)
		want := map[string]any{"fname": "Ann"}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("payload = %+v, want %+v", got, want)
		}
	})

	t.Run("constant rules always apply", func(t *testing.T) {
		rules := []Rule{
			{Type: RuleConstant, ConstantValue: "landing-7", PartnerField: "campaign"},
		}
		got := Map(lead, rules)
		if got["campaign"] != "landing-7" {
			t.Fatalf("campaign = %v, want landing-7", got["campaign"])
		}
	})

	t.Run("nested destinations via brackets and dots", func(t *testing.T) {
		rules := []Rule{
			{Type: RuleField, LocalField: "phone", PartnerField: "profile[phone]"},
			{Type: RuleField, LocalField: "email", PartnerField: "profile.email"},
		}
		got := Map(lead, rules)
		want := map[string]any{
			"profile": map[string]any{
				"phone": "+1",
				"email": "a@x.com",
			},
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("payload = %+v, want %+v", got, want)
		}
	})

	t.Run("mapping is deterministic", func(t *testing.T) {
		rules, err := ParseRules([]byte(`{"email":"contact[email]","firstName":"fname","phone":"phone"}`))
		if err != nil {
			t.Fatalf("ParseRules: %v", err)
		}
		first := Map(lead, rules)
		second := Map(lead, rules)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("repeated mapping differs: %+v vs %+v", first, second)
		}
	})
}

func TestSplitNested(t *testing.T) {
	cases := []struct {
		dest   string
		parent string
		child  string
		ok     bool
	}{
		{"profile[phone]", "profile", "phone", true},
		{"contact.email", "contact", "email", true},
		{"plain", "", "", false},
		{"[orphan]", "", "", false},
		{"a.b.c", "", "", false},
		{"trailing.", "", "", false},
		{"empty[]", "", "", false},
	}

	for _, tc := range cases {
		parent, child, ok := splitNested(tc.dest)
		if parent != tc.parent || child != tc.child || ok != tc.ok {
			t.Errorf("splitNested(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.dest, parent, child, ok, tc.parent, tc.child, tc.ok)
		}
	}
}
