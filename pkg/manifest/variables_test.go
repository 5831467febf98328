package manifest

import (
	"strings"
	"testing"
)

func intp(v int) *int { return &v }

func TestMergeVariables_DefaultOnlyOverrideInherits(t *testing.T) {
	t.Parallel()

	shared := map[string]VariableDef{
		"DB_PORT": {
			Label:   "Database port",
			Type:    TypePort,
			Default: "5432",
			Min:     intp(1024),
			Max:     intp(65535),
		},
	}
	overrides := map[string]VariableDef{
		"DB_PORT": {Default: "6543"},
	}

	merged := MergeVariables(shared, overrides)
	got := merged["DB_PORT"]
	if got.Default != "6543" {
		t.Fatalf("default = %q, want 6543", got.Default)
	}
	if got.Label != "Database port" || got.Type != TypePort {
		t.Fatalf("override should inherit label and type, got %+v", got)
	}
	if got.Min == nil || *got.Min != 1024 {
		t.Fatalf("override should inherit min, got %+v", got.Min)
	}
}

func TestMergeVariables_FullOverrideReplaces(t *testing.T) {
	t.Parallel()

	shared := map[string]VariableDef{
		"MODE": {Type: TypeSelect, Options: []SelectOption{{Label: "A", Value: "a"}}},
	}
	overrides := map[string]VariableDef{
		"MODE": {Type: TypeString, Default: "x"},
	}

	merged := MergeVariables(shared, overrides)
	if merged["MODE"].Type != TypeString {
		t.Fatalf("full override should replace the shared definition, got %+v", merged["MODE"])
	}
}

func TestResolveValues_Precedence(t *testing.T) {
	t.Parallel()

	defs := map[string]VariableDef{
		"A": {Default: "shared-a"},
		"B": {Default: "shared-b"},
		"C": {},
	}
	values := ResolveValues(defs, map[string]string{"A": "user-a"})

	if values["A"] != "user-a" {
		t.Fatalf("user input should win, got %q", values["A"])
	}
	if values["B"] != "shared-b" {
		t.Fatalf("default should apply, got %q", values["B"])
	}
	if values["C"] != "" {
		t.Fatalf("unset variable should resolve to empty string, got %q", values["C"])
	}
}

func TestValidateDefs_AggregatesAllIssues(t *testing.T) {
	t.Parallel()

	defs := map[string]VariableDef{
		"BAD_PATTERN": {Type: TypeString, Pattern: "["},
		"NO_OPTIONS":  {Type: TypeSelect},
		"BAD_RANGE":   {Type: TypeNumber, Min: intp(10), Max: intp(1)},
	}

	err := ValidateDefs(defs)
	if err == nil {
		t.Fatal("expected validation error")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Issues) != 3 {
		t.Fatalf("expected 3 aggregated issues, got %d: %v", len(verr.Issues), verr.Issues)
	}
}

func TestValidateValues(t *testing.T) {
	t.Parallel()

	defs := map[string]VariableDef{
		"NAME":  {Type: TypeString, Required: true, Pattern: "^[a-z]+$", PatternError: "lowercase letters only"},
		"PORT":  {Type: TypePort, Min: intp(1024)},
		"COUNT": {Type: TypeNumber, Max: intp(10)},
		"MODE":  {Type: TypeSelect, Options: []SelectOption{{Value: "on"}, {Value: "off"}}},
		"MAIL":  {Type: TypeEmail},
		"SITE":  {Type: TypeURL},
		"FLAG":  {Type: TypeBoolean},
	}

	cases := []struct {
		name    string
		values  map[string]string
		wantErr string
	}{
		{"all valid", map[string]string{"NAME": "abc", "PORT": "8080", "COUNT": "3", "MODE": "on", "MAIL": "a@b.example", "SITE": "https://example.com", "FLAG": "true"}, ""},
		{"missing required", map[string]string{}, "value is required"},
		{"pattern error message", map[string]string{"NAME": "ABC"}, "lowercase letters only"},
		{"port below min", map[string]string{"NAME": "abc", "PORT": "80"}, "below minimum"},
		{"port out of range", map[string]string{"NAME": "abc", "PORT": "70000"}, "not a valid port"},
		{"number above max", map[string]string{"NAME": "abc", "COUNT": "11"}, "above maximum"},
		{"bad select", map[string]string{"NAME": "abc", "MODE": "maybe"}, "not one of the declared options"},
		{"bad email", map[string]string{"NAME": "abc", "MAIL": "nope"}, "not a valid email"},
		{"bad url", map[string]string{"NAME": "abc", "SITE": "not a url"}, "not a valid URL"},
		{"bad boolean", map[string]string{"NAME": "abc", "FLAG": "yep"}, "not a boolean"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateValues(defs, ResolveValues(defs, tc.values))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestSubstitute(t *testing.T) {
	t.Parallel()

	values := map[string]string{"TAG": "1.2", "HOST": "db"}

	cases := []struct {
		in   string
		want string
	}{
		{"postgres:${TAG}", "postgres:1.2"},
		{"${HOST}:5432", "db:5432"},
		{"${MISSING:-fallback}", "fallback"},
		{"${MISSING}", ""},
		{"plain", "plain"},
	}
	for _, tc := range cases {
		got, err := Substitute(tc.in, values)
		if err != nil {
			t.Fatalf("Substitute(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Substitute(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
