// File: pkg/manifest/variables.go
// Brief: Typed variable definitions, constraint validation, and value resolution.

package manifest

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/template"
)

// VariableType enumerates the input types a manifest variable can declare.
type VariableType string

const (
	TypeString    VariableType = "string"
	TypeNumber    VariableType = "number"
	TypeBoolean   VariableType = "boolean"
	TypeSelect    VariableType = "select"
	TypePassword  VariableType = "password"
	TypePort      VariableType = "port"
	TypeURL       VariableType = "url"
	TypeEmail     VariableType = "email"
	TypePath      VariableType = "path"
	TypeMultiLine VariableType = "multiline"

	// Database connection string subtypes. They validate like strings but
	// carry enough type information for the UI and the SQL observers to
	// pick a driver.
	TypeConnMSSQL    VariableType = "connection.mssql"
	TypeConnMySQL    VariableType = "connection.mysql"
	TypeConnPostgres VariableType = "connection.postgres"
	TypeConnOracle   VariableType = "connection.oracle"
	TypeConnMongo    VariableType = "connection.mongodb"
)

var knownVariableTypes = map[VariableType]struct{}{
	TypeString: {}, TypeNumber: {}, TypeBoolean: {}, TypeSelect: {},
	TypePassword: {}, TypePort: {}, TypeURL: {}, TypeEmail: {},
	TypePath: {}, TypeMultiLine: {},
	TypeConnMSSQL: {}, TypeConnMySQL: {}, TypeConnPostgres: {},
	TypeConnOracle: {}, TypeConnMongo: {},
}

// IsConnectionString reports whether t is one of the database connection subtypes.
func (t VariableType) IsConnectionString() bool {
	return strings.HasPrefix(string(t), "connection.")
}

// SelectOption is one choice of a select variable.
type SelectOption struct {
	Label string `yaml:"label"`
	Value string `yaml:"value"`
}

// VariableDef declares one typed, optionally constrained manifest variable.
type VariableDef struct {
	Label        string         `yaml:"label,omitempty"`
	Type         VariableType   `yaml:"type,omitempty"`
	Default      string         `yaml:"default,omitempty"`
	Required     bool           `yaml:"required,omitempty"`
	Pattern      string         `yaml:"pattern,omitempty"`
	PatternError string         `yaml:"patternError,omitempty"`
	Min          *int           `yaml:"min,omitempty"`
	Max          *int           `yaml:"max,omitempty"`
	Options      []SelectOption `yaml:"options,omitempty"`

	// UI hints only; not behavior-bearing.
	Group string `yaml:"group,omitempty"`
	Order int    `yaml:"order,omitempty"`
}

func (d VariableDef) effectiveType() VariableType {
	if d.Type == "" {
		return TypeString
	}
	return d.Type
}

// ValidateDefs checks every definition's structural constraints and returns a
// ValidationError aggregating all problems, so the caller sees every issue at once.
func ValidateDefs(defs map[string]VariableDef) error {
	verr := &ValidationError{}
	for name, def := range defs {
		typ := def.effectiveType()
		if _, ok := knownVariableTypes[typ]; !ok {
			verr.Addf("variable %s: unknown type %q", name, def.Type)
		}
		if def.Pattern != "" {
			if typ != TypeString && typ != TypePassword {
				verr.Addf("variable %s: pattern is only valid for string variables", name)
			} else if _, err := regexp.Compile(def.Pattern); err != nil {
				verr.Addf("variable %s: pattern does not compile: %v", name, err)
			}
		}
		if def.Min != nil || def.Max != nil {
			if typ != TypeNumber && typ != TypePort {
				verr.Addf("variable %s: min/max are only valid for number and port variables", name)
			} else if def.Min != nil && def.Max != nil && *def.Min > *def.Max {
				verr.Addf("variable %s: min %d exceeds max %d", name, *def.Min, *def.Max)
			}
		}
		if typ == TypeSelect && len(def.Options) == 0 {
			verr.Addf("variable %s: select variable declares no options", name)
		}
		if typ != TypeSelect && len(def.Options) > 0 {
			verr.Addf("variable %s: options are only valid for select variables", name)
		}
	}
	return verr.OrNil()
}

// MergeVariables layers stack-level overrides over shared definitions. An
// override with only a default set inherits every other property (label, type,
// options, pattern) from the shared definition of the same name.
func MergeVariables(shared, overrides map[string]VariableDef) map[string]VariableDef {
	out := make(map[string]VariableDef, len(shared)+len(overrides))
	for name, def := range shared {
		out[name] = def
	}
	for name, ov := range overrides {
		base, ok := out[name]
		if ok && onlyDefaultSet(ov) {
			base.Default = ov.Default
			out[name] = base
			continue
		}
		out[name] = ov
	}
	return out
}

func onlyDefaultSet(d VariableDef) bool {
	return d.Label == "" && d.Type == "" && !d.Required &&
		d.Pattern == "" && d.PatternError == "" &&
		d.Min == nil && d.Max == nil && len(d.Options) == 0
}

// ResolveValues merges user input over definition defaults. Precedence,
// highest first: explicit user input, definition default, empty string.
// Resolution never fails; constraint checking is a separate explicit step.
func ResolveValues(defs map[string]VariableDef, input map[string]string) map[string]string {
	values := make(map[string]string, len(defs))
	for name, def := range defs {
		values[name] = def.Default
	}
	for name, val := range input {
		values[name] = val
	}
	return values
}

// ValidateValues checks resolved values against their definitions and returns
// a ValidationError aggregating every violation.
func ValidateValues(defs map[string]VariableDef, values map[string]string) error {
	verr := &ValidationError{}
	for name, def := range defs {
		val := values[name]
		if val == "" {
			if def.Required {
				verr.Addf("variable %s: value is required", name)
			}
			continue
		}
		switch def.effectiveType() {
		case TypeString, TypePassword:
			if def.Pattern != "" {
				re, err := regexp.Compile(def.Pattern)
				if err != nil {
					verr.Addf("variable %s: pattern does not compile: %v", name, err)
					continue
				}
				if !re.MatchString(val) {
					msg := def.PatternError
					if msg == "" {
						msg = fmt.Sprintf("value does not match pattern %s", def.Pattern)
					}
					verr.Addf("variable %s: %s", name, msg)
				}
			}
		case TypeNumber:
			n, err := strconv.Atoi(val)
			if err != nil {
				verr.Addf("variable %s: %q is not a number", name, val)
				continue
			}
			checkRange(verr, name, n, def.Min, def.Max)
		case TypePort:
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 65535 {
				verr.Addf("variable %s: %q is not a valid port", name, val)
				continue
			}
			checkRange(verr, name, n, def.Min, def.Max)
		case TypeBoolean:
			if _, err := strconv.ParseBool(val); err != nil {
				verr.Addf("variable %s: %q is not a boolean", name, val)
			}
		case TypeSelect:
			if !selectHasValue(def.Options, val) {
				verr.Addf("variable %s: %q is not one of the declared options", name, val)
			}
		case TypeURL:
			u, err := url.Parse(val)
			if err != nil || u.Scheme == "" || u.Host == "" {
				verr.Addf("variable %s: %q is not a valid URL", name, val)
			}
		case TypeEmail:
			if _, err := mail.ParseAddress(val); err != nil {
				verr.Addf("variable %s: %q is not a valid email address", name, val)
			}
		}
	}
	return verr.OrNil()
}

func checkRange(verr *ValidationError, name string, n int, min, max *int) {
	if min != nil && n < *min {
		verr.Addf("variable %s: %d is below minimum %d", name, n, *min)
	}
	if max != nil && n > *max {
		verr.Addf("variable %s: %d is above maximum %d", name, n, *max)
	}
}

func selectHasValue(opts []SelectOption, val string) bool {
	for _, o := range opts {
		if o.Value == val {
			return true
		}
	}
	return false
}

// Substitute expands ${NAME} and ${NAME:-default} placeholders in s using the
// resolved values. A placeholder with no value and no inline default expands
// to the empty string; resolution is never an error at this stage.
func Substitute(s string, values map[string]string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	out, err := template.Substitute(s, func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	})
	if err != nil {
		return "", fmt.Errorf("substitute %q: %w", s, err)
	}
	return out, nil
}

// SubstituteAll applies Substitute to every element of a string slice.
func SubstituteAll(in []string, values map[string]string) ([]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		sub, err := Substitute(s, values)
		if err != nil {
			return nil, err
		}
		out[i] = sub
	}
	return out, nil
}
