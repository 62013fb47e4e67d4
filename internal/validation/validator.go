package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
)

type ValidatorType string

const (
	Required     ValidatorType = "required"
	MinLength    ValidatorType = "min_length"
	MaxLength    ValidatorType = "max_length"
	Min          ValidatorType = "min"
	Max          ValidatorType = "max"
	MinDecimal   ValidatorType = "min_decimal"
	MaxDecimal   ValidatorType = "max_decimal"
	Regex        ValidatorType = "regex"
	ValidJSON    ValidatorType = "valid_json"
	JSONSchema   ValidatorType = "json_schema"
	ValidInteger ValidatorType = "valid_integer"
	ValidDecimal ValidatorType = "valid_decimal"
	ValidRegex   ValidatorType = "valid_regex"
)

// Def is one validator in a key's chain. Parameter is interpreted per type
// (length/bound/pattern/schema); ErrorText overrides the default message.
type Def struct {
	Type      ValidatorType `json:"validator_type"`
	Parameter string        `json:"parameter,omitempty"`
	ErrorText string        `json:"error_text,omitempty"`
}

type Failure struct {
	Validator Def
	Message   string
}

func (f *Failure) Error() string { return f.Message }

func defaultMessage(d Def) string {
	switch d.Type {
	case Required:
		return "value is required"
	case MinLength:
		return fmt.Sprintf("value must be at least %s characters long", d.Parameter)
	case MaxLength:
		return fmt.Sprintf("value must be at most %s characters long", d.Parameter)
	case Min, MinDecimal:
		return fmt.Sprintf("value must be at least %s", d.Parameter)
	case Max, MaxDecimal:
		return fmt.Sprintf("value must be at most %s", d.Parameter)
	case Regex:
		return fmt.Sprintf("value must match pattern %s", d.Parameter)
	case ValidJSON:
		return "value must be valid JSON"
	case JSONSchema:
		return "value does not match the JSON schema"
	case ValidInteger:
		return "value must be an integer"
	case ValidDecimal:
		return "value must be a decimal number"
	case ValidRegex:
		return "value must be a valid regular expression"
	}
	return "value is invalid"
}

func fail(d Def) *Failure {
	msg := d.ErrorText
	if msg == "" {
		msg = defaultMessage(d)
	}
	return &Failure{Validator: d, Message: msg}
}

// Validate runs the chain in declaration order and returns the first failure,
// or nil when every validator accepts. Every validator except `required`
// treats the empty string as vacuously valid.
func Validate(raw string, chain []Def) *Failure {
	for _, d := range chain {
		if d.Type != Required && raw == "" {
			continue
		}

		switch d.Type {
		case Required:
			if raw == "" {
				return fail(d)
			}

		case MinLength:
			n, err := strconv.Atoi(d.Parameter)
			if err == nil && len([]rune(raw)) < n {
				return fail(d)
			}

		case MaxLength:
			n, err := strconv.Atoi(d.Parameter)
			if err == nil && len([]rune(raw)) > n {
				return fail(d)
			}

		case Min:
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue // valid_integer owns non-numeric rejection
			}
			bound, err := strconv.ParseInt(d.Parameter, 10, 64)
			if err == nil && v < bound {
				return fail(d)
			}

		case Max:
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			bound, err := strconv.ParseInt(d.Parameter, 10, 64)
			if err == nil && v > bound {
				return fail(d)
			}

		case MinDecimal:
			v, err := decimal.NewFromString(raw)
			if err != nil {
				continue // valid_decimal owns non-numeric rejection
			}
			bound, err := decimal.NewFromString(d.Parameter)
			if err == nil && v.LessThan(bound) {
				return fail(d)
			}

		case MaxDecimal:
			v, err := decimal.NewFromString(raw)
			if err != nil {
				continue
			}
			bound, err := decimal.NewFromString(d.Parameter)
			if err == nil && v.GreaterThan(bound) {
				return fail(d)
			}

		case Regex:
			re, err := regexp.Compile(d.Parameter)
			if err == nil && !re.MatchString(raw) {
				return fail(d)
			}

		case ValidJSON:
			if !json.Valid([]byte(raw)) {
				return fail(d)
			}

		case JSONSchema:
			// When the input is not parseable JSON the valid_json failure is
			// the one to report; re-reporting here would duplicate it.
			if !json.Valid([]byte(raw)) {
				continue
			}
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(d.Parameter))
			if err != nil {
				continue
			}
			result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
			if err != nil || !result.Valid() {
				return fail(d)
			}

		case ValidInteger:
			if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
				return fail(d)
			}

		case ValidDecimal:
			if _, err := decimal.NewFromString(raw); err != nil {
				return fail(d)
			}

		case ValidRegex:
			if _, err := regexp.Compile(raw); err != nil {
				return fail(d)
			}
		}
	}

	return nil
}

// CheckDef rejects validator definitions whose parameter cannot be
// interpreted, so malformed chains never reach the tree.
func CheckDef(d Def) error {
	switch d.Type {
	case Required, ValidJSON, ValidInteger, ValidDecimal, ValidRegex:
		return nil
	case MinLength, MaxLength:
		if _, err := strconv.Atoi(d.Parameter); err != nil {
			return fmt.Errorf("%s: parameter %q is not an integer", d.Type, d.Parameter)
		}
	case Min, Max:
		if _, err := strconv.ParseInt(d.Parameter, 10, 64); err != nil {
			return fmt.Errorf("%s: parameter %q is not an integer", d.Type, d.Parameter)
		}
	case MinDecimal, MaxDecimal:
		if _, err := decimal.NewFromString(d.Parameter); err != nil {
			return fmt.Errorf("%s: parameter %q is not a decimal", d.Type, d.Parameter)
		}
	case Regex:
		if _, err := regexp.Compile(d.Parameter); err != nil {
			return fmt.Errorf("regex: parameter does not compile: %v", err)
		}
	case JSONSchema:
		if _, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(d.Parameter)); err != nil {
			return fmt.Errorf("json_schema: parameter is not a valid schema: %v", err)
		}
	default:
		return fmt.Errorf("unknown validator type %q", d.Type)
	}
	return nil
}

// CheckChain validates every definition in a chain.
func CheckChain(chain []Def) error {
	for i, d := range chain {
		if err := CheckDef(d); err != nil {
			return fmt.Errorf("validator %d: %w", i, err)
		}
	}
	return nil
}
