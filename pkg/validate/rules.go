package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// ErrBadRule is wrapped by Rule when a rule string cannot be compiled.
var ErrBadRule = errors.New("invalid validator rule")

// engine evaluates single validator tags. It is safe for concurrent use.
var engine = validator.New()

// Rule compiles a textual rule into a Func. Supported rules:
//
//	nonempty       strings, slices and maps must have at least one element
//	positive       numbers must be > 0
//	nonnegative    numbers must be >= 0
//	min=N, max=N   bounds on numbers, or on the length of strings and collections
//	oneof=a|b|c    the value's string form must be one of the listed options
//	match=REGEX    strings must match the regular expression
func Rule(spec string) (Func, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(spec), "=")
	switch name {
	case "nonempty":
		return sizeRule("min=1", "must not be empty", false), nil
	case "positive":
		return sizeRule("gt=0", "must be positive", true), nil
	case "nonnegative":
		return sizeRule("gte=0", "must not be negative", true), nil
	case "min", "max":
		if !hasArg {
			return nil, fmt.Errorf("%w %q: missing bound", ErrBadRule, spec)
		}
		bound, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrBadRule, spec, err)
		}
		param := strconv.FormatFloat(bound, 'f', -1, 64)
		msg := "must be at least " + param
		if name == "max" {
			msg = "must be at most " + param
		}
		return boundRule(name+"="+param, msg), nil
	case "oneof":
		if !hasArg || arg == "" {
			return nil, fmt.Errorf("%w %q: missing options", ErrBadRule, spec)
		}
		options := strings.Split(arg, "|")
		tag, err := oneofTag(options)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrBadRule, spec, err)
		}
		msg := "must be one of " + strings.Join(options, ", ")
		return func(v any) error {
			return check(fmt.Sprint(v), tag, msg)
		}, nil
	case "match":
		// validator leaves regular expressions to the caller.
		if !hasArg {
			return nil, fmt.Errorf("%w %q: missing pattern", ErrBadRule, spec)
		}
		re, err := regexp.Compile(arg)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrBadRule, spec, err)
		}
		return func(v any) error {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%T is not a string", v)
			}
			if !re.MatchString(s) {
				return fmt.Errorf("must match %s", re)
			}
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("%w %q: unknown rule", ErrBadRule, spec)
	}
}

// RegisterRules compiles every spec and registers the result under tag.
func (r *Registry) RegisterRules(tag string, specs ...string) error {
	fns := make([]Func, 0, len(specs))
	for _, spec := range specs {
		fn, err := Rule(spec)
		if err != nil {
			return fmt.Errorf("tag %q: %w", tag, err)
		}
		fns = append(fns, fn)
	}
	_, _, err := r.Register(tag, fns...)
	return err
}

// check runs one validator tag against v. A failed check becomes msg.
func check(v any, tag, msg string) error {
	err := engine.Var(v, tag)
	var failed validator.ValidationErrors
	if errors.As(err, &failed) {
		return errors.New(msg)
	}
	return err
}

// sizeRule checks numbers when numeric is set, otherwise lengths.
// Sizes are passed to the engine as float64 so every bound parses the same way.
func sizeRule(tag, msg string, numeric bool) Func {
	return func(v any) error {
		if numeric {
			f, ok := number(v)
			if !ok {
				return fmt.Errorf("%T is not a number", v)
			}
			return check(f, tag, msg)
		}
		n, ok := length(v)
		if !ok {
			return fmt.Errorf("%T has no length", v)
		}
		return check(float64(n), tag, msg)
	}
}

// boundRule checks numbers by value and strings and collections by length.
func boundRule(tag, msg string) Func {
	return func(v any) error {
		f, ok := number(v)
		if !ok {
			n, hasLen := length(v)
			if !hasLen {
				return fmt.Errorf("%T has no size", v)
			}
			f = float64(n)
		}
		return check(f, tag, msg)
	}
}

// oneofTag builds a validator oneof tag, quoting options with spaces and
// escaping commas.
func oneofTag(options []string) (string, error) {
	parts := make([]string, len(options))
	for i, o := range options {
		switch {
		case o == "":
			return "", errors.New("empty option")
		case strings.Contains(o, "'"):
			return "", fmt.Errorf("option %q contains a quote", o)
		case strings.ContainsAny(o, " \t"):
			parts[i] = "'" + o + "'"
		default:
			parts[i] = o
		}
		parts[i] = strings.ReplaceAll(parts[i], ",", "0x2C")
	}
	return "oneof=" + strings.Join(parts, " "), nil
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func length(v any) (int, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return utf8.RuneCountInString(rv.String()), true
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len(), true
	default:
		return 0, false
	}
}
