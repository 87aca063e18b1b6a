// Package stepconf fills a config struct from environment variables described by `env` struct tags.
//
// A tag is the variable name optionally followed by one constraint:
//
//	Port   string `env:"PORT,required"`
//	Source string `env:"SOURCE_PROVIDER,opt[drive,s3]"`
//
// Supported field types are string, bool, the int kinds, []string (values separated by |),
// Secret and pointers to these. A field keeps its preset value when the variable is empty,
// and constraints are checked against that value.
package stepconf

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/colorstring"
	"github.com/bitrise-io/go-utils/v2/env"
)

const (
	tagName       = "env"
	listSeparator = "|"

	rangeConstraintPrefix = "opt["
)

// ErrNotStructPtr indicates a type is not a pointer to a struct.
var ErrNotStructPtr = errors.New("must be a pointer to a struct")

// EnvGetter ...
type EnvGetter interface {
	Get(key string) string
}

// Secret variables are not shown in the printed output.
type Secret string

const secret = "*****"

// String implements fmt.Stringer.String.
// When a Secret is printed, it's masking the underlying string with asterisks.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secret
}

// ParseError occurs when a struct field cannot be set.
type ParseError struct {
	Field string
	Value string
	Err   error
}

// Error implements builtin errors.Error.
func (e *ParseError) Error() string {
	segments := []string{e.Field}
	if e.Value != "" {
		segments = append(segments, e.Value)
	}
	segments = append(segments, e.Err.Error())
	return strings.Join(segments, ": ")
}

// Parse populates a struct with the retrieved values from environment variables
// described by struct tags and applies the defined validations.
func Parse(conf interface{}) error {
	return parse(conf, env.NewRepository())
}

func parse(conf interface{}, envGetter EnvGetter) error {
	c := reflect.ValueOf(conf)
	if c.Kind() != reflect.Ptr {
		return ErrNotStructPtr
	}
	c = c.Elem()
	if c.Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	t := c.Type()

	var errs []*ParseError
	for i := 0; i < c.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup(tagName)
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := envGetter.Get(key)

		if err := setField(c.Field(i), value, constraint); err != nil {
			errs = append(errs, &ParseError{Field: t.Field(i).Name, Value: value, Err: err})
		}
	}

	if len(errs) > 0 {
		msg := "failed to parse config:"
		for _, err := range errs {
			msg += fmt.Sprintf("\n- %s", err)
		}
		return errors.New(msg)
	}
	return nil
}

func parseTag(tag string) (string, string) {
	key, constraint, _ := strings.Cut(tag, ",")
	return key, constraint
}

func setField(field reflect.Value, value, constraint string) error {
	effective := value
	if effective == "" {
		effective = valueString(field)
	}
	if err := validateConstraint(effective, constraint); err != nil {
		return err
	}

	if value == "" {
		return nil
	}

	if field.Kind() == reflect.Ptr {
		// If field is a pointer type, then set its value to be a pointer to a new zero value, matching field underlying type.
		field.Set(reflect.New(field.Type().Elem()))
		field = field.Elem()
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return errors.New("can't convert to bool")
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return errors.New("can't convert to int")
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		field.Set(reflect.ValueOf(strings.Split(value, listSeparator)))
	default:
		return fmt.Errorf("type is not supported (%s)", field.Kind())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func validateConstraint(value, constraint string) error {
	switch constraint {
	case "":
		break
	case "required":
		if value == "" {
			return errors.New("required variable is not present")
		}
	case "file", "dir":
		if err := checkPath(value, constraint == "dir"); err != nil {
			return err
		}
	default:
		opts, ok := parseOptions(constraint)
		if !ok {
			return fmt.Errorf("invalid constraint (%s)", constraint)
		}
		for _, opt := range opts {
			if opt == value {
				return nil
			}
		}
		return fmt.Errorf("value is not in value options (%s)", strings.Join(opts, ", "))
	}
	return nil
}

// parseOptions splits opt[a,b,'c,d'] into its values. Single quotes protect commas.
func parseOptions(constraint string) ([]string, bool) {
	if !strings.HasPrefix(constraint, rangeConstraintPrefix) || !strings.HasSuffix(constraint, "]") {
		return nil, false
	}
	list := strings.TrimSuffix(strings.TrimPrefix(constraint, rangeConstraintPrefix), "]")

	var opts []string
	var current strings.Builder
	quoted := false
	for _, r := range list {
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ',' && !quoted:
			opts = append(opts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(opts, current.String()), true
}

func checkPath(path string, dir bool) error {
	file, err := os.Stat(path)
	if err != nil {
		return errors.New("check path: " + err.Error())
	}
	if dir && !file.IsDir() {
		return errors.New("not a directory")
	}
	return nil
}

// String returns a human readable listing of a config struct. Secrets are masked
// and empty values are shown as <unset>.
func String(config interface{}) string {
	v := reflect.ValueOf(config)
	t := reflect.TypeOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
		t = t.Elem()
	}

	str := colorstring.Bluef("%s:\n", title(t.Name()))
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Name
		if tag, ok := t.Field(i).Tag.Lookup(tagName); ok {
			key, _ = parseTag(tag)
		}

		value := valueString(v.Field(i))
		if value == "" {
			value = "<unset>"
		}
		str += fmt.Sprintf("- %s: %s\n", key, value)
	}
	return str
}

// Print the name of the struct with Title case in blue color with followed by a newline,
// then print all fields formatted as '- field name: field value` separated by newline.
func Print(config interface{}) {
	fmt.Print(String(config))
}

func valueString(v reflect.Value) string {
	if v.Kind() != reflect.Ptr {
		if v.IsZero() {
			return ""
		}
		return fmt.Sprintf("%v", v.Interface())
	}

	if !v.IsNil() {
		return fmt.Sprintf("%v", v.Elem().Interface())
	}
	return ""
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
