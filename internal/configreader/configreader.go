// Package configreader fills a config struct from a file, the environment
// and command-line flags, in increasing order of precedence. Whatever the
// struct already holds acts as the default.
package configreader

import (
	"encoding"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"fknsrs.biz/p/ytfeeds/internal/stringutil"
)

// ErrHelp is returned when the arguments ask for usage information. The
// usage text has already been written to the flag set's output by then.
var ErrHelp = flag.ErrHelp

// Read populates out, which must be a pointer to a struct. Each field is
// named by its "name" tag or, failing that, its snake_cased field name; a
// name of "-" skips the field. The optional "help" tag becomes the flag's
// usage text.
//
// Environment variables are matched case-insensitively, either bare or
// prefixed with the program's name (so "ytfeeds" reads both API_KEY and
// YTFEEDS_API_KEY, the prefixed one winning).
func Read(program string, arguments, environment []string, out interface{}) error {
	return read(program, arguments, environment, out, os.Stderr)
}

func read(program string, arguments, environment []string, out interface{}, usage io.Writer) error {
	fields, err := fieldsOf(out)
	if err != nil {
		return fmt.Errorf("configreader.Read: %w", err)
	}

	env := environmentLookup(program, environment)

	configPath := lookupArgument(arguments, "config")
	if configPath == "" {
		configPath = env("config")
	}
	if configPath == "" {
		if f := fields.get("config"); f != nil {
			configPath = f.String()
		}
	}

	if configPath != "" {
		if err := readFile(configPath, out); err != nil {
			return fmt.Errorf("configreader.Read: %w", err)
		}
	}

	for _, f := range fields {
		s := env(f.name)
		if s == "" {
			continue
		}

		if err := f.Set(s); err != nil {
			return fmt.Errorf("configreader.Read: environment: %w", err)
		}
	}

	flagSet := flag.NewFlagSet(filepath.Base(program), flag.ContinueOnError)
	flagSet.SetOutput(usage)
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Usage: %s [OPTIONS]\n", flagSet.Name())
		flagSet.PrintDefaults()
	}

	for _, f := range fields {
		flagSet.Var(f, f.name, f.help)
	}

	if err := flagSet.Parse(arguments); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ErrHelp
		}

		return fmt.Errorf("configreader.Read: flags: %w", err)
	}

	return nil
}

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// field is one settable parameter. It satisfies flag.Value so the same
// parsing serves flags and the environment.
type field struct {
	name  string
	help  string
	label string
	value reflect.Value
}

type fieldList []*field

func (l fieldList) get(name string) *field {
	for _, f := range l {
		if f.name == name {
			return f
		}
	}

	return nil
}

func fieldsOf(out interface{}) (fieldList, error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, fmt.Errorf("value must be a non-nil pointer; was instead %T", out)
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("value must be a pointer to a struct; was instead %T", out)
	}

	var fields fieldList

	for i := 0; i < rv.NumField(); i++ {
		sf := rv.Type().Field(i)
		if !sf.IsExported() {
			continue
		}

		name := sf.Tag.Get("name")
		if name == "" {
			name = stringutil.PascalToSnake(sf.Name)
		}
		if name == "-" {
			continue
		}

		f := &field{
			name:  name,
			help:  sf.Tag.Get("help"),
			label: sf.Name + " (" + name + ")",
			value: rv.Field(i),
		}

		if !f.supported() {
			return nil, fmt.Errorf("parameter %s has unsupported type %s", f.label, sf.Type)
		}

		fields = append(fields, f)
	}

	return fields, nil
}

func (f *field) supported() bool {
	if f.value.Addr().Type().Implements(textUnmarshalerType) {
		return true
	}

	switch f.value.Kind() {
	case reflect.String, reflect.Bool, reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	case reflect.Slice:
		return f.value.Type().Elem().Kind() == reflect.String
	default:
		return false
	}
}

func (f *field) String() string {
	// flag.PrintDefaults calls String on a zero field to find defaults
	if f == nil || !f.value.IsValid() {
		return ""
	}

	if f.value.Addr().Type().Implements(textMarshalerType) {
		d, err := f.value.Addr().Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return ""
		}
		return string(d)
	}

	switch {
	case f.value.Type() == durationType:
		return time.Duration(f.value.Int()).String()
	case f.value.Kind() == reflect.Slice:
		return strings.Join(f.value.Interface().([]string), ",")
	default:
		return fmt.Sprint(f.value.Interface())
	}
}

func (f *field) IsBoolFlag() bool {
	return f != nil && f.value.IsValid() && f.value.Kind() == reflect.Bool
}

func (f *field) Set(s string) error {
	v := f.value

	if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
		if err := u.UnmarshalText([]byte(s)); err != nil {
			return fmt.Errorf("could not unmarshal parameter %s: %w", f.label, err)
		}
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("could not parse parameter %s as bool: %w", f.label, err)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Type() == durationType {
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("could not parse parameter %s as duration: %w", f.label, err)
			}
			v.SetInt(int64(d))
			return nil
		}

		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("could not parse parameter %s as int: %w", f.label, err)
		}
		v.SetInt(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("could not parse parameter %s as float: %w", f.label, err)
		}
		v.SetFloat(n)
	case reflect.Slice:
		var l []string
		for _, e := range strings.Split(s, ",") {
			if e = strings.TrimSpace(e); e != "" {
				l = append(l, e)
			}
		}
		v.Set(reflect.ValueOf(l).Convert(v.Type()))
	default:
		return fmt.Errorf("could not set parameter %s of type %s", f.label, v.Type())
	}

	return nil
}

// environmentLookup returns a case-insensitive getter over environment. A
// variable prefixed with the program name takes precedence over a bare one.
func environmentLookup(program string, environment []string) func(name string) string {
	prefix := envPrefix(program)

	bare := make(map[string]string)
	prefixed := make(map[string]string)

	for _, e := range environment {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}

		k = strings.ToLower(k)
		bare[k] = v
		if prefix != "" && strings.HasPrefix(k, prefix) {
			prefixed[k[len(prefix):]] = v
		}
	}

	return func(name string) string {
		name = strings.ToLower(name)

		if v, ok := prefixed[name]; ok {
			return v
		}

		return bare[name]
	}
}

func envPrefix(program string) string {
	base := strings.TrimSuffix(filepath.Base(program), filepath.Ext(program))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return ""
	}

	return strings.ToLower(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, base)) + "_"
}

// lookupArgument finds -name or --name ahead of the full flag parse, which
// needs the file applied first.
func lookupArgument(arguments []string, name string) string {
	for i, arg := range arguments {
		if arg == "--" {
			break
		}

		trimmed := strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
		if trimmed == arg {
			continue
		}

		if trimmed == name && i+1 < len(arguments) {
			return arguments[i+1]
		}
		if v, ok := strings.CutPrefix(trimmed, name+"="); ok {
			return v
		}
	}

	return ""
}

func readFile(filePath string, out interface{}) error {
	var decode func(r io.Reader) error

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		decode = func(r io.Reader) error {
			if err := yaml.NewDecoder(r).Decode(out); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("could not read %q as yaml: %w", filePath, err)
			}
			return nil
		}
	case ".toml":
		decode = func(r io.Reader) error {
			if err := toml.NewDecoder(r).Decode(out); err != nil {
				return fmt.Errorf("could not read %q as toml: %w", filePath, err)
			}
			return nil
		}
	default:
		return fmt.Errorf("readFile: could not determine file type for %q", filePath)
	}

	fd, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("readFile: could not open config file: %w", err)
	}
	defer fd.Close()

	if err := decode(fd); err != nil {
		return fmt.Errorf("readFile: %w", err)
	}

	return nil
}
