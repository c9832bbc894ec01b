// Package cfgx parses pgsessiond's config struct from flags, environment
// variables, and struct-tag defaults, in that precedence order (flags
// override env, env overrides defaults), using struct tags to customize
// field names and validation rules. Additional Source implementations
// (see sources.go) can be layered in at an arbitrary priority, e.g. to read
// Docker secrets ahead of flags but after env.
package cfgx

import (
	"cmp"
	"errors"
	"flag"
	"fmt"
	"log"
	"maps"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"
)

const (
	tagEnv          = "env"
	tagFlag         = "flag"
	tagDefault      = "default"
	tagDescription  = "desc"
	tagShort        = "short"
	tagDockerSecret = "dsec"
)

const (
	PriorityDefault = 0
	PriorityEnv     = 25
	PrioritySecrets = 75
	PriorityFlag    = 100
)

// ErrNotPointerToStruct is returned when Parse is not given a pointer to a struct.
var ErrNotPointerToStruct = errors.New("config must be a pointer to a struct")

// Source processes the ConfigField map and applies values to the config
// struct. Sources run in ascending Priority() order, so a later source
// overwrites an earlier one's value for the same field.
type Source interface {
	Priority() int
	Process(map[string]ConfigField) error
}

// Options holds options for the Parse function.
type Options struct {
	// ProgramName is the name of the running program (defaults to os.Args[0]).
	ProgramName string
	// EnvPrefix adds a prefix to environment variable lookups.
	EnvPrefix string
	// SkipFlags ignores command line flags.
	SkipFlags bool
	// SkipEnv ignores environment variables.
	SkipEnv bool
	// Args provides command line arguments (defaults to os.Args[1:]).
	Args []string
	// ErrorHandling determines how parsing errors are handled.
	ErrorHandling flag.ErrorHandling
	// UseBuildInfo uses debug.BuildInfo to set the Version field to the
	// module version, falling back to "(devel)".
	UseBuildInfo bool
	// Sources adds additional sources, e.g. NewDockerSecretsSource().
	Sources []Source
}

// Parse populates cfg (a pointer to a struct) from defaults, environment
// variables, and flags, in that ascending-priority order, then applies any
// extra Options.Sources at their own priority, then validates required
// fields.
func Parse(cfg any, options Options) error {
	opts := setOptions(options)

	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return handleError(opts.ErrorHandling, ErrNotPointerToStruct)
	}

	structMap := walkStruct(v.Elem(), "")

	sources := []Source{&defaultSource{priority: PriorityDefault}}
	if !opts.SkipEnv {
		sources = append(sources, &envSource{priority: PriorityEnv, prefix: opts.EnvPrefix})
	}
	sources = append(sources, opts.Sources...)
	if !opts.SkipFlags {
		sources = append(sources, &flagSource{priority: PriorityFlag, opts: opts})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Priority() < sources[j].Priority() })

	for _, src := range sources {
		if err := src.Process(structMap); err != nil {
			return handleError(opts.ErrorHandling, err)
		}
	}

	if opts.UseBuildInfo {
		if field, ok := structMap["Version"]; ok && field.Kind == reflect.String {
			bi, _ := debug.ReadBuildInfo()
			version := "(devel)"
			if bi != nil {
				version = cmp.Or(bi.Main.Version, "(devel)")
			}
			field.Value.SetString(version)
		}
	}

	if err := validateRequired(structMap); err != nil {
		return handleError(opts.ErrorHandling, fmt.Errorf("validation: %w", err))
	}

	return nil
}

// ConfigField describes one leaf field of the config struct reachable by
// Parse: its dotted path, its reflect.Value (settable), and its struct tag.
type ConfigField struct {
	Path        string
	Value       reflect.Value
	Kind        reflect.Kind
	Name        string
	StructField reflect.StructField
	Tag         reflect.StructTag
	Description string
}

func walkStruct(v reflect.Value, currPath string) map[string]ConfigField {
	fields := map[string]ConfigField{}

	t := v.Type()

	for i := range v.NumField() {
		fieldVal := v.Field(i)
		structField := t.Field(i)
		name := structField.Name
		kind := fieldVal.Kind()
		tag := structField.Tag

		if !fieldVal.IsZero() {
			continue
		}

		path := name
		if currPath != "" {
			path = strings.Join([]string{currPath, name}, ".")
		}

		if kind == reflect.Struct {
			nestedFields := walkStruct(fieldVal, path)
			maps.Copy(fields, nestedFields)
			continue
		}

		desc := cmp.Or(tag.Get(tagDescription), path)

		fields[path] = ConfigField{
			Path: path, Value: fieldVal, Kind: kind, Name: name, StructField: structField, Tag: tag, Description: desc}
	}
	return fields
}

func validateRequired(fields map[string]ConfigField) error {
	var allErrs []error

	for path, field := range fields {
		reqVal, exists := field.Tag.Lookup("required")
		required := exists && reqVal != "false"
		if !required {
			continue
		}

		if field.Value.IsZero() {
			allErrs = append(allErrs, fmt.Errorf("%s is required", path))
		}
	}

	if len(allErrs) > 0 {
		return &MultiError{allErrs}
	}
	return nil
}

func handleError(errHandling flag.ErrorHandling, err error) error {
	if errHandling == flag.ExitOnError {
		log.Fatal(err)
	}
	if errHandling == flag.PanicOnError {
		panic(err)
	}

	return err
}

// MultiError collects every field-level error encountered while processing
// a single Source, so Parse reports all of them instead of just the first.
type MultiError struct {
	Errs []error
}

func (m *MultiError) Error() string {
	msgs := make([]string, len(m.Errs))
	for i, err := range m.Errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (m *MultiError) Unwrap() []error {
	return m.Errs
}
