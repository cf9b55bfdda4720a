package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/capturenode/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "CAPTURENODE_"

var durationType = reflect.TypeFor[time.Duration]()

// LoadConfig fills the options struct behind opts from the TOML file named
// by its Config field and from CAPTURENODE_* variables. Precedence is CLI
// flag, then environment, then file: fields whose flag was set on cmd are
// left alone. A missing file is not an error; values of the wrong type
// are skipped and reported together.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := map[string]bool{}
	if cmd != nil {
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	}

	var file map[string]any
	if f := v.FieldByName("Config"); f.IsValid() && f.String() != "" {
		data, err := os.ReadFile(f.String())
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return fmt.Errorf("failed to read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("failed to parse TOML config: %w", err)
			}
		}
	}

	var errs []error
	for i := range t.NumField() {
		sf := t.Field(i)
		if changed[fieldNameToFlag(sf.Name)] {
			continue
		}
		field := v.Field(i)

		if path := sf.Tag.Get("toml"); path != "" && file != nil {
			if value := getNestedValue(file, path); value != nil {
				if err := assign(field, value); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
				}
			}
		}
		if key := sf.Tag.Get("env"); key != "" {
			if value := os.Getenv(EnvPrefix + key); value != "" {
				if err := assign(field, value); err != nil {
					errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// fieldNameToFlag converts a struct field name to the flag humacli
// derives from it: "LoggingLevel" -> "logging-level".
func fieldNameToFlag(fieldName string) string {
	var b strings.Builder
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// getNestedValue looks up a dotted path such as "capture.backend".
func getNestedValue(data map[string]any, path string) any {
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// assign stores a TOML value or an environment string in field. Strings
// are parsed for non-string fields; string slices accept a TOML array or a
// comma separated string.
func assign(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}
	s, isString := value.(string)

	if field.Type() == durationType {
		if !isString {
			return fmt.Errorf("want a duration string, got %T", value)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		if !isString {
			return fmt.Errorf("want a string, got %T", value)
		}
		field.SetString(s)

	case reflect.Bool:
		b, ok := value.(bool)
		if isString {
			var err error
			if b, err = strconv.ParseBool(s); err != nil {
				return err
			}
		} else if !ok {
			return fmt.Errorf("want a bool, got %T", value)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int64:
		var n int64
		switch x := value.(type) {
		case int64:
			n = x
		case int:
			n = int64(x)
		case string:
			var err error
			if n, err = strconv.ParseInt(strings.TrimSpace(x), 10, 64); err != nil {
				return err
			}
		default:
			return fmt.Errorf("want an integer, got %T", value)
		}
		field.SetInt(n)

	case reflect.Float64:
		var f float64
		switch x := value.(type) {
		case float64:
			f = x
		case int64:
			f = float64(x)
		case string:
			var err error
			if f, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
				return err
			}
		default:
			return fmt.Errorf("want a number, got %T", value)
		}
		field.SetFloat(f)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var items []string
		switch x := value.(type) {
		case string:
			for _, part := range strings.Split(x, ",") {
				items = append(items, strings.TrimSpace(part))
			}
		case []any:
			for _, item := range x {
				str, ok := item.(string)
				if !ok {
					return fmt.Errorf("want an array of strings, got %T element", item)
				}
				items = append(items, str)
			}
		default:
			return fmt.Errorf("want an array, got %T", value)
		}
		field.Set(reflect.ValueOf(items))

	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// LoadLoggingConfig loads logging configuration from a TOML config file.
// Module levels may sit in a [logging.modules] table or directly in
// [logging]. Returns default config if file doesn't exist or can't be parsed.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var rawConfig struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &rawConfig); err != nil {
		return cfg
	}

	for key, value := range rawConfig.Logging {
		switch v := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = v
			case "format":
				cfg.Format = v
			default:
				cfg.Modules[key] = v
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range v {
				if s, ok := level.(string); ok {
					cfg.Modules[module] = s
				}
			}
		}
	}

	return cfg
}
