package builder

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	qerrors "github.com/systmms/quickmanage/internal/errors"
)

var (
	validate = newValidator()

	quotedField = regexp.MustCompile(`'([^']+)'`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode converts a raw config map into C. Unknown keys and mismatched
// types are rejected, then validate tags are checked. Failures are
// ValidationErrors whose Field is the dotted path below "config".
func Decode[C any](raw map[string]any) (C, error) {
	var cfg C

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		ErrorUnused: true,
		TagName:     "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to create config decoder: %w", err)
	}

	if raw == nil {
		raw = map[string]any{}
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, decodeError(err)
	}

	if reflect.TypeOf(cfg) != nil && reflect.TypeOf(cfg).Kind() == reflect.Struct {
		if err := validate.Struct(cfg); err != nil {
			return cfg, validationError(err)
		}
	}
	return cfg, nil
}

func decodeError(err error) error {
	msg := err.Error()

	if _, keys, found := strings.Cut(msg, "has invalid keys: "); found {
		first, _, _ := strings.Cut(keys, ",")
		first = strings.TrimSpace(strings.SplitN(first, "\n", 2)[0])
		return qerrors.ValidationError{
			Field:   "config." + first,
			Message: "unknown configuration key",
		}
	}

	field := "config"
	if m := quotedField.FindStringSubmatch(msg); m != nil {
		field += "." + m[1]
	}
	return qerrors.ValidationError{Field: field, Message: msg}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return qerrors.ValidationError{Field: "config", Message: err.Error()}
	}

	fe := fieldErrs[0]
	// Namespace starts with the struct type name
	_, path, _ := strings.Cut(fe.Namespace(), ".")

	message := fmt.Sprintf("failed '%s' check", fe.Tag())
	if fe.Tag() == "required" {
		message = "is required"
	} else if fe.Param() != "" {
		message = fmt.Sprintf("failed '%s=%s' check", fe.Tag(), fe.Param())
	}

	return qerrors.ValidationError{
		Field:   "config." + path,
		Value:   valueOrNil(fe.Value()),
		Message: message,
	}
}

func valueOrNil(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.IsZero() {
		return nil
	}
	return v
}
