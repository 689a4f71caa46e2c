package api

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/advancex/advx/internal/common/apperrors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// V returns the validator shared by every input type.
func V() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// Validate checks v against its validate tags. Failures are reported per
// field as apperrors.ValidationErrors wrapped in ErrValidation.
func Validate(v any) error {
	err := V().Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Invalid(err.Error())
	}
	ves := make([]apperrors.ValidationError, 0, len(verrs))
	for _, e := range verrs {
		ves = append(ves, apperrors.ValidationError{
			Field:  e.Field(),
			Value:  e.Value(),
			ErrStr: describe(e),
		})
	}
	return apperrors.Invalid("invalid input", ves...)
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "missing required attribute"
	case "email":
		return "must be a valid email address"
	case "numeric":
		return "must contain only digits"
	case "len":
		return "must be exactly " + e.Param() + " characters"
	case "gt":
		return "must be greater than " + e.Param()
	case "max":
		return "must be at most " + e.Param() + " characters"
	default:
		return "failed " + e.Tag() + " check"
	}
}

// Decode converts a loosely typed payload into T and validates it. Payloads
// built from command line flags carry strings for numeric fields, so decoding
// is weakly typed.
func Decode[T any](payload any) (T, error) {
	var out T
	switch p := payload.(type) {
	case T:
		out = p
	case *T:
		if p == nil {
			return out, apperrors.Invalid("empty payload")
		}
		out = *p
	case json.RawMessage:
		return Decode[T]([]byte(p))
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(p, &m); err != nil {
			return out, apperrors.Invalid(fmt.Sprintf("payload is not a JSON object: %v", err))
		}
		return Decode[T](m)
	case map[string]any:
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			WeaklyTypedInput: true,
			Result:           &out,
		})
		if err != nil {
			return out, err
		}
		if err := dec.Decode(p); err != nil {
			return out, apperrors.Invalid(fmt.Sprintf("unable to decode payload: %v", err))
		}
	case nil:
		return out, apperrors.Invalid("empty payload")
	default:
		return out, apperrors.Invalid(fmt.Sprintf("unsupported payload type %T", payload))
	}
	if err := Validate(&out); err != nil {
		return out, err
	}
	return out, nil
}

// checked validates payload as T and returns what should be sent. Raw JSON
// and maps are forwarded unchanged so that fields unknown to T still reach the
// backend.
func checked[T any](payload any) (any, error) {
	v, err := Decode[T](payload)
	if err != nil {
		return nil, err
	}
	switch payload.(type) {
	case map[string]any, json.RawMessage, []byte:
		return payload, nil
	}
	return v, nil
}
