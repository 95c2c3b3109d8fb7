// Package httpx holds the JSON request and response helpers shared by the
// HTTP handlers.
package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/types"
	"go.uber.org/zap"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes err as {"error": {...}}. Errors that are not AppErrors
// are reported as internal errors and logged.
func WriteError(w http.ResponseWriter, err error) {
	appErr := errors.As(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	WriteJSON(w, appErr.HTTPStatus, map[string]any{"error": appErr})
}

// DecodeJSON decodes the request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return errors.BadRequest("invalid request body")
	}
	return nil
}

// DecodeAndValidate decodes the body and runs struct validation on it.
func DecodeAndValidate(r *http.Request, dst any) error {
	if err := DecodeJSON(r, dst); err != nil {
		return err
	}
	return Validate(dst)
}

// Validate runs the `validate` struct tags on v and converts failures into a
// validation AppError keyed by JSON field path.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.BadRequest("invalid request")
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fieldPath(fe.Namespace())] = describe(fe)
	}
	return errors.Validation("validation failed", details)
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_with", "required_without":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "uuid", "uuid4":
		return "must be a valid ID"
	default:
		return "is invalid"
	}
}

// PathID parses a UUID route parameter.
func PathID(r *http.Request, name string) (types.ID, error) {
	id, err := types.ParseID(chi.URLParam(r, name))
	if err != nil {
		return "", errors.BadRequest("invalid " + name)
	}
	return id, nil
}

// QueryID parses an optional UUID query parameter.
func QueryID(r *http.Request, name string) (*types.ID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := types.ParseID(raw)
	if err != nil {
		return nil, errors.BadRequest("invalid " + name)
	}
	return &id, nil
}
