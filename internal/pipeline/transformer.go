// Package pipeline contains the push processing core: request decoding and
// validation, and the resolve, deduplicate, dispatch sequence.
package pipeline

import (
	"bytes"
	"errors"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks v's validate tags and reports every failing field as a
// KindValidation error located in the request body.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return relayerr.New(relayerr.KindValidation, err)
	}
	fields := make([]relayerr.Field, 0, len(validationErrs))
	for _, fe := range validationErrs {
		fields = append(fields, relayerr.Field{
			Field:       fieldPath(fe.Namespace()),
			Description: "failed on the '" + fe.Tag() + "' rule",
			Location:    "body",
		})
	}
	return relayerr.WithFields(relayerr.KindValidation, fields...)
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// DecodePushMessage parses and validates the body of a push webhook.
func DecodePushMessage(body []byte) (*notification.PushMessage, error) {
	var msg notification.PushMessage
	if err := render.DecodeJSON(bytes.NewReader(body), &msg); err != nil {
		return nil, relayerr.Newf(relayerr.KindInvalidBody, "failed to decode push message: %w", err)
	}
	if err := Validate(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
