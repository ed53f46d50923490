// ABOUTME: Payload decoding and validation with go-playground/validator
// ABOUTME: Registers topic id and single-emoji rules; failures wrap ErrInvalid with a readable detail

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("topicid", func(fl validator.FieldLevel) bool {
		return ValidTopicID(fl.Field().String())
	})
	_ = v.RegisterValidation("emoji", func(fl validator.FieldLevel) bool {
		return ValidateReaction(fl.Field().String()) == nil
	})
	return v
}

// ValidTopicID reports whether s is usable as a topic id: not blank and free of control characters.
func ValidTopicID(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ValidateReaction checks that the reaction is exactly one emoji and nothing else.
func ValidateReaction(reaction string) error {
	emojis := gomoji.CollectAll(reaction)
	if len(emojis) != 1 || emojis[0].Character != reaction {
		return fmt.Errorf("%w: reaction must be a single emoji", ErrInvalid)
	}
	return nil
}

// Decode unmarshals a frame payload into dst and validates it.
// An absent payload decodes as an empty object.
func Decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", ErrInvalid, err)
	}
	return Validate(dst)
}

// Validate runs the struct's validate tags.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return fmt.Errorf("%w: %s", ErrInvalid, describe(verrs[0]))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param())
	case "topicid":
		return fe.Field() + " is not a valid topic id"
	case "emoji":
		return fe.Field() + " must be a single emoji"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
