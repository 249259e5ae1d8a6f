package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dkeye/ProximityVoice/internal/core"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if comma := strings.Index(name, ","); comma != -1 {
				name = name[:comma]
			}
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate runs struct tag validation and reports failures as a validation error.
func Validate(op string, v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		parts := make([]string, 0, len(ve))
		for _, fe := range ve {
			p := fe.Field() + " failed on " + fe.Tag()
			if fe.Param() != "" {
				p += "=" + fe.Param()
			}
			parts = append(parts, p)
		}
		return core.Validation(op, strings.Join(parts, "; "))
	}
	return core.Validation(op, err.Error())
}

// Decode unmarshals data into v and validates it.
func Decode(op string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return core.Validation(op, "malformed json: "+err.Error())
	}
	return Validate(op, v)
}

// Command peeks at the discriminator of an inbound message.
func Command(data []byte) (string, error) {
	var env struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", core.Validation("envelope", "malformed json: "+err.Error())
	}
	if env.Command == "" {
		return "", core.Validation("envelope", "missing command")
	}
	return env.Command, nil
}
