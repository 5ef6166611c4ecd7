package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var (
	// Local 080... or international +234/234 mobile numbers.
	phonePattern = regexp.MustCompile(`^(\+?234|0)[789][01]\d{8}$`)
	// Paystack accepts alphanumerics plus - . = and our own underscore.
	referencePattern = regexp.MustCompile(`^[A-Za-z0-9_.=\-]{6,100}$`)
)

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("ng_phone", func(fl validator.FieldLevel) bool {
		phone := strings.ReplaceAll(fl.Field().String(), " ", "")
		return phone == "" || phonePattern.MatchString(phone)
	})
	_ = validate.RegisterValidation("payment_ref", func(fl validator.FieldLevel) bool {
		return referencePattern.MatchString(fl.Field().String())
	})
}

// Validate validates a struct and returns field messages keyed by JSON name.
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return "Value is too short (min: " + fe.Param() + ")"
	case "max":
		return "Value is too long (max: " + fe.Param() + ")"
	case "gte":
		return "Value must be at least " + fe.Param()
	case "lte":
		return "Value must be at most " + fe.Param()
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "ng_phone":
		return "Invalid Nigerian phone number"
	case "payment_ref":
		return "Invalid payment reference"
	default:
		return "Invalid value"
	}
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
