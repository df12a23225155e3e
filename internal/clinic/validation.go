package clinic

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRequest marks a request rejected before it reached the API.
var ErrInvalidRequest = errors.New("clinic.invalid_request")

// passwordSymbols are the special characters the password policy accepts.
const passwordSymbols = "@$!%*?&"

// FieldError names a request field and the rule it broke.
type FieldError struct {
	Field string
	Rule  string
}

// ValidationError lists every field rule a request broke.
type ValidationError struct {
	Fields []FieldError
}

func (validationError *ValidationError) Error() string {
	parts := make([]string, 0, len(validationError.Fields))
	for _, field := range validationError.Fields {
		parts = append(parts, field.Field+" ("+field.Rule+")")
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRequest.Error(), strings.Join(parts, ", "))
}

// Is matches ErrInvalidRequest.
func (validationError *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	_ = validate.RegisterValidation("cpf", func(field validator.FieldLevel) bool {
		return IsValidCPF(field.Field().String())
	})
	_ = validate.RegisterValidation("password", func(field validator.FieldLevel) bool {
		return IsStrongPassword(field.Field().String())
	})
	return validate
}

// Validate checks a request struct against its validate tags.
func Validate(request any) error {
	err := requestValidator.Struct(request)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("clinic.validate: %w", err)
	}
	validationError := &ValidationError{Fields: make([]FieldError, 0, len(fieldErrors))}
	for _, fieldError := range fieldErrors {
		namespace := fieldError.Namespace()
		if index := strings.Index(namespace, "."); index >= 0 {
			namespace = namespace[index+1:]
		}
		validationError.Fields = append(validationError.Fields, FieldError{Field: namespace, Rule: fieldError.Tag()})
	}
	return validationError
}

// RemoveCPFMask strips everything but digits.
func RemoveCPFMask(cpf string) string {
	return strings.Map(func(character rune) rune {
		if character >= '0' && character <= '9' {
			return character
		}
		return -1
	}, cpf)
}

// IsValidCPF checks length, repeated digits, and both check digits of a CPF, masked or not.
func IsValidCPF(cpf string) bool {
	digits := RemoveCPFMask(cpf)
	if len(digits) != 11 {
		return false
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return false
	}
	return cpfCheckDigit(digits[:9]) == int(digits[9]-'0') && cpfCheckDigit(digits[:10]) == int(digits[10]-'0')
}

func cpfCheckDigit(prefix string) int {
	sum := 0
	weight := len(prefix) + 1
	for _, character := range prefix {
		sum += int(character-'0') * weight
		weight--
	}
	remainder := (sum * 10) % 11
	if remainder == 10 {
		return 0
	}
	return remainder
}

// PasswordScore counts how many policy rules a password meets, from 0 to 5.
// Length is measured in characters; letter and digit classes are ASCII only.
func PasswordScore(password string) int {
	score := 0
	if utf8.RuneCountInString(password) >= 8 {
		score++
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, character := range password {
		switch {
		case character >= 'a' && character <= 'z':
			hasLower = true
		case character >= 'A' && character <= 'Z':
			hasUpper = true
		case character >= '0' && character <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, character):
			hasSymbol = true
		}
	}
	for _, met := range []bool{hasLower, hasUpper, hasDigit, hasSymbol} {
		if met {
			score++
		}
	}
	return score
}

// IsStrongPassword reports whether a password meets every policy rule.
func IsStrongPassword(password string) bool {
	return PasswordScore(password) == 5
}
