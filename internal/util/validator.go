package util

import (
	"errors"
	"net/mail"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/deptkpi/kpi/internal/repo"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their Thai label when present, otherwise by json name.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			if label := fld.Tag.Get("label"); label != "" {
				return label
			}
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Struct validates v using its `validate` tags and turns the first failure into a Thai
// validation error.
func Struct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return repo.Validation("ข้อมูลไม่ถูกต้อง")
	}

	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_without":
		return repo.Validation("กรุณาระบุ" + field)
	case "max":
		return repo.Validation(field + " ยาวเกินกำหนด")
	case "min":
		return repo.Validation(field + " สั้นหรือน้อยเกินกำหนด")
	case "email":
		return repo.Validation("รูปแบบอีเมลไม่ถูกต้อง")
	case "oneof":
		return repo.Validation(field + " ไม่ถูกต้อง")
	case "unique":
		return repo.Validation(field + " ต้องไม่ซ้ำกัน")
	default:
		return repo.Validation(field + " ไม่ถูกต้อง")
	}
}

// ValidateEmail returns a validation error for malformed addresses.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return repo.Validation("กรุณาระบุอีเมล")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return repo.Validation("รูปแบบอีเมลไม่ถูกต้อง")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len([]rune(password)) < 8 {
		return repo.Validation("รหัสผ่านต้องมีอย่างน้อย 8 ตัวอักษร")
	}
	return nil
}

// CleanName trims a display name and enforces presence and length.
func CleanName(value, field string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", repo.Validation("กรุณาระบุ" + field)
	}
	if len([]rune(value)) > 255 {
		return "", repo.Validation(field + " ยาวเกินกำหนด")
	}
	return value, nil
}
