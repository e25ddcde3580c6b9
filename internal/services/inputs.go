package services

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/isdelr/usermgmt-be/internal/common"
	"github.com/isdelr/usermgmt-be/internal/models"
	"github.com/nyaruka/phonenumbers"
)

// bcrypt ignores everything past 72 bytes, so longer passwords are refused.
const (
	minPasswordLen = 6
	maxPasswordLen = 72
)

// RegisterInput is the payload of a self-service registration.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize trims the username and returns the canonical email.
func (r RegisterInput) Normalize() RegisterInput {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = normalizeEmail(r.Email)
	return r
}

// Validate will validate the payload. Call it on the normalized input.
func (r RegisterInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 50)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(minPasswordLen, maxPasswordLen)),
	)
}

// LoginInput is the payload of a login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize returns the input with the canonical email.
func (r LoginInput) Normalize() LoginInput {
	r.Email = normalizeEmail(r.Email)
	return r
}

// Validate will validate the payload
func (r LoginInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// CreateUserInput is the payload of the account creation endpoint.
type CreateUserInput struct {
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Mobile   string      `json:"mobile"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

// Normalize trims the username and mobile and returns the canonical email.
func (r CreateUserInput) Normalize() CreateUserInput {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = normalizeEmail(r.Email)
	r.Mobile = strings.TrimSpace(r.Mobile)
	return r
}

// Validate will validate the payload. Missing required fields are reported
// with a single message before any format check.
func (r CreateUserInput) Validate(region string) error {
	if r.Username == "" || r.Email == "" || r.Mobile == "" || r.Password == "" {
		return errors.New("Please provide all required fields: username, email, mobile, and password")
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Length(1, 50)),
		validation.Field(&r.Email, validation.Length(3, 254), is.Email),
		validation.Field(&r.Mobile, validation.By(validMobile(region))),
		validation.Field(&r.Password, validation.Length(minPasswordLen, maxPasswordLen)),
		validation.Field(&r.Role, validation.In(models.RoleUser, models.RoleAdmin)),
	)
}

// UpdateUserInput is a partial update: nil fields are left untouched.
type UpdateUserInput struct {
	Username *string      `json:"username"`
	Email    *string      `json:"email"`
	Password *string      `json:"password"`
	Active   *bool        `json:"active"`
	Role     *models.Role `json:"role"`
}

// Fields lists the names of the supplied fields.
func (r UpdateUserInput) Fields() []string {
	fields := []string{}
	if r.Username != nil {
		fields = append(fields, "username")
	}
	if r.Email != nil {
		fields = append(fields, "email")
	}
	if r.Password != nil {
		fields = append(fields, "password")
	}
	if r.Active != nil {
		fields = append(fields, "active")
	}
	if r.Role != nil {
		fields = append(fields, "role")
	}
	return fields
}

// Normalize trims the supplied username and canonicalizes the supplied
// email. A blank username stays present as "" so Validate rejects it.
func (r UpdateUserInput) Normalize() UpdateUserInput {
	if r.Username != nil {
		username := strings.TrimSpace(*r.Username)
		r.Username = &username
	}
	if r.Email != nil {
		email := normalizeEmail(*r.Email)
		r.Email = &email
	}
	return r
}

// Validate will validate the supplied fields.
func (r UpdateUserInput) Validate() error {
	if len(r.Fields()) == 0 {
		return errors.New("No fields to update")
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.NilOrNotEmpty, validation.Length(1, 50)),
		validation.Field(&r.Email, validation.NilOrNotEmpty, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.NilOrNotEmpty, validation.Length(minPasswordLen, maxPasswordLen)),
		validation.Field(&r.Role, validation.NilOrNotEmpty, validation.In(models.RoleUser, models.RoleAdmin)),
	)
}

// validMobile checks that a number parses as a valid phone number, using
// region for numbers written without a country code.
func validMobile(region string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if _, err := normalizeMobile(s, region); err != nil {
			return err
		}
		return nil
	}
}

// normalizeMobile returns the E.164 form of a phone number.
func normalizeMobile(mobile, region string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(mobile), region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", errors.New("must be a valid mobile number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validationError wraps a failed Validate into the error taxonomy.
func validationError(err error) error {
	return common.Validation("%s", err.Error())
}
