package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.]{3,30}$`)

const (
	minNameLength     = 2
	maxNameLength     = 50
	minPasswordLength = 8
	maxPasswordLength = 72
	maxEmailLength    = 254
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (in *RegisterInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Username = normalizeUsername(in.Username)
}

func (in RegisterInput) validate() error {
	fields := make(map[string]string)

	if n := utf8.RuneCountInString(in.Name); n < minNameLength || n > maxNameLength {
		fields["name"] = "must be between 2 and 50 characters"
	}
	if msg := emailProblem(in.Email); msg != "" {
		fields["email"] = msg
	}
	if !usernameRegex.MatchString(in.Username) {
		fields["username"] = "must be 3 to 30 characters of a-z, 0-9, '_' or '.'"
	}
	if msg := passwordProblem(in.Password); msg != "" {
		fields["password"] = msg
	}

	if len(fields) > 0 {
		return ValidationError(fields)
	}
	return nil
}

func (in ResetPasswordInput) validate() error {
	fields := make(map[string]string)
	if strings.TrimSpace(in.Token) == "" {
		fields["token"] = "is required"
	}
	newPasswordFields(fields, in.NewPassword, in.ConfirmNewPassword)
	if len(fields) > 0 {
		return ValidationError(fields)
	}
	return nil
}

func (in ChangePasswordInput) validate() error {
	fields := make(map[string]string)
	if in.OldPassword == "" {
		fields["oldPassword"] = "is required"
	}
	newPasswordFields(fields, in.NewPassword, in.ConfirmNewPassword)
	if len(fields) > 0 {
		return ValidationError(fields)
	}
	return nil
}

func newPasswordFields(fields map[string]string, password, confirm string) {
	if msg := passwordProblem(password); msg != "" {
		fields["newPassword"] = msg
		return
	}
	if password != confirm {
		fields["confirmNewPassword"] = "must match newPassword"
	}
}

func emailProblem(email string) string {
	if email == "" {
		return "is required"
	}
	if len(email) > maxEmailLength {
		return "is too long"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "is not a valid email address"
	}
	return ""
}

func passwordProblem(password string) string {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return "must be between 8 and 72 bytes"
	}
	return ""
}
