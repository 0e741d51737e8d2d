package services

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	usernameMinLen = 8
	usernameMaxLen = 15
	passwordMinLen = 8
	usernameMarks  = ".-_"
)

// ValidateCredentials checks the format of both credentials and reports
// every failing field at once.
func ValidateCredentials(username, password string) error {
	fields := make(map[string]string)
	if err := validateUsername(username); err != nil {
		fields["username"] = err.Error()
	}
	if err := validatePassword(password); err != nil {
		fields["password"] = err.Error()
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validateUsername(name string) error {
	n := utf8.RuneCountInString(name)
	if n < usernameMinLen || n > usernameMaxLen {
		return errors.New("Username must be 8 to 15 characters")
	}
	if !strings.ContainsFunc(name, unicode.IsDigit) {
		return errors.New("Username must contain at least one number")
	}
	if !strings.ContainsAny(name, usernameMarks) {
		return errors.New("Username must contain at least one of . - _")
	}
	return nil
}

func validatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < passwordMinLen {
		return errors.New("Password must be at least 8 characters")
	}
	var hasUpper, hasDigit, hasSpecial bool
	for _, ch := range pw {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsDigit(ch):
			hasDigit = true
		case !unicode.IsLetter(ch) && !unicode.IsSpace(ch):
			hasSpecial = true
		}
	}
	if !hasUpper {
		return errors.New("Password must contain an uppercase letter")
	}
	if !hasDigit {
		return errors.New("Password must contain at least one number")
	}
	if !hasSpecial {
		return errors.New("Password must contain a special character")
	}
	return nil
}
