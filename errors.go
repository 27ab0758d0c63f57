package accounts

import (
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel errors for common lookup failures.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrGroupNotFound = errors.New("group not found")
)

// Stable business error codes. The code plus positional args are what a
// client localizes; the message is for logs only.
const (
	CodeMailAlreadyUsed        = "user.mail.alreadyUsed"
	CodeMailAutofillFailed     = "user.mail.autofillFailed"
	CodeEmployeeNumberUsed     = "user.employeeNumber.alreadyUsed"
	CodeEmployeeNumberExceeded = "user.employeeNumber.cantFindUnique"
	CodeUsernameAlreadyUsed    = "user.create.username.alreadyUsed"
	CodeUsernamesExceeded      = "user.create.usernames.exceeded"
	CodeUsernamesDontMatch     = "user.create.usernames.dontmatch"
	CodeEntryDateRequired      = "user.entry.required"
	CodeExitDateRequired       = "user.exit.required"
	CodeUIDNumberExceeded      = "uidNumber.exceeded"
	CodeUserNotExists          = "user.notExists"
	CodeCreateFailed           = "user.create.failed"
	CodeModifyFailed           = "user.modify.failed"
	CodePasswordContainsUser   = "user.changePassword.failed"
	CodeUniqueCheckFailed      = "user.uniqAttributeCheck"
	CodeLDAPFailed             = "general.ldap.failed"
)

// BusinessError is a user-correctable rule violation. It carries a stable
// code plus positional arguments for localized display.
type BusinessError struct {
	Code string
	Args []any
	Err  error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *BusinessError) Unwrap() error { return e.Err }

// Is matches two business errors by code so callers can use errors.Is with a
// bare &BusinessError{Code: ...} target.
func (e *BusinessError) Is(target error) bool {
	if be, ok := target.(*BusinessError); ok {
		return e.Code == be.Code
	}
	return false
}

func businessErr(code string, args ...any) *BusinessError {
	return &BusinessError{Code: code, Args: args}
}

// wrapDirectoryErr converts a directory-level rejection into a business error
// carrying the server's diagnostic message, result code name and numeric code
// as positional args, in that order.
func wrapDirectoryErr(code string, err error) *BusinessError {
	var le *ldap.Error
	if errors.As(err, &le) {
		name := ldap.LDAPResultCodeMap[le.ResultCode]
		return &BusinessError{
			Code: code,
			Args: []any{le.Err.Error(), name, int(le.ResultCode)},
			Err:  err,
		}
	}
	return &BusinessError{Code: code, Args: []any{err.Error()}, Err: err}
}

// IllegalStateError signals an internal-consistency violation, e.g. multiple
// directory entries for an attribute that is defined as globally unique. It
// is not user-correctable and must not be localized as a business error.
type IllegalStateError struct {
	Msg string
}

func (e *IllegalStateError) Error() string { return e.Msg }

func illegalState(format string, args ...any) *IllegalStateError {
	return &IllegalStateError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigError reports invalid static configuration. It is raised at
// initialization, never at request time.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func configErr(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}
