package accounts

import (
	"crypto/rand"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ChangePassword sets a new password on the account, writing the userPassword
// and samba hashes plus the change timestamp in one modify. Passwords containing
// the user's uid or name parts are rejected with a business error. A
// directory failure is logged and reported as an empty password with a nil
// error, callers treat that as "not changed".
func (s *Service) ChangePassword(conn Conn, user *User, password string) (string, error) {
	if containsUserToken(user, password) {
		return "", businessErr(CodePasswordContainsUser)
	}

	userHash, err := s.userHasher.Hash(password)
	if err != nil {
		return "", err
	}
	sambaHash, err := s.sambaHasher.Hash(password)
	if err != nil {
		return "", err
	}

	req := ldap.NewModifyRequest(user.DN, nil)
	req.Replace("userPassword", []string{userHash})
	req.Replace("sambaNTPassword", []string{sambaHash})
	req.Replace("sambaPwdLastSet", []string{strconv.FormatInt(s.now().Unix(), 10)})
	if err := conn.Modify(req); err != nil {
		s.logger.Error("password_change_failed",
			slog.String("uid", user.UID), slog.String("error", err.Error()))
		return "", nil
	}
	s.logger.Info("password_changed", slog.String("uid", user.UID))
	return password, nil
}

// ResetPassword replaces the password with a generated random one and
// returns the plaintext for one-time delivery to the user.
func (s *Service) ResetPassword(conn Conn, user *User) (string, error) {
	length := 32
	var bit [1]byte
	if _, err := rand.Read(bit[:]); err == nil && bit[0]&1 == 1 {
		length = 33
	}
	password, err := randomPassword(length)
	if err != nil {
		return "", err
	}
	return s.ChangePassword(conn, user, password)
}

// containsUserToken reports whether the password contains the uid, surname,
// given name or any part of the gecos, compared case-insensitively.
func containsUserToken(user *User, password string) bool {
	lowered := strings.ToLower(password)
	tokens := []string{user.UID, user.Surname, user.GivenName}
	tokens = append(tokens, strings.Fields(user.Gecos)...)
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(token)) {
			return true
		}
	}
	return false
}
