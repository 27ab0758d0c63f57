package accounts

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// employeeNumberMaxAttempts bounds the generate-and-probe loop for a unique
// employee number.
const employeeNumberMaxAttempts = 20

const (
	// freelancerType is the employment type whose activation carries an
	// automatic exit date.
	freelancerType = "Freelancer"
	// freelancerTypeLegacy is a misspelled marker still present on old
	// entries.
	freelancerTypeLegacy = "Feelancer"
)

// Insert creates a new account. Blank mail, employee number and uid are
// auto-generated from the name; each of the three is checked for
// directory-wide uniqueness before the entry is written in a single add.
func (s *Service) Insert(conn Conn, user *User) (*User, error) {
	mail := strings.TrimSpace(user.Mail)
	generatedMail := mail == ""
	if generatedMail {
		mail = createMail(user.GivenName, user.Surname, s.config.PrimaryDomain, s.config.ShortMailAddresses)
	}
	inUse, err := s.attributeInUse(conn, "mail", mail)
	if err != nil {
		return nil, err
	}
	if inUse {
		if generatedMail {
			return nil, businessErr(CodeMailAutofillFailed, mail)
		}
		return nil, businessErr(CodeMailAlreadyUsed, mail)
	}

	number, err := s.chooseEmployeeNumber(conn, user.EmployeeNumber)
	if err != nil {
		return nil, err
	}

	uid, err := s.chooseUID(conn, user)
	if err != nil {
		return nil, err
	}

	uidNumber, err := s.allocator.Allocate(conn)
	if err != nil {
		return nil, err
	}

	if user.EntryDate == nil {
		return nil, businessErr(CodeEntryDateRequired)
	}
	if user.ExitDate == nil {
		return nil, businessErr(CodeExitDateRequired)
	}

	dn, err := s.config.UserDN(uid, user.CompanyKey)
	if err != nil {
		return nil, err
	}

	created := *user
	created.DN = dn
	created.UID = uid
	created.Mail = mail
	created.EmployeeNumber = number
	created.UIDNumber = uidNumber
	created.GIDNumber = DefaultGIDNumber
	created.LoginShell = DefaultLoginShell
	created.HomeDirectory = s.config.HomeDirPrefix + uid
	created.SambaSID = s.config.SmbIDPrefix + strconv.Itoa(uidNumber*2+1000)
	created.SambaAcctFlags = sambaAcctFlagsDefault
	created.SambaPasswordHistory = sambaPasswordHistoryDefault
	created.SambaPwdLastSet = s.now().Unix()
	created.CN = user.GivenName + " " + user.Surname
	created.DisplayName = created.CN
	created.Gecos = Asciify(created.CN)
	created.Organization = s.config.Companies[user.CompanyKey]
	if !created.Status.IsDefined() {
		created.Status = StateInactive
	}
	if !created.MailStatus.IsDefined() {
		created.MailStatus = StateInactive
	}

	initial, err := randomPassword(32)
	if err != nil {
		return nil, err
	}
	userHash, err := s.userHasher.Hash(initial)
	if err != nil {
		return nil, err
	}
	sambaHash, err := s.sambaHasher.Hash(initial)
	if err != nil {
		return nil, err
	}

	req := ldap.NewAddRequest(dn, nil)
	for _, attr := range directoryAttributes(&created) {
		req.Attribute(attr.Type, attr.Vals)
	}
	req.Attribute("userPassword", []string{userHash})
	req.Attribute("sambaNTPassword", []string{sambaHash})
	if err := conn.Add(req); err != nil {
		return nil, wrapDirectoryErr(CodeCreateFailed, err)
	}
	s.logger.Info("user_created",
		slog.String("uid", uid),
		slog.String("dn", dn),
		slog.Int("uid_number", uidNumber))
	return &created, nil
}

// chooseEmployeeNumber accepts a caller-supplied number after a uniqueness
// check and otherwise generates one, probing until a free one is found.
func (s *Service) chooseEmployeeNumber(conn Conn, requested string) (string, error) {
	number := strings.TrimSpace(requested)
	if number != "" {
		inUse, err := s.attributeInUse(conn, "employeeNumber", number)
		if err != nil {
			return "", err
		}
		if inUse {
			return "", businessErr(CodeEmployeeNumberUsed, number)
		}
		return number, nil
	}
	for attempt := 0; attempt < employeeNumberMaxAttempts; attempt++ {
		candidate := uuid.NewString()
		inUse, err := s.attributeInUse(conn, "employeeNumber", candidate)
		if err != nil {
			return "", err
		}
		if !inUse {
			return candidate, nil
		}
	}
	return "", businessErr(CodeEmployeeNumberExceeded)
}

// chooseUID accepts a caller-supplied uid after a uniqueness check and
// otherwise walks the generated candidates in order, taking the first free
// one.
func (s *Service) chooseUID(conn Conn, user *User) (string, error) {
	uid := strings.TrimSpace(user.UID)
	if uid != "" {
		inUse, err := s.attributeInUse(conn, "uid", uid)
		if err != nil {
			return "", err
		}
		if inUse {
			return "", businessErr(CodeUsernameAlreadyUsed, uid)
		}
		return uid, nil
	}
	candidates, err := uidSuggestions(user.GivenName, user.Surname)
	if err != nil {
		return "", err
	}
	for _, candidate := range candidates {
		inUse, err := s.attributeInUse(conn, "uid", candidate)
		if err != nil {
			return "", err
		}
		if !inUse {
			return candidate, nil
		}
	}
	return "", businessErr(CodeUsernamesExceeded)
}

// Update writes the difference between the stored entry and the given record
// in one modify. A company change additionally moves the entry to the new
// subtree first. Blank incoming values mean "leave unchanged" for every
// attribute except phone and mobile, which blanking deletes.
func (s *Service) Update(conn Conn, user *User) (*User, error) {
	current, err := s.UserByUID(conn, user.UID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, businessErr(CodeUserNotExists, user.UID)
	}
	if err != nil {
		return nil, err
	}

	dn := current.DN
	moved := false
	if user.CompanyKey != "" && user.CompanyKey != current.CompanyKey {
		newDN, err := s.config.UserDN(current.UID, user.CompanyKey)
		if err != nil {
			return nil, err
		}
		rdn, newSuperior, _ := strings.Cut(newDN, ",")
		if err := conn.ModifyDN(ldap.NewModifyDNRequest(dn, rdn, true, newSuperior)); err != nil {
			return nil, wrapDirectoryErr(CodeModifyFailed, err)
		}
		organization := s.config.Companies[user.CompanyKey]
		orgReq := ldap.NewModifyRequest(newDN, nil)
		orgReq.Replace("o", []string{organization})
		if err := conn.Modify(orgReq); err != nil {
			return nil, wrapDirectoryErr(CodeModifyFailed, err)
		}
		s.logger.Info("user_company_changed",
			slog.String("uid", user.UID),
			slog.String("from", current.CompanyKey),
			slog.String("to", user.CompanyKey))
		dn = newDN
		moved = true
	}

	req := ldap.NewModifyRequest(dn, nil)
	changes := 0
	replaceIfChanged := func(attribute, newValue, oldValue string) {
		if isChanged(newValue, oldValue, false) {
			req.Replace(attribute, []string{strings.TrimSpace(newValue)})
			changes++
		}
	}

	nameChanged := isChanged(user.GivenName, current.GivenName, false) ||
		isChanged(user.Surname, current.Surname, false)
	replaceIfChanged("givenName", user.GivenName, current.GivenName)
	replaceIfChanged("sn", user.Surname, current.Surname)
	if nameChanged {
		givenName := pickValue(user.GivenName, current.GivenName)
		surname := pickValue(user.Surname, current.Surname)
		cn := givenName + " " + surname
		req.Replace("cn", []string{cn})
		req.Replace("displayName", []string{cn})
		req.Replace("gecos", []string{Asciify(cn)})
		changes++
	}

	if isChanged(user.Mail, current.Mail, false) {
		mail := strings.TrimSpace(user.Mail)
		inUse, err := s.attributeInUse(conn, "mail", mail)
		if err != nil {
			return nil, err
		}
		if inUse {
			return nil, businessErr(CodeMailAlreadyUsed, mail)
		}
		req.Replace("mail", []string{mail})
		changes++
	}

	// the employee number is removable in the form sense: blanking it
	// regenerates a fresh unique one through the creation path
	if isChanged(user.EmployeeNumber, current.EmployeeNumber, true) {
		number, err := s.chooseEmployeeNumber(conn, user.EmployeeNumber)
		if err != nil {
			return nil, err
		}
		req.Replace("employeeNumber", []string{number})
		changes++
	}

	replaceIfChanged("ou", user.OU, current.OU)
	replaceIfChanged("description", user.Description, current.Description)
	replaceIfChanged("title", user.Title, current.Title)
	replaceIfChanged("l", user.Location, current.Location)
	replaceIfChanged("szzPublicKey", user.PublicKey, current.PublicKey)

	changes += applyRemovable(req, "telephoneNumber", user.Phone, current.Phone)
	changes += applyRemovable(req, "mobile", user.Mobile, current.Mobile)

	// birth date is removable: clearing it deletes the attributes
	if user.BirthDate == nil && current.BirthDate != nil {
		req.Delete("szzBirthDay", nil)
		req.Delete("szzBirthMonth", nil)
		changes++
	} else if user.BirthDate != nil && !sameDate(user.BirthDate, current.BirthDate) {
		req.Replace("szzBirthDay", []string{strconv.Itoa(user.BirthDate.Day())})
		req.Replace("szzBirthMonth", []string{strconv.Itoa(int(user.BirthDate.Month()))})
		changes++
	}
	if user.EntryDate != nil && !sameDate(user.EntryDate, current.EntryDate) {
		replaceSplitDate(req, "szzEntry", *user.EntryDate)
		changes++
	}
	if user.ExitDate != nil && !sameDate(user.ExitDate, current.ExitDate) {
		replaceSplitDate(req, "szzExit", *user.ExitDate)
		changes++
	}

	if user.Status.IsDefined() && user.Status != current.Status {
		req.Replace("szzStatus", []string{string(user.Status)})
		changes++
	}
	if user.MailStatus.IsDefined() && user.MailStatus != current.MailStatus {
		req.Replace("szzMailStatus", []string{string(user.MailStatus)})
		changes++
	}

	if changes == 0 && !moved {
		return current, nil
	}
	if changes > 0 {
		if err := conn.Modify(req); err != nil {
			return nil, wrapDirectoryErr(CodeModifyFailed, err)
		}
	}
	s.logger.Info("user_updated", slog.String("uid", user.UID), slog.Int("changes", changes))
	return s.UserByUID(conn, user.UID)
}

// Activate marks the account and its mail sync active. The freelancer check
// runs against the stored entry, not the caller's copy; freelancers get an
// exit date four weeks and a day out written along with it, freelancer
// accounts never stay active open-ended. The entry is re-read after the write
// so the returned record is the stored state. On a directory failure the
// given record is returned unchanged.
func (s *Service) Activate(conn Conn, user *User) *User {
	current, err := s.UserByUID(conn, user.UID)
	if err != nil {
		s.logger.Error("user_activate_failed",
			slog.String("uid", user.UID), slog.String("error", err.Error()))
		return user
	}

	req := ldap.NewModifyRequest(current.DN, nil)
	req.Replace("szzStatus", []string{string(StateActive)})
	req.Replace("szzMailStatus", []string{string(StateActive)})
	if isFreelancer(current) {
		d := s.now().AddDate(0, 0, 7*4+1)
		d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		replaceSplitDate(req, "szzExit", d)
	}

	if err := conn.Modify(req); err != nil {
		s.logger.Error("user_activate_failed",
			slog.String("uid", user.UID), slog.String("error", err.Error()))
		return user
	}
	s.logger.Info("user_activated", slog.String("uid", user.UID))

	updated, err := s.UserByUID(conn, current.UID)
	if err != nil {
		s.logger.Error("user_reload_failed",
			slog.String("uid", user.UID), slog.String("error", err.Error()))
		return user
	}
	return updated
}

// Deactivate marks the account and its mail sync inactive and returns the
// re-read stored state. On a directory failure the given record is returned
// unchanged.
func (s *Service) Deactivate(conn Conn, user *User) *User {
	req := ldap.NewModifyRequest(user.DN, nil)
	req.Replace("szzStatus", []string{string(StateInactive)})
	req.Replace("szzMailStatus", []string{string(StateInactive)})
	if err := conn.Modify(req); err != nil {
		s.logger.Error("user_deactivate_failed",
			slog.String("uid", user.UID), slog.String("error", err.Error()))
		return user
	}
	s.logger.Info("user_deactivated", slog.String("uid", user.UID))

	updated, err := s.UserByUID(conn, user.UID)
	if err != nil {
		s.logger.Error("user_reload_failed",
			slog.String("uid", user.UID), slog.String("error", err.Error()))
		return user
	}
	return updated
}

// isFreelancer checks the stored description and title against the
// freelancer markers.
func isFreelancer(u *User) bool {
	return u.Description == freelancerType || u.Description == freelancerTypeLegacy ||
		u.Title == freelancerType || u.Title == freelancerTypeLegacy
}

// isChanged decides whether an incoming value constitutes a modification of
// the stored one. Blank incoming values only count for removable attributes;
// everywhere else blank means "leave unchanged".
func isChanged(newValue, oldValue string, removable bool) bool {
	newValue = strings.TrimSpace(newValue)
	return (removable || newValue != "") && newValue != oldValue
}

// applyRemovable stages the change for an attribute whose blanking deletes
// it. Returns the number of staged changes (0 or 1).
func applyRemovable(req *ldap.ModifyRequest, attribute, newValue, oldValue string) int {
	if !isChanged(newValue, oldValue, true) {
		return 0
	}
	newValue = strings.TrimSpace(newValue)
	if newValue == "" {
		req.Delete(attribute, []string{oldValue})
	} else {
		req.Replace(attribute, []string{newValue})
	}
	return 1
}

// replaceSplitDate stages the day/month/year triple for a date attribute
// family such as szzEntry or szzExit.
func replaceSplitDate(req *ldap.ModifyRequest, prefix string, date time.Time) {
	req.Replace(prefix+"Day", []string{strconv.Itoa(date.Day())})
	req.Replace(prefix+"Month", []string{strconv.Itoa(int(date.Month()))})
	req.Replace(prefix+"Year", []string{strconv.Itoa(date.Year())})
}

// pickValue returns the trimmed incoming value, falling back to the stored
// one when blank.
func pickValue(newValue, oldValue string) string {
	newValue = strings.TrimSpace(newValue)
	if newValue == "" {
		return oldValue
	}
	return newValue
}
