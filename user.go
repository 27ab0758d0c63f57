package accounts

import (
	"strings"
	"time"
)

// State is the lifecycle state of an account or its mail sync.
// StateUndefined means "never set" and is a sentinel, not a real state:
// updates never write it to the directory.
type State string

const (
	StateActive    State = "active"
	StateInactive  State = "inactive"
	StateUndefined State = "undefined"
)

// ParseState maps a raw directory value onto a State. Anything that is not
// recognizably active or inactive is treated as undefined.
func ParseState(value string) State {
	switch {
	case strings.EqualFold(value, string(StateActive)):
		return StateActive
	case strings.EqualFold(value, string(StateInactive)):
		return StateInactive
	default:
		return StateUndefined
	}
}

// IsDefined reports whether the state is a real, storable state.
func (s State) IsDefined() bool { return s == StateActive || s == StateInactive }

// Fixed Posix/Samba defaults assigned on account creation.
const (
	DefaultGIDNumber  = 100
	DefaultLoginShell = "/bin/false"

	sambaAcctFlagsDefault       = "[U          ]"
	sambaPasswordHistoryDefault = "0000000000000000000000000000000000000000000000000000000000000000"

	// birthYear is the placeholder year stored with every birth date; only
	// day and month carry meaning and dates must not be compared cross-year.
	birthYear = 1972
)

// userObjectClasses is the full object class set of a user entry.
var userObjectClasses = []string{
	"person",
	"organizationalPerson",
	"inetOrgPerson",
	"posixAccount",
	"sambaSamAccount",
	"szzUser",
}

// User is an employee identity record. The DN is the authoritative identity;
// UID and EmployeeNumber are unique directory-wide.
type User struct {
	DN        string
	UID       string // 6 or 8 alphabetic characters, generated from the name
	UIDNumber int
	GIDNumber int

	GivenName   string
	Surname     string
	CN          string
	DisplayName string
	Gecos       string // ASCII-only full name

	Mail   string
	Phone  string
	Mobile string

	// BirthDate always carries the placeholder year.
	BirthDate *time.Time
	EntryDate *time.Time
	ExitDate  *time.Time

	Status     State
	MailStatus State

	OU             string // department / team
	Description    string // employment type, e.g. Mitarbeiter, Freelancer
	EmployeeNumber string // unique, UUID-shaped when auto-generated
	Title          string
	Location       string
	Organization   string
	CompanyKey     string

	HomeDirectory        string
	LoginShell           string
	SambaSID             string
	SambaAcctFlags       string
	SambaPasswordHistory string
	SambaPwdLastSet      int64 // epoch seconds of the last password change

	PublicKey string

	ModifiersName   string
	ModifyTimestamp string
}

// Compare orders users by surname, given name, then uid.
func (u *User) Compare(other *User) int {
	if c := strings.Compare(u.Surname, other.Surname); c != 0 {
		return c
	}
	if c := strings.Compare(u.GivenName, other.GivenName); c != 0 {
		return c
	}
	return strings.Compare(u.UID, other.UID)
}

// LastPasswordChange returns the password-change timestamp as a time.
func (u *User) LastPasswordChange() time.Time {
	return time.Unix(u.SambaPwdLastSet, 0)
}

// newDate builds a date from split directory attributes, rejecting
// combinations the calendar normalizes away (e.g. February 31).
func newDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
