package accounts

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Mapper converts raw directory entries into typed User and Group records
// and the reverse. Callers must check the IsCompatible predicates before
// mapping; incompatible entries are logged and yield nil.
type Mapper struct {
	config *Config
	logger *slog.Logger
}

// NewMapper builds a mapper bound to the company and group-prefix
// configuration.
func NewMapper(config *Config) *Mapper {
	return &Mapper{config: config, logger: config.logger()}
}

func intAttr(entry *ldap.Entry, name string) (int, bool) {
	v := entry.GetAttributeValue(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsCompatibleUser reports whether the entry carries one of the required
// person/account object classes.
func (m *Mapper) IsCompatibleUser(entry *ldap.Entry) bool {
	if entry == nil {
		return false
	}
	classes := entry.GetAttributeValues("objectClass")
	for _, c := range classes {
		if slices.Contains(userObjectClasses, c) {
			return true
		}
	}
	return false
}

// User maps a compatible entry onto a User record. Malformed optional fields
// degrade to their zero values; the entry as a whole never fails to map once
// compatible.
func (m *Mapper) User(entry *ldap.Entry) *User {
	if entry == nil {
		return nil
	}
	if !m.IsCompatibleUser(entry) {
		m.logger.Error("user_mapping_incompatible_entry", slog.String("dn", entry.DN))
		return nil
	}

	uidNumber, _ := intAttr(entry, "uidNumber")
	gidNumber, _ := intAttr(entry, "gidNumber")
	pwdLastSet, _ := strconv.ParseInt(entry.GetAttributeValue("sambaPwdLastSet"), 10, 64)

	companyKey, organization := m.companyForEntry(entry)

	return &User{
		DN:             entry.DN,
		UID:            entry.GetAttributeValue("uid"),
		UIDNumber:      uidNumber,
		GIDNumber:      gidNumber,
		GivenName:      entry.GetAttributeValue("givenName"),
		Surname:        entry.GetAttributeValue("sn"),
		CN:             entry.GetAttributeValue("cn"),
		DisplayName:    entry.GetAttributeValue("displayName"),
		Gecos:          entry.GetAttributeValue("gecos"),
		Mail:           entry.GetAttributeValue("mail"),
		Phone:          entry.GetAttributeValue("telephoneNumber"),
		Mobile:         entry.GetAttributeValue("mobile"),
		BirthDate:      m.parseBirthDate(entry),
		EntryDate:      m.parseSplitDate(entry, "szzEntryDay", "szzEntryMonth", "szzEntryYear", true),
		ExitDate:       m.parseSplitDate(entry, "szzExitDay", "szzExitMonth", "szzExitYear", true),
		Status:         ParseState(entry.GetAttributeValue("szzStatus")),
		MailStatus:     ParseState(entry.GetAttributeValue("szzMailStatus")),
		OU:             entry.GetAttributeValue("ou"),
		Description:    entry.GetAttributeValue("description"),
		EmployeeNumber: entry.GetAttributeValue("employeeNumber"),
		Title:          entry.GetAttributeValue("title"),
		Location:       entry.GetAttributeValue("l"),
		Organization:   organization,
		CompanyKey:     companyKey,
		HomeDirectory:  entry.GetAttributeValue("homeDirectory"),
		LoginShell:     entry.GetAttributeValue("loginShell"),
		SambaSID:       entry.GetAttributeValue("sambaSID"),
		SambaAcctFlags: entry.GetAttributeValue("sambaAcctFlags"),
		SambaPasswordHistory: entry.GetAttributeValue(
			"sambaPasswordHistory"),
		SambaPwdLastSet: pwdLastSet,
		PublicKey:       entry.GetAttributeValue("szzPublicKey"),
		ModifiersName:   entry.GetAttributeValue("modifiersName"),
		ModifyTimestamp: entry.GetAttributeValue("modifyTimestamp"),
	}
}

// Users maps a result list, silently skipping incompatible entries, and
// sorts by the natural user ordering.
func (m *Mapper) Users(entries []*ldap.Entry) []*User {
	users := make([]*User, 0, len(entries))
	for _, entry := range entries {
		if !m.IsCompatibleUser(entry) {
			continue
		}
		if u := m.User(entry); u != nil {
			users = append(users, u)
		}
	}
	slices.SortFunc(users, func(a, b *User) int { return a.Compare(b) })
	return users
}

// parseSplitDate assembles a date from day/month/year attributes. Invalid or
// incomplete combinations yield nil; required dates additionally log at
// error level because downstream business rules depend on them.
func (m *Mapper) parseSplitDate(entry *ldap.Entry, dayAttr, monthAttr, yearAttr string, required bool) *time.Time {
	day, dayOK := intAttr(entry, dayAttr)
	month, monthOK := intAttr(entry, monthAttr)
	year, yearOK := intAttr(entry, yearAttr)
	if !dayOK || !monthOK || !yearOK {
		if required {
			m.logger.Error("user_date_missing",
				slog.String("dn", entry.DN),
				slog.String("attribute", dayAttr))
		}
		return nil
	}
	d, ok := newDate(year, month, day)
	if !ok {
		m.logger.Warn("user_date_invalid",
			slog.String("dn", entry.DN),
			slog.String("attribute", dayAttr),
			slog.Int("day", day), slog.Int("month", month), slog.Int("year", year))
		return nil
	}
	return &d
}

// parseBirthDate reads the day/month-only birth date with its placeholder
// year.
func (m *Mapper) parseBirthDate(entry *ldap.Entry) *time.Time {
	day, dayOK := intAttr(entry, "szzBirthDay")
	month, monthOK := intAttr(entry, "szzBirthMonth")
	if !dayOK || !monthOK {
		return nil
	}
	d, ok := newDate(birthYear, month, day)
	if !ok {
		m.logger.Warn("user_birth_date_invalid",
			slog.String("dn", entry.DN),
			slog.Int("day", day), slog.Int("month", month))
		return nil
	}
	return &d
}

// companyForEntry resolves the company key and organization for an entry:
// first by matching the o attribute against the configured company map, then
// through the legacy DN fallback.
func (m *Mapper) companyForEntry(entry *ldap.Entry) (key, organization string) {
	if org := entry.GetAttributeValue("o"); org != "" {
		if k, ok := m.config.CompanyKeyByOrganization(org); ok {
			return k, org
		}
	}
	return m.companyFromDN(entry.DN)
}

// companyFromDN is a compatibility shim for entries predating the o
// attribute: a 5-component DN carries the company as its third component
// (ou=<key>). Kept only because some directory entries are resolvable no
// other way.
//
// Deprecated: resolve companies through the o attribute.
func (m *Mapper) companyFromDN(dn string) (key, organization string) {
	parts := strings.Split(strings.TrimSpace(dn), ",")
	candidate := ""
	if len(parts) == 5 {
		candidate = strings.TrimPrefix(parts[2], "ou=")
	}
	if org, ok := m.config.Companies[candidate]; ok {
		return candidate, org
	}
	return "UNKNOWN", "UNKNOWN"
}

// IsCompatibleGroup reports whether the entry carries one of the three
// recognized group object classes.
func (m *Mapper) IsCompatibleGroup(entry *ldap.Entry) bool {
	if entry == nil {
		return false
	}
	classes := entry.GetAttributeValues("objectClass")
	return slices.Contains(classes, KindPosix.ObjectClass()) ||
		slices.Contains(classes, KindGroupOfNames.ObjectClass()) ||
		slices.Contains(classes, KindGroupOfUniqueNames.ObjectClass())
}

// Group maps a compatible entry onto one of the three group variants,
// dispatching on the object classes present.
func (m *Mapper) Group(entry *ldap.Entry) Group {
	if entry == nil {
		return nil
	}
	classes := entry.GetAttributeValues("objectClass")
	cn := entry.GetAttributeValue("cn")
	description := entry.GetAttributeValue("description")
	classification := m.classify(cn)

	switch {
	case slices.Contains(classes, KindPosix.ObjectClass()):
		gid, _ := intAttr(entry, "gidNumber")
		return NewPosixGroup(entry.DN, cn, gid, description, classification,
			entry.GetAttributeValues(KindPosix.MemberAttribute()))
	case slices.Contains(classes, KindGroupOfUniqueNames.ObjectClass()):
		return NewGroupOfNames(entry.DN, cn, description, true, classification,
			entry.GetAttributeValues(KindGroupOfUniqueNames.MemberAttribute()))
	case slices.Contains(classes, KindGroupOfNames.ObjectClass()):
		return NewGroupOfNames(entry.DN, cn, description, false, classification,
			entry.GetAttributeValues(KindGroupOfNames.MemberAttribute()))
	default:
		m.logger.Error("group_mapping_incompatible_entry", slog.String("dn", entry.DN))
		return nil
	}
}

// Groups maps a result list, skipping incompatible entries, sorted by the
// group natural ordering.
func (m *Mapper) Groups(entries []*ldap.Entry) []Group {
	groups := make([]Group, 0, len(entries))
	for _, entry := range entries {
		if !m.IsCompatibleGroup(entry) {
			continue
		}
		if g := m.Group(entry); g != nil {
			groups = append(groups, g)
		}
	}
	slices.SortFunc(groups, CompareGroups)
	return groups
}

func (m *Mapper) classify(cn string) Classification {
	prefixes := m.config.GroupPrefixes
	switch {
	case strings.Contains(cn, "admins") || strings.Contains(cn, "administrators") ||
		cn == m.config.AdminGroup ||
		(prefixes.Admin != "" && strings.HasPrefix(cn, prefixes.Admin)):
		return ClassificationAdmin
	case prefixes.Technical != "" && strings.HasPrefix(cn, prefixes.Technical):
		return ClassificationTechnical
	case prefixes.Team != "" && strings.HasPrefix(cn, prefixes.Team):
		return ClassificationTeam
	default:
		return ClassificationUnknown
	}
}

// directoryAttributes builds the full attribute set for an add operation.
// Passwords are appended by the caller, they are derived at insert time.
func directoryAttributes(u *User) []ldap.Attribute {
	attrs := []ldap.Attribute{
		{Type: "objectClass", Vals: userObjectClasses},
		{Type: "employeeNumber", Vals: []string{u.EmployeeNumber}},
		{Type: "uidNumber", Vals: []string{strconv.Itoa(u.UIDNumber)}},
		{Type: "gidNumber", Vals: []string{strconv.Itoa(u.GIDNumber)}},
		{Type: "loginShell", Vals: []string{u.LoginShell}},
		{Type: "homeDirectory", Vals: []string{u.HomeDirectory}},
		{Type: "sambaSID", Vals: []string{u.SambaSID}},
		{Type: "sambaAcctFlags", Vals: []string{u.SambaAcctFlags}},
		{Type: "sambaPasswordHistory", Vals: []string{u.SambaPasswordHistory}},
		{Type: "sambaPwdLastSet", Vals: []string{strconv.FormatInt(u.SambaPwdLastSet, 10)}},

		{Type: "uid", Vals: []string{u.UID}},
		{Type: "givenName", Vals: []string{u.GivenName}},
		{Type: "sn", Vals: []string{u.Surname}},
		{Type: "cn", Vals: []string{u.CN}},
		{Type: "displayName", Vals: []string{u.DisplayName}},
		{Type: "gecos", Vals: []string{u.Gecos}},

		{Type: "o", Vals: []string{u.Organization}},
		{Type: "ou", Vals: []string{u.OU}},
		{Type: "title", Vals: []string{u.Title}},
		{Type: "l", Vals: []string{u.Location}},
		{Type: "description", Vals: []string{u.Description}},

		{Type: "mail", Vals: []string{u.Mail}},
	}
	if u.Phone != "" {
		attrs = append(attrs, ldap.Attribute{Type: "telephoneNumber", Vals: []string{u.Phone}})
	}
	if u.Mobile != "" {
		attrs = append(attrs, ldap.Attribute{Type: "mobile", Vals: []string{u.Mobile}})
	}
	if u.PublicKey != "" {
		attrs = append(attrs, ldap.Attribute{Type: "szzPublicKey", Vals: []string{u.PublicKey}})
	}
	if u.BirthDate != nil {
		attrs = append(attrs,
			ldap.Attribute{Type: "szzBirthDay", Vals: []string{strconv.Itoa(u.BirthDate.Day())}},
			ldap.Attribute{Type: "szzBirthMonth", Vals: []string{strconv.Itoa(int(u.BirthDate.Month()))}})
	}
	if u.EntryDate != nil {
		attrs = append(attrs,
			ldap.Attribute{Type: "szzEntryDay", Vals: []string{strconv.Itoa(u.EntryDate.Day())}},
			ldap.Attribute{Type: "szzEntryMonth", Vals: []string{strconv.Itoa(int(u.EntryDate.Month()))}},
			ldap.Attribute{Type: "szzEntryYear", Vals: []string{strconv.Itoa(u.EntryDate.Year())}})
	}
	if u.ExitDate != nil {
		attrs = append(attrs,
			ldap.Attribute{Type: "szzExitDay", Vals: []string{strconv.Itoa(u.ExitDate.Day())}},
			ldap.Attribute{Type: "szzExitMonth", Vals: []string{strconv.Itoa(int(u.ExitDate.Month()))}},
			ldap.Attribute{Type: "szzExitYear", Vals: []string{strconv.Itoa(u.ExitDate.Year())}})
	}
	attrs = append(attrs,
		ldap.Attribute{Type: "szzStatus", Vals: []string{string(u.Status)}},
		ldap.Attribute{Type: "szzMailStatus", Vals: []string{string(u.MailStatus)}})
	return attrs
}
