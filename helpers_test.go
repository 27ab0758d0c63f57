package accounts

import (
	"io"
	"log/slog"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/accounttool/ldap-accounts/testutil"
)

// testNow is the frozen clock used by service tests.
var testNow = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

func testConfig() *Config {
	return &Config{
		Host:    "localhost",
		Port:    389,
		BaseDN:  "dc=example,dc=org",
		GroupDN: "ou=groups,dc=example,dc=org",
		UserDNTemplates: map[string]string{
			"acme":     "uid={0},ou=users,ou=acme,dc=example,dc=org",
			"umbrella": "uid={0},ou=users,ou=umbrella,dc=example,dc=org",
		},
		Companies: map[string]string{
			"acme":     "ACME GmbH",
			"umbrella": "Umbrella Corp",
		},
		GroupPrefixes: GroupPrefixes{Admin: "admin-", Team: "team-", Technical: "tech-"},
		AdminGroup:    "directory-admins",
		DefaultGroups: []string{"team-all"},
		PrimaryDomain: "example.com",
		SmbIDPrefix:   "S-1-5-21-1234567890-",
		HomeDirPrefix: "/home/",
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestService(t *testing.T) (*Service, *testutil.FakeDirectory) {
	t.Helper()
	s, err := NewService(testConfig())
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }
	return s, testutil.NewFakeDirectory()
}

// putTestUser seeds a complete user entry under the acme subtree and returns
// its DN. Overrides replace the defaults attribute-wise; a nil value deletes
// the attribute.
func putTestUser(dir *testutil.FakeDirectory, cfg *Config, uid, givenName, surname string, uidNumber int, overrides map[string][]string) string {
	dn := "uid=" + uid + ",ou=users,ou=acme,dc=example,dc=org"
	attrs := map[string][]string{
		"objectClass":          slices.Clone(userObjectClasses),
		"uid":                  {uid},
		"givenName":            {givenName},
		"sn":                   {surname},
		"cn":                   {givenName + " " + surname},
		"displayName":          {givenName + " " + surname},
		"gecos":                {Asciify(givenName + " " + surname)},
		"mail":                 {uid + "@example.com"},
		"uidNumber":            {strconv.Itoa(uidNumber)},
		"gidNumber":            {strconv.Itoa(DefaultGIDNumber)},
		"homeDirectory":        {"/home/" + uid},
		"loginShell":           {DefaultLoginShell},
		"employeeNumber":       {"emp-" + uid},
		"o":                    {cfg.Companies["acme"]},
		"ou":                   {"Engineering"},
		"l":                    {"Hamburg"},
		"description":          {"Mitarbeiter"},
		"szzStatus":            {"active"},
		"szzMailStatus":        {"active"},
		"szzEntryDay":          {"1"},
		"szzEntryMonth":        {"2"},
		"szzEntryYear":         {"2020"},
		"szzExitDay":           {"31"},
		"szzExitMonth":         {"12"},
		"szzExitYear":          {"2030"},
		"sambaSID":             {"S-1-5-21-1234567890-" + strconv.Itoa(uidNumber*2+1000)},
		"sambaAcctFlags":       {sambaAcctFlagsDefault},
		"sambaPasswordHistory": {sambaPasswordHistoryDefault},
		"sambaPwdLastSet":      {"1700000000"},
	}
	for k, v := range overrides {
		if v == nil {
			delete(attrs, k)
			continue
		}
		attrs[k] = v
	}
	dir.Put(dn, attrs)
	return dn
}

// putTestGroup seeds a group entry and returns its DN.
func putTestGroup(dir *testutil.FakeDirectory, cfg *Config, cn string, kind GroupKind, members []string) string {
	dn := "cn=" + cn + "," + cfg.GroupDN
	attrs := map[string][]string{
		"objectClass": {"top", kind.ObjectClass()},
		"cn":          {cn},
		"description": {cn + " group"},
	}
	if kind == KindPosix {
		attrs["gidNumber"] = []string{"5000"}
	}
	if len(members) > 0 {
		attrs[kind.MemberAttribute()] = slices.Clone(members)
	}
	dir.Put(dn, attrs)
	return dn
}
