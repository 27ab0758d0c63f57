package accounts

import (
	"fmt"
	"strings"
)

// Named filter templates used by every directory operation. Placeholders are
// positional ({0}, {1}); argument values must already be filter-escaped by
// the caller where they originate from user input.
const (
	QuerySearchUser          = "searchUser"
	QueryFindUserByUID       = "findUserByUid"
	QueryFindGroupByCN       = "findGroupByCn"
	QueryFindGroupsByUser    = "findGroupsByUser"
	QueryListAllUsers        = "listAllUsers"
	QueryListAllGroups       = "listAllGroups"
	QueryFindUserByUIDNumber = "findUserByUidNumber"
	QueryCheckUniqAttribute  = "checkUniqAttribute"
)

// Catalog resolves named, parameterized filter templates. The set is fixed at
// initialization; requesting an unregistered name is a configuration error.
type Catalog struct {
	templates map[string]string
}

// NewQueryCatalog registers the fixed filter set.
func NewQueryCatalog() *Catalog {
	return &Catalog{templates: map[string]string{
		QuerySearchUser:          "(&(objectClass=posixAccount)(|(uid={0})(givenName={0})(sn={0})(mail={0})(cn={0})))",
		QueryFindUserByUID:       "(&(objectClass=posixAccount)(uid={0}))",
		QueryFindGroupByCN:       "(&(|(objectClass=posixGroup)(objectClass=groupOfUniqueNames)(objectClass=groupOfNames))(cn={0}))",
		QueryFindGroupsByUser:    "(|(&(objectClass=posixGroup)(memberUid={0}))(&(objectClass=groupOfUniqueNames)(uniqueMember={1}))(&(objectClass=groupOfNames)(member={1})))",
		QueryListAllUsers:        "(&(objectClass=inetOrgPerson)(objectClass=posixAccount))",
		QueryListAllGroups:       "(|(objectClass=posixGroup)(objectClass=groupOfUniqueNames)(objectClass=groupOfNames))",
		QueryFindUserByUIDNumber: "(&(objectClass=posixAccount)(uidNumber={0}))",
		QueryCheckUniqAttribute:  "(&(objectClass=posixAccount)({0}={1}))",
	}}
}

// Resolve substitutes the positional args into the named template.
func (c *Catalog) Resolve(name string, args ...string) (string, error) {
	template, ok := c.templates[name]
	if !ok {
		return "", configErr("no filter template registered for name %q", name)
	}
	filter := template
	for i, arg := range args {
		filter = strings.ReplaceAll(filter, fmt.Sprintf("{%d}", i), arg)
	}
	return filter, nil
}

// mustResolve is for templates resolved with package-controlled names; a
// failure there is a programming error.
func (c *Catalog) mustResolve(name string, args ...string) string {
	filter, err := c.Resolve(name, args...)
	if err != nil {
		panic(err)
	}
	return filter
}
