package accounts

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserByUID(t *testing.T) {
	s, dir := newTestService(t)
	putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500, nil)

	u, err := s.UserByUID(dir, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "John", u.GivenName)
	assert.Equal(t, "uid=jdoe,ou=users,ou=acme,dc=example,dc=org", u.DN)
	assert.Equal(t, "acme", u.CompanyKey)
}

func TestUserByUIDNotFound(t *testing.T) {
	s, dir := newTestService(t)
	_, err := s.UserByUID(dir, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserByUIDDuplicateFailsHard(t *testing.T) {
	s, dir := newTestService(t)
	putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500, nil)
	// same uid in a second subtree
	dir.Put("uid=jdoe,ou=users,ou=umbrella,dc=example,dc=org", map[string][]string{
		"objectClass": userObjectClasses,
		"uid":         {"jdoe"},
	})

	_, err := s.UserByUID(dir, "jdoe")
	var ise *IllegalStateError
	require.ErrorAs(t, err, &ise)
}

func TestCountUsers(t *testing.T) {
	s, dir := newTestService(t)
	putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500, nil)
	putTestUser(dir, s.config, "asmith", "Anna", "Smith", 1501, nil)

	n, err := s.CountUsers(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUsersPagingClamped(t *testing.T) {
	s, dir := newTestService(t)
	putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500, nil)
	putTestUser(dir, s.config, "asmith", "Anna", "Smith", 1501, nil)
	putTestUser(dir, s.config, "bmue", "Bernd", "Mueller", 1502, nil)

	all, err := s.Users(dir, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// natural order: surname first
	assert.Equal(t, "jdoe", all[0].UID)
	assert.Equal(t, "bmue", all[1].UID)
	assert.Equal(t, "asmith", all[2].UID)

	page, err := s.Users(dir, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "bmue", page[0].UID)

	tail, err := s.Users(dir, 2, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)

	none, err := s.Users(dir, 99, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	neg, err := s.Users(dir, -5, 1)
	require.NoError(t, err)
	require.Len(t, neg, 1)
	assert.Equal(t, "jdoe", neg[0].UID)
}

func TestFindBySearchTerm(t *testing.T) {
	s, dir := newTestService(t)
	putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500, nil)
	putTestUser(dir, s.config, "asmith", "Anna", "Smith", 1501, nil)

	hits, err := s.FindBySearchTerm(dir, "doe")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "jdoe", hits[0].UID)

	hits, err = s.FindBySearchTerm(dir, "smith")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "asmith", hits[0].UID)

	hits, err = s.FindBySearchTerm(dir, "nobody")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGroupByCN(t *testing.T) {
	s, dir := newTestService(t)
	putTestGroup(dir, s.config, "team-infra", KindPosix, []string{"jdoe"})

	g, err := s.GroupByCN(dir, "team-infra")
	require.NoError(t, err)
	assert.Equal(t, "team-infra", g.CN())
	assert.Equal(t, KindPosix, g.Kind())

	_, err = s.GroupByCN(dir, "ghost")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestGroupsSorted(t *testing.T) {
	s, dir := newTestService(t)
	putTestGroup(dir, s.config, "team-zoo", KindPosix, nil)
	putTestGroup(dir, s.config, "admin-backup", KindGroupOfNames, nil)
	putTestGroup(dir, s.config, "team-backup", KindPosix, nil)

	groups, err := s.Groups(dir)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "admin-backup", groups[0].CN())
	assert.Equal(t, "team-backup", groups[1].CN())
	assert.Equal(t, "team-zoo", groups[2].CN())
}

func TestGroupsByUser(t *testing.T) {
	s, dir := newTestService(t)
	dn := putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500, nil)
	putTestGroup(dir, s.config, "team-infra", KindPosix, []string{"jdoe"})
	putTestGroup(dir, s.config, "admin-infra", KindGroupOfUniqueNames, []string{dn})
	putTestGroup(dir, s.config, "team-other", KindPosix, []string{"asmith"})

	groups, err := s.GroupsByUser(dir, "jdoe", dn)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "admin-infra", groups[0].CN())
	assert.Equal(t, "team-infra", groups[1].CN())
}

func TestUsersByGroup(t *testing.T) {
	s, dir := newTestService(t)
	dnDoe := putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500, nil)
	putTestUser(dir, s.config, "asmith", "Anna", "Smith", 1501, nil)
	putTestGroup(dir, s.config, "admin-infra", KindGroupOfNames,
		[]string{dnDoe, "uid=gone,ou=users,ou=acme,dc=example,dc=org"})

	g, err := s.GroupByCN(dir, "admin-infra")
	require.NoError(t, err)
	users, err := s.UsersByGroup(dir, g)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "jdoe", users[0].UID)
}

func TestAttributeInUse(t *testing.T) {
	s, dir := newTestService(t)
	putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500, nil)

	used, err := s.attributeInUse(dir, "mail", "jdoe@example.com")
	require.NoError(t, err)
	assert.True(t, used)

	used, err = s.attributeInUse(dir, "mail", "free@example.com")
	require.NoError(t, err)
	assert.False(t, used)
}

func TestDistinctValueListingsCached(t *testing.T) {
	s, dir := newTestService(t)
	putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500,
		map[string][]string{"ou": {"Engineering"}})
	putTestUser(dir, s.config, "asmith", "Anna", "Smith", 1501,
		map[string][]string{"ou": {"Design"}})

	departments, err := s.Departments(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Design", "Engineering"}, departments)

	// new value within the TTL is not picked up
	putTestUser(dir, s.config, "bmue", "Bernd", "Mueller", 1502,
		map[string][]string{"ou": {"Sales"}})
	departments, err = s.Departments(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Design", "Engineering"}, departments)

	// expired cache refreshes
	s.now = func() time.Time { return testNow.Add(listingTTL + time.Minute) }
	departments, err = s.Departments(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Design", "Engineering", "Sales"}, departments)
}

func TestSearchFailureWrapped(t *testing.T) {
	s, dir := newTestService(t)
	dir.SearchErr = errors.New("connection reset")

	_, err := s.UserByUID(dir, "jdoe")
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, CodeLDAPFailed, be.Code)
}
