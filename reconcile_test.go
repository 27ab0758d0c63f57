package accounts

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accounttool/ldap-accounts/testutil"
)

type fakeNotifier struct {
	summaries   map[string][]string
	expirations []string
	changes     []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{summaries: make(map[string][]string)}
}

func (n *fakeNotifier) SendSummary(bucket string, users []*User) error {
	for _, u := range users {
		n.summaries[bucket] = append(n.summaries[bucket], u.UID)
	}
	return nil
}

func (n *fakeNotifier) SendExpirationNotice(user *User) error {
	n.expirations = append(n.expirations, user.UID)
	return nil
}

func (n *fakeNotifier) SendAccountChangeNotice(user *User) error {
	n.changes = append(n.changes, user.UID)
	return nil
}

// seedWorkforce creates count users spanning multiple scan pages. The first
// five are past their exit date but still active, the next three leave
// within the next two weeks, the two after that are deactivated with the
// mail sync left on, the rest stay far in the future.
func seedWorkforce(dir *testutil.FakeDirectory, cfg *Config, count int) {
	for i := 0; i < count; i++ {
		uid := fmt.Sprintf("user%03d", i)
		overrides := map[string][]string{
			"mail": {uid + "@example.com"},
		}
		switch {
		case i < 5:
			overrides["szzExitDay"] = []string{"1"}
			overrides["szzExitMonth"] = []string{"8"}
			overrides["szzExitYear"] = []string{"2026"}
		case i < 8:
			overrides["szzExitDay"] = []string{"5"}
			overrides["szzExitMonth"] = []string{"9"}
			overrides["szzExitYear"] = []string{"2026"}
		case i < 10:
			overrides["szzStatus"] = []string{"inactive"}
		}
		putTestUser(dir, cfg, uid, "Given", fmt.Sprintf("Surname%03d", i), 2000+i, overrides)
	}
}

func newTestMaintenance(t *testing.T) (*Maintenance, *Service, *testutil.FakeDirectory, *fakeNotifier) {
	t.Helper()
	s, dir := newTestService(t)
	notifier := newFakeNotifier()
	return NewMaintenance(s, notifier), s, dir, notifier
}

func TestRefreshUnmaintainedBuckets(t *testing.T) {
	m, s, dir, _ := newTestMaintenance(t)
	seedWorkforce(dir, s.config, 260)

	require.NoError(t, m.RefreshUnmaintained(dir))

	assert.Len(t, m.UsersByBucket(BucketUnmaintained), 5)
	assert.Len(t, m.UsersByBucket(BucketUnmaintainedMail), 2)
	assert.Len(t, m.UsersByBucket(BucketLeaving), 3)
}

func TestRefreshUnmaintainedIgnoresInactive(t *testing.T) {
	m, s, dir, _ := newTestMaintenance(t)
	// past exit date but already deactivated
	putTestUser(dir, s.config, "gone", "Gone", "Away", 2000, map[string][]string{
		"szzExitDay": {"1"}, "szzExitMonth": {"8"}, "szzExitYear": {"2026"},
		"szzStatus": {"inactive"}, "szzMailStatus": {"inactive"},
	})
	// past exit date, account off but mail sync forgotten
	putTestUser(dir, s.config, "halfgone", "Half", "Gone", 2001, map[string][]string{
		"szzExitDay": {"1"}, "szzExitMonth": {"8"}, "szzExitYear": {"2026"},
		"szzStatus": {"inactive"},
	})

	require.NoError(t, m.RefreshUnmaintained(dir))
	assert.Empty(t, m.UsersByBucket(BucketUnmaintained))
	mailBucket := m.UsersByBucket(BucketUnmaintainedMail)
	require.Len(t, mailBucket, 1)
	assert.Equal(t, "halfgone", mailBucket[0].UID)
}

func TestLeavingBucketExcludesHorizonBoundary(t *testing.T) {
	m, s, dir, _ := newTestMaintenance(t)
	// two weeks ahead of the frozen clock is 2026-09-11; the window is
	// exclusive at that edge
	putTestUser(dir, s.config, "edge", "Ed", "Gecase", 2000, map[string][]string{
		"szzExitDay": {"11"}, "szzExitMonth": {"9"}, "szzExitYear": {"2026"},
	})
	putTestUser(dir, s.config, "soon", "Sue", "Nerly", 2001, map[string][]string{
		"szzExitDay": {"10"}, "szzExitMonth": {"9"}, "szzExitYear": {"2026"},
	})

	require.NoError(t, m.RefreshUnmaintained(dir))
	leaving := m.UsersByBucket(BucketLeaving)
	require.Len(t, leaving, 1)
	assert.Equal(t, "soon", leaving[0].UID)
}

func TestBucketsExpire(t *testing.T) {
	m, s, dir, _ := newTestMaintenance(t)
	seedWorkforce(dir, s.config, 10)
	require.NoError(t, m.RefreshUnmaintained(dir))
	require.NotEmpty(t, m.UsersByBucket(BucketUnmaintained))

	m.now = func() time.Time { return testNow.Add(bucketTTL + time.Minute) }
	assert.Empty(t, m.UsersByBucket(BucketUnmaintained))
	assert.Empty(t, m.UsersByBucket(BucketLeaving))
}

func TestBucketsEmptyBeforeFirstScan(t *testing.T) {
	m, _, _, _ := newTestMaintenance(t)
	assert.Empty(t, m.UsersByBucket(BucketUnmaintained))
}

func TestNotifyUnmaintained(t *testing.T) {
	m, s, dir, notifier := newTestMaintenance(t)
	seedWorkforce(dir, s.config, 10)
	require.NoError(t, m.RefreshUnmaintained(dir))
	require.NoError(t, m.NotifyUnmaintained())

	assert.Len(t, notifier.summaries[BucketUnmaintained], 5)
	assert.Len(t, notifier.summaries[BucketUnmaintainedMail], 2)
	assert.Len(t, notifier.summaries[BucketLeaving], 3)
}

func TestNotifyExpiringRefilters(t *testing.T) {
	m, s, dir, notifier := newTestMaintenance(t)
	seedWorkforce(dir, s.config, 10)
	require.NoError(t, m.RefreshUnmaintained(dir))

	// one leaving user's exit date was pushed out after the scan
	dn := "uid=user005,ou=users,ou=acme,dc=example,dc=org"
	entry := dir.Entry(dn)
	require.NotNil(t, entry)
	attrs := entry.Attributes
	attrs["szzExitYear"] = []string{"2030"}
	dir.Put(dn, attrs)

	require.NoError(t, m.NotifyExpiring(dir))
	assert.ElementsMatch(t, []string{"user006", "user007"}, notifier.expirations)
}

func TestNotifyExpiringExcludesWindowBoundary(t *testing.T) {
	m, s, dir, notifier := newTestMaintenance(t)
	seedWorkforce(dir, s.config, 10)
	require.NoError(t, m.RefreshUnmaintained(dir))

	// one leaving user's exit date now sits exactly on the two-week edge
	dn := "uid=user006,ou=users,ou=acme,dc=example,dc=org"
	entry := dir.Entry(dn)
	require.NotNil(t, entry)
	attrs := entry.Attributes
	attrs["szzExitDay"] = []string{"11"}
	attrs["szzExitMonth"] = []string{"9"}
	dir.Put(dn, attrs)

	require.NoError(t, m.NotifyExpiring(dir))
	assert.ElementsMatch(t, []string{"user005", "user007"}, notifier.expirations)
}

func TestActivateUserJoinsDefaultGroups(t *testing.T) {
	m, s, dir, notifier := newTestMaintenance(t)
	dn := putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500,
		map[string][]string{"szzStatus": {"inactive"}, "szzMailStatus": {"inactive"}})
	putTestGroup(dir, s.config, "team-all", KindPosix, nil)
	user, err := s.UserByUID(dir, "jdoe")
	require.NoError(t, err)

	activated := m.ActivateUser(dir, user)
	assert.Equal(t, StateActive, activated.Status)
	assert.Equal(t, []string{"jdoe"}, notifier.changes)

	group, err := s.GroupByCN(dir, "team-all")
	require.NoError(t, err)
	assert.True(t, HasMember(group, "jdoe", dn))
}

func TestDeactivateUserLeavesDefaultGroups(t *testing.T) {
	m, s, dir, notifier := newTestMaintenance(t)
	dn := putTestUser(dir, s.config, "jdoe", "John", "Doe", 1500, nil)
	putTestGroup(dir, s.config, "team-all", KindPosix, []string{"jdoe"})
	putTestGroup(dir, s.config, "team-backup", KindPosix, []string{"jdoe"})
	user, err := s.UserByUID(dir, "jdoe")
	require.NoError(t, err)

	deactivated := m.DeactivateUser(dir, user)
	assert.Equal(t, StateInactive, deactivated.Status)
	assert.Equal(t, []string{"jdoe"}, notifier.changes)

	group, err := s.GroupByCN(dir, "team-all")
	require.NoError(t, err)
	assert.False(t, HasMember(group, "jdoe", dn), "deactivation leaves the default groups")

	other, err := s.GroupByCN(dir, "team-backup")
	require.NoError(t, err)
	assert.True(t, HasMember(other, "jdoe", dn), "non-default memberships survive")
}

func TestDefaultGroupsEmptyConfigIsNoOp(t *testing.T) {
	m, s, dir, _ := newTestMaintenance(t)
	s.config.DefaultGroups = nil
	var buf bytes.Buffer
	m.logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	user := &User{UID: "jdoe"}
	m.AddDefaultGroups(dir, user)
	m.RemoveDefaultGroups(dir, user)

	assert.Empty(t, dir.SearchRequests)
	assert.Empty(t, dir.ModifyRequests)
	assert.Contains(t, buf.String(), "no_default_groups_configured")
}
