package accounts

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Bucket names for the reconciliation results.
const (
	// BucketLeaving holds active users whose exit date falls within the
	// next two weeks.
	BucketLeaving = "leavingUsers"
	// BucketUnmaintained holds users still marked active although their
	// exit date has passed.
	BucketUnmaintained = "unmaintainedUsers"
	// BucketUnmaintainedMail holds deactivated users whose mail sync is
	// still active.
	BucketUnmaintainedMail = "unmaintainedMailUsers"
)

const (
	// reconcileBlockSize is the page size of the full-directory scan.
	reconcileBlockSize = 250
	// bucketTTL is how long scan results stay servable; expired buckets
	// read as empty rather than stale.
	bucketTTL = 24 * time.Hour
	// defaultLeavingWeeks is the scan lookahead for the leaving bucket.
	defaultLeavingWeeks = 2
	// expirationWindow is the tighter refilter for per-user notices.
	expirationWindow = 14 * 24 * time.Hour
)

// Notifier delivers reconciliation results to whoever maintains the
// accounts.
type Notifier interface {
	SendSummary(bucket string, users []*User) error
	SendExpirationNotice(user *User) error
	SendAccountChangeNotice(user *User) error
}

// Maintenance runs the periodic account reconciliation: it scans the
// directory for accounts whose lifecycle state contradicts their exit date,
// keeps the findings in time-bounded buckets, and wraps activation and
// deactivation with the default-group and notification side effects.
type Maintenance struct {
	service  *Service
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	// LeavingWeeks widens the scan lookahead for the leaving bucket;
	// zero means the default of two weeks.
	LeavingWeeks int

	mu        sync.Mutex
	buckets   map[string][]*User
	refreshed time.Time
}

// NewMaintenance wires the maintenance layer on top of the directory
// service. The notifier may be nil, then the notify operations are no-ops.
func NewMaintenance(service *Service, notifier Notifier) *Maintenance {
	return &Maintenance{
		service:  service,
		notifier: notifier,
		logger:   service.logger,
		now:      service.now,
		buckets:  make(map[string][]*User),
	}
}

// RefreshUnmaintained scans all users in blocks and rebuilds the three
// buckets in one wholesale swap; readers never see a half-built state.
func (m *Maintenance) RefreshUnmaintained(conn Conn) error {
	today := dateOnly(m.now())
	weeks := m.LeavingWeeks
	if weeks <= 0 {
		weeks = defaultLeavingWeeks
	}
	horizon := today.AddDate(0, 0, 7*weeks)

	fresh := map[string][]*User{
		BucketLeaving:          nil,
		BucketUnmaintained:     nil,
		BucketUnmaintainedMail: nil,
	}

	for offset := 0; ; offset += reconcileBlockSize {
		page, err := m.service.Users(conn, offset, reconcileBlockSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		for _, user := range page {
			// deactivated account whose mail sync was forgotten
			if user.Status == StateInactive && user.MailStatus == StateActive {
				fresh[BucketUnmaintainedMail] = append(fresh[BucketUnmaintainedMail], user)
			}
			if user.ExitDate == nil || user.Status != StateActive {
				continue
			}
			exit := *user.ExitDate
			switch {
			case exit.Before(today):
				fresh[BucketUnmaintained] = append(fresh[BucketUnmaintained], user)
			case exit.Before(horizon):
				fresh[BucketLeaving] = append(fresh[BucketLeaving], user)
			}
		}
		if len(page) < reconcileBlockSize {
			break
		}
	}

	m.mu.Lock()
	m.buckets = fresh
	m.refreshed = m.now()
	m.mu.Unlock()

	m.logger.Info("reconciliation_complete",
		slog.Int("leaving", len(fresh[BucketLeaving])),
		slog.Int("unmaintained", len(fresh[BucketUnmaintained])),
		slog.Int("unmaintained_mail", len(fresh[BucketUnmaintainedMail])))
	return nil
}

// UsersByBucket returns the bucket from the last scan. An expired or
// never-filled cache reads as empty, the maintenance views must never show
// day-old findings as current.
func (m *Maintenance) UsersByBucket(bucket string) []*User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshed.IsZero() || m.now().Sub(m.refreshed) >= bucketTTL {
		return nil
	}
	users := m.buckets[bucket]
	out := make([]*User, len(users))
	copy(out, users)
	return out
}

// NotifyUnmaintained sends a summary per non-empty bucket.
func (m *Maintenance) NotifyUnmaintained() error {
	if m.notifier == nil {
		return nil
	}
	for _, bucket := range []string{BucketLeaving, BucketUnmaintained, BucketUnmaintainedMail} {
		users := m.UsersByBucket(bucket)
		if len(users) == 0 {
			continue
		}
		if err := m.notifier.SendSummary(bucket, users); err != nil {
			return err
		}
	}
	return nil
}

// NotifyExpiring notifies each leaving user individually. The bucket is
// refiltered against the window at send time so users whose exit date was
// moved since the scan do not get a stale notice.
func (m *Maintenance) NotifyExpiring(conn Conn) error {
	if m.notifier == nil {
		return nil
	}
	today := dateOnly(m.now())
	horizon := today.Add(expirationWindow)
	for _, user := range m.UsersByBucket(BucketLeaving) {
		current, err := m.service.UserByUID(conn, user.UID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return err
		}
		if current.ExitDate == nil || current.ExitDate.Before(today) || !current.ExitDate.Before(horizon) {
			continue
		}
		if err := m.notifier.SendExpirationNotice(current); err != nil {
			return err
		}
	}
	return nil
}

// ActivateUser activates the account, joins the configured default groups
// and sends the change notice.
func (m *Maintenance) ActivateUser(conn Conn, user *User) *User {
	activated := m.service.Activate(conn, user)
	if activated.Status == StateActive {
		m.AddDefaultGroups(conn, activated)
		m.sendChangeNotice(activated)
	}
	return activated
}

// DeactivateUser deactivates the account, removes it from the configured
// default groups and sends the change notice.
func (m *Maintenance) DeactivateUser(conn Conn, user *User) *User {
	deactivated := m.service.Deactivate(conn, user)
	if deactivated.Status == StateInactive {
		m.RemoveDefaultGroups(conn, deactivated)
		m.sendChangeNotice(deactivated)
	}
	return deactivated
}

// AddDefaultGroups joins the user to every configured default group.
// Unresolvable groups are logged and skipped.
func (m *Maintenance) AddDefaultGroups(conn Conn, user *User) {
	if len(m.service.config.DefaultGroups) == 0 {
		m.logger.Debug("no_default_groups_configured")
		return
	}
	for _, cn := range m.service.config.DefaultGroups {
		group, err := m.service.GroupByCN(conn, cn)
		if err != nil {
			m.logger.Warn("default_group_unresolvable",
				slog.String("group", cn), slog.String("error", err.Error()))
			continue
		}
		m.service.AddUserToGroup(conn, group, user)
	}
}

// RemoveDefaultGroups removes the user from every configured default group.
func (m *Maintenance) RemoveDefaultGroups(conn Conn, user *User) {
	if len(m.service.config.DefaultGroups) == 0 {
		m.logger.Debug("no_default_groups_configured")
		return
	}
	for _, cn := range m.service.config.DefaultGroups {
		group, err := m.service.GroupByCN(conn, cn)
		if err != nil {
			m.logger.Warn("default_group_unresolvable",
				slog.String("group", cn), slog.String("error", err.Error()))
			continue
		}
		m.service.RemoveUserFromGroup(conn, group, user)
	}
}

func (m *Maintenance) sendChangeNotice(user *User) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.SendAccountChangeNotice(user); err != nil {
		m.logger.Warn("account_change_notice_failed",
			slog.String("uid", user.UID), slog.String("error", err.Error()))
	}
}

// dateOnly truncates a timestamp to its UTC calendar day.
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
