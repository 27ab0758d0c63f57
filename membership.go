package accounts

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// AddUserToGroup adds the user to the group's member list and returns the
// resulting membership state. The call is idempotent: when the user already
// is a member no write is issued. A directory failure is logged and the
// previous state returned, membership changes degrade instead of failing the
// caller.
func (s *Service) AddUserToGroup(conn Conn, group Group, user *User) Group {
	if HasMember(group, user.UID, user.DN) {
		return group
	}
	req := ldap.NewModifyRequest(group.DN(), nil)
	req.Add(group.Kind().MemberAttribute(), []string{memberValue(group, user)})
	if err := conn.Modify(req); err != nil {
		s.logger.Error("group_member_add_failed",
			slog.String("group", group.CN()),
			slog.String("uid", user.UID),
			slog.String("error", err.Error()))
		return group
	}
	s.logger.Info("group_member_added",
		slog.String("group", group.CN()), slog.String("uid", user.UID))
	return s.refreshGroup(conn, group)
}

// RemoveUserFromGroup removes the user from the group's member list,
// mirroring AddUserToGroup's idempotence and degrade behavior.
func (s *Service) RemoveUserFromGroup(conn Conn, group Group, user *User) Group {
	if !HasMember(group, user.UID, user.DN) {
		return group
	}
	req := ldap.NewModifyRequest(group.DN(), nil)
	req.Delete(group.Kind().MemberAttribute(), []string{memberValue(group, user)})
	if err := conn.Modify(req); err != nil {
		s.logger.Error("group_member_remove_failed",
			slog.String("group", group.CN()),
			slog.String("uid", user.UID),
			slog.String("error", err.Error()))
		return group
	}
	s.logger.Info("group_member_removed",
		slog.String("group", group.CN()), slog.String("uid", user.UID))
	return s.refreshGroup(conn, group)
}

// refreshGroup re-reads the group after a membership write; when the re-read
// fails the stale record is returned rather than none.
func (s *Service) refreshGroup(conn Conn, group Group) Group {
	refreshed, err := s.GroupByCN(conn, group.CN())
	if err != nil {
		s.logger.Warn("group_refresh_failed",
			slog.String("group", group.CN()), slog.String("error", err.Error()))
		return group
	}
	return refreshed
}

// AdminGroupFor resolves the admin counterpart of a team group by swapping
// the team prefix for the admin prefix. When no such group exists the global
// admin group is the fallback.
func (s *Service) AdminGroupFor(conn Conn, group Group) (Group, error) {
	prefixes := s.config.GroupPrefixes
	if prefixes.Team != "" && prefixes.Admin != "" && strings.HasPrefix(group.CN(), prefixes.Team) {
		adminCN := prefixes.Admin + strings.TrimPrefix(group.CN(), prefixes.Team)
		admin, err := s.GroupByCN(conn, adminCN)
		if err == nil {
			return admin, nil
		}
		if !errors.Is(err, ErrGroupNotFound) {
			return nil, err
		}
	}
	return s.GroupByCN(conn, s.config.AdminGroup)
}
