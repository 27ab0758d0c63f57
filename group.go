package accounts

import (
	"slices"
	"strings"
)

// GroupKind identifies which LDAP schema convention a group entry follows.
// The kind decides which attribute lists members and whether members are
// referenced by uid or by full DN.
type GroupKind int

const (
	// KindPosix lists members by uid in memberUid (RFC 2307).
	KindPosix GroupKind = iota
	// KindGroupOfNames lists members by DN in member (RFC 4519, 3.5).
	KindGroupOfNames
	// KindGroupOfUniqueNames lists members by DN in uniqueMember (RFC 4519, 3.6).
	KindGroupOfUniqueNames
)

// ObjectClass returns the structural object class of the kind.
func (k GroupKind) ObjectClass() string {
	switch k {
	case KindGroupOfNames:
		return "groupOfNames"
	case KindGroupOfUniqueNames:
		return "groupOfUniqueNames"
	default:
		return "posixGroup"
	}
}

// MemberAttribute returns the attribute holding the member list.
func (k GroupKind) MemberAttribute() string {
	switch k {
	case KindGroupOfNames:
		return "member"
	case KindGroupOfUniqueNames:
		return "uniqueMember"
	default:
		return "memberUid"
	}
}

// Classification buckets a group by naming convention and admin-group
// configuration.
type Classification string

const (
	ClassificationAdmin     Classification = "ADMIN"
	ClassificationTeam      Classification = "TEAM"
	ClassificationTechnical Classification = "TECHNICAL"
	ClassificationUnknown   Classification = "UNKNOWN"
)

// Group is the behavioral contract shared by the three schema variants.
// Except for member-list modifications groups are read-only to this package.
type Group interface {
	DN() string
	CN() string
	Description() string
	// MemberIDs holds uids for posix groups and DNs for the name-based kinds.
	MemberIDs() []string
	Kind() GroupKind
	Classification() Classification
	ObjectClasses() []string
}

type groupBase struct {
	dn             string
	cn             string
	description    string
	classification Classification
	memberIDs      []string
}

func (g groupBase) DN() string                     { return g.dn }
func (g groupBase) CN() string                     { return g.cn }
func (g groupBase) Description() string            { return g.description }
func (g groupBase) MemberIDs() []string            { return g.memberIDs }
func (g groupBase) Classification() Classification { return g.classification }

// PosixGroup is a posixGroup entry; members are bare uids.
type PosixGroup struct {
	groupBase
	GID int
}

// NewPosixGroup builds a posix group record.
func NewPosixGroup(dn, cn string, gid int, description string, classification Classification, memberIDs []string) PosixGroup {
	return PosixGroup{groupBase{dn, cn, description, classification, memberIDs}, gid}
}

func (g PosixGroup) Kind() GroupKind         { return KindPosix }
func (g PosixGroup) ObjectClasses() []string { return []string{"top", KindPosix.ObjectClass()} }

// GroupOfNames is a groupOfNames or, with Unique set, a groupOfUniqueNames
// entry; members are full DNs either way.
type GroupOfNames struct {
	groupBase
	Unique bool
}

// NewGroupOfNames builds a name-based group record.
func NewGroupOfNames(dn, cn, description string, unique bool, classification Classification, memberIDs []string) GroupOfNames {
	return GroupOfNames{groupBase{dn, cn, description, classification, memberIDs}, unique}
}

func (g GroupOfNames) Kind() GroupKind {
	if g.Unique {
		return KindGroupOfUniqueNames
	}
	return KindGroupOfNames
}

func (g GroupOfNames) ObjectClasses() []string {
	return []string{"top", g.Kind().ObjectClass()}
}

// GroupPrefix returns the naming prefix before the first hyphen, or "" when
// the cn carries none.
func GroupPrefix(g Group) string {
	if before, _, found := strings.Cut(g.CN(), "-"); found {
		return before
	}
	return ""
}

// GroupName returns the cn without its naming prefix.
func GroupName(g Group) string {
	if _, after, found := strings.Cut(g.CN(), "-"); found {
		return after
	}
	return g.CN()
}

// HasMember reports whether the user identified by uid and dn is a member.
// Posix groups store uids and the name-based kinds store DNs, so both forms
// are tried.
func HasMember(g Group, uid, dn string) bool {
	return slices.Contains(g.MemberIDs(), uid) || slices.Contains(g.MemberIDs(), dn)
}

// memberValue selects the member-list representation of a user for the
// group's kind.
func memberValue(g Group, u *User) string {
	if g.Kind() == KindPosix {
		return u.UID
	}
	return u.DN
}

// CompareGroups orders groups by name without prefix, then prefix, both
// case-insensitively.
func CompareGroups(a, b Group) int {
	if c := strings.Compare(strings.ToLower(GroupName(a)), strings.ToLower(GroupName(b))); c != 0 {
		return c
	}
	return strings.Compare(strings.ToLower(GroupPrefix(a)), strings.ToLower(GroupPrefix(b)))
}
