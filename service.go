package accounts

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of the LDAP connection the service needs. *ldap.Conn
// satisfies it; tests substitute an in-memory directory. Connections are
// passed per call, the service holds no connection state.
type Conn interface {
	Search(*ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(*ldap.AddRequest) error
	Modify(*ldap.ModifyRequest) error
	ModifyDN(*ldap.ModifyDNRequest) error
}

// listingTTL bounds how long the distinct-value listings (departments,
// locations, employment types) are served from cache.
const listingTTL = 6 * time.Hour

type listingCache struct {
	values  []string
	fetched time.Time
}

// Service implements the employee identity operations on top of a raw
// directory connection: typed lookups, uniqueness-checked account creation,
// diff-based updates, membership changes and password management.
type Service struct {
	config    *Config
	catalog   *Catalog
	mapper    *Mapper
	allocator *UIDAllocator
	logger    *slog.Logger

	userHasher  PasswordHasher
	sambaHasher PasswordHasher

	now func() time.Time

	listingMu sync.Mutex
	listings  map[string]*listingCache
}

// NewService validates the configuration and wires the service.
func NewService(config *Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	catalog := NewQueryCatalog()
	return &Service{
		config:      config,
		catalog:     catalog,
		mapper:      NewMapper(config),
		allocator:   NewUIDAllocator(config, catalog),
		logger:      config.logger(),
		userHasher:  SSHAHasher{},
		sambaHasher: NTHasher{},
		now:         time.Now,
		listings:    make(map[string]*listingCache),
	}, nil
}

func (s *Service) searchEntries(conn Conn, baseDN, filter string) ([]*ldap.Entry, error) {
	res, err := conn.Search(ldap.NewSearchRequest(
		baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, nil, nil))
	if err != nil {
		return nil, wrapDirectoryErr(CodeLDAPFailed, err)
	}
	return res.Entries, nil
}

// CountUsers returns the number of user entries below the base DN.
func (s *Service) CountUsers(conn Conn) (int, error) {
	filter := s.catalog.mustResolve(QueryListAllUsers)
	res, err := conn.Search(ldap.NewSearchRequest(
		s.config.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"uid"}, nil))
	if err != nil {
		return 0, wrapDirectoryErr(CodeLDAPFailed, err)
	}
	return len(res.Entries), nil
}

// Users returns a page of all users in natural order. offset and limit are
// clamped to the result bounds; limit 0 means the rest of the list.
func (s *Service) Users(conn Conn, offset, limit int) ([]*User, error) {
	entries, err := s.searchEntries(conn, s.config.BaseDN, s.catalog.mustResolve(QueryListAllUsers))
	if err != nil {
		return nil, err
	}
	users := s.mapper.Users(entries)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(users) {
		return nil, nil
	}
	end := len(users)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return users[offset:end], nil
}

// UserByUID returns the single user with the given uid, ErrUserNotFound when
// no entry matches. More than one match violates the uniqueness the rest of
// the package is built on and fails hard.
func (s *Service) UserByUID(conn Conn, uid string) (*User, error) {
	filter := s.catalog.mustResolve(QueryFindUserByUID, ldap.EscapeFilter(uid))
	entries, err := s.searchEntries(conn, s.config.BaseDN, filter)
	if err != nil {
		return nil, err
	}
	switch len(entries) {
	case 0:
		return nil, ErrUserNotFound
	case 1:
		return s.mapper.User(entries[0]), nil
	default:
		return nil, illegalState("found %d entries for uid %q, expected at most one", len(entries), uid)
	}
}

// FindBySearchTerm searches uid, name, mail and cn for the term as an infix,
// returning matches in natural order.
func (s *Service) FindBySearchTerm(conn Conn, term string) ([]*User, error) {
	pattern := "*" + ldap.EscapeFilter(term) + "*"
	entries, err := s.searchEntries(conn, s.config.BaseDN, s.catalog.mustResolve(QuerySearchUser, pattern))
	if err != nil {
		return nil, err
	}
	return s.mapper.Users(entries), nil
}

// GroupByCN returns the single group with the given cn, ErrGroupNotFound
// when no entry matches.
func (s *Service) GroupByCN(conn Conn, cn string) (Group, error) {
	filter := s.catalog.mustResolve(QueryFindGroupByCN, ldap.EscapeFilter(cn))
	entries, err := s.searchEntries(conn, s.config.GroupDN, filter)
	if err != nil {
		return nil, err
	}
	switch len(entries) {
	case 0:
		return nil, ErrGroupNotFound
	case 1:
		return s.mapper.Group(entries[0]), nil
	default:
		return nil, illegalState("found %d entries for group cn %q, expected at most one", len(entries), cn)
	}
}

// Groups returns all groups in natural order.
func (s *Service) Groups(conn Conn) ([]Group, error) {
	entries, err := s.searchEntries(conn, s.config.GroupDN, s.catalog.mustResolve(QueryListAllGroups))
	if err != nil {
		return nil, err
	}
	return s.mapper.Groups(entries), nil
}

// GroupsByUser returns the groups the user is a member of, matching posix
// membership by uid and name-based membership by DN.
func (s *Service) GroupsByUser(conn Conn, uid, dn string) ([]Group, error) {
	filter := s.catalog.mustResolve(QueryFindGroupsByUser,
		ldap.EscapeFilter(uid), ldap.EscapeFilter(dn))
	entries, err := s.searchEntries(conn, s.config.GroupDN, filter)
	if err != nil {
		return nil, err
	}
	return s.mapper.Groups(entries), nil
}

// UsersByGroup resolves the group's member list to user records. Members
// that no longer resolve are logged and skipped, a stale member reference
// must not break the listing.
func (s *Service) UsersByGroup(conn Conn, group Group) ([]*User, error) {
	users := make([]*User, 0, len(group.MemberIDs()))
	for _, member := range group.MemberIDs() {
		uid := member
		if group.Kind() != KindPosix {
			uid = uidFromDN(member)
			if uid == "" {
				s.logger.Warn("group_member_dn_unparseable",
					slog.String("group", group.CN()), slog.String("member", member))
				continue
			}
		}
		user, err := s.UserByUID(conn, uid)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				s.logger.Warn("group_member_unresolvable",
					slog.String("group", group.CN()), slog.String("member", member))
				continue
			}
			return nil, err
		}
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b *User) int { return a.Compare(b) })
	return users, nil
}

// uidFromDN extracts the uid from a user DN's leading RDN.
func uidFromDN(dn string) string {
	rdn, _, _ := strings.Cut(dn, ",")
	if uid, found := strings.CutPrefix(strings.TrimSpace(rdn), "uid="); found {
		return uid
	}
	return ""
}

// attributeInUse reports whether any user entry already carries the value in
// the given attribute. Backs the uniqueness checks on insert.
func (s *Service) attributeInUse(conn Conn, attribute, value string) (bool, error) {
	filter := s.catalog.mustResolve(QueryCheckUniqAttribute,
		attribute, ldap.EscapeFilter(value))
	res, err := conn.Search(ldap.NewSearchRequest(
		s.config.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"uid"}, nil))
	if err != nil {
		return false, wrapDirectoryErr(CodeUniqueCheckFailed, err)
	}
	return len(res.Entries) > 0, nil
}

// EmploymentTypes lists the distinct description values across all users.
func (s *Service) EmploymentTypes(conn Conn) ([]string, error) {
	return s.distinctValues(conn, "description")
}

// Locations lists the distinct l values across all users.
func (s *Service) Locations(conn Conn) ([]string, error) {
	return s.distinctValues(conn, "l")
}

// Departments lists the distinct ou values across all users.
func (s *Service) Departments(conn Conn) ([]string, error) {
	return s.distinctValues(conn, "ou")
}

// distinctValues collects the sorted distinct values of one user attribute,
// cached because the listings back form dropdowns and change rarely.
func (s *Service) distinctValues(conn Conn, attribute string) ([]string, error) {
	s.listingMu.Lock()
	cached, ok := s.listings[attribute]
	if ok && s.now().Sub(cached.fetched) < listingTTL {
		values := cached.values
		s.listingMu.Unlock()
		return values, nil
	}
	s.listingMu.Unlock()

	filter := s.catalog.mustResolve(QueryListAllUsers)
	res, err := conn.Search(ldap.NewSearchRequest(
		s.config.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{attribute}, nil))
	if err != nil {
		return nil, wrapDirectoryErr(CodeLDAPFailed, err)
	}
	seen := make(map[string]struct{})
	var values []string
	for _, entry := range res.Entries {
		v := entry.GetAttributeValue(attribute)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	slices.Sort(values)

	s.listingMu.Lock()
	s.listings[attribute] = &listingCache{values: values, fetched: s.now()}
	s.listingMu.Unlock()
	return values, nil
}
