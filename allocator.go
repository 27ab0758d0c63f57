package accounts

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// uidNumberFloor is the smallest uidNumber ever handed out; everything below
// is reserved for system accounts.
const uidNumberFloor = 1000

// uidNumberMaxProbes bounds the linear probe for a free uidNumber.
const uidNumberMaxProbes = 1000

// UIDAllocator hands out free uidNumbers. Allocation is serialized through a
// mutex so concurrent inserts on the same instance never race for the same
// number; the directory is still probed per candidate because other writers
// may exist.
type UIDAllocator struct {
	catalog *Catalog
	config  *Config
	logger  *slog.Logger

	mu   sync.Mutex
	next int
}

// NewUIDAllocator builds an allocator; the first allocation scans the
// directory for the highest uidNumber in use.
func NewUIDAllocator(config *Config, catalog *Catalog) *UIDAllocator {
	return &UIDAllocator{catalog: catalog, config: config, logger: config.logger()}
}

// Allocate returns the next free uidNumber at or above the floor. It fails
// with a uidNumber.exceeded business error when the probe bound is exhausted.
func (a *UIDAllocator) Allocate(conn Conn) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next == 0 {
		highest, err := a.highestInUse(conn)
		if err != nil {
			return 0, err
		}
		a.next = highest + 1
		if a.next < uidNumberFloor {
			a.next = uidNumberFloor
		}
		a.logger.Info("uid_number_scan_complete",
			slog.Int("highest_in_use", highest),
			slog.Int("next_candidate", a.next))
	}

	for probes := 0; probes < uidNumberMaxProbes; probes++ {
		candidate := a.next
		a.next++
		taken, err := a.inUse(conn, candidate)
		if err != nil {
			return 0, err
		}
		if !taken {
			return candidate, nil
		}
	}
	return 0, businessErr(CodeUIDNumberExceeded)
}

func (a *UIDAllocator) highestInUse(conn Conn) (int, error) {
	filter := a.catalog.mustResolve(QueryListAllUsers)
	res, err := conn.Search(ldap.NewSearchRequest(
		a.config.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"uidNumber"}, nil))
	if err != nil {
		return 0, wrapDirectoryErr(CodeLDAPFailed, err)
	}
	highest := 0
	for _, entry := range res.Entries {
		if n, err := strconv.Atoi(entry.GetAttributeValue("uidNumber")); err == nil && n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (a *UIDAllocator) inUse(conn Conn, uidNumber int) (bool, error) {
	filter := a.catalog.mustResolve(QueryFindUserByUIDNumber, strconv.Itoa(uidNumber))
	res, err := conn.Search(ldap.NewSearchRequest(
		a.config.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"uid"}, nil))
	if err != nil {
		return false, wrapDirectoryErr(CodeLDAPFailed, err)
	}
	return len(res.Entries) > 0, nil
}
