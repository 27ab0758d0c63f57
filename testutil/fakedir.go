// Package testutil provides an in-memory stand-in for an LDAP connection so
// the directory operations can be tested without a live server. The fake
// stores entries in a flat map, evaluates a practical subset of the filter
// grammar (and/or/not, equality, substring wildcards) and records every
// write request for assertions.
package testutil

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// Entry is a directory entry held by the fake.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

func (e *Entry) clone() *Entry {
	attrs := make(map[string][]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = slices.Clone(v)
	}
	return &Entry{DN: e.DN, Attributes: attrs}
}

// FakeDirectory implements the connection surface the account operations
// need. Zero value is not usable, construct with NewFakeDirectory.
type FakeDirectory struct {
	mu      sync.Mutex
	entries map[string]*Entry

	// Error injection, returned by the corresponding method when set.
	SearchErr   error
	AddErr      error
	ModifyErr   error
	ModifyDNErr error

	SearchRequests   []*ldap.SearchRequest
	AddRequests      []*ldap.AddRequest
	ModifyRequests   []*ldap.ModifyRequest
	ModifyDNRequests []*ldap.ModifyDNRequest
}

// NewFakeDirectory returns an empty fake directory.
func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{entries: make(map[string]*Entry)}
}

// Put stores or replaces an entry.
func (d *FakeDirectory) Put(dn string, attributes map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	attrs := make(map[string][]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = slices.Clone(v)
	}
	d.entries[strings.ToLower(dn)] = &Entry{DN: dn, Attributes: attrs}
}

// Entry returns a copy of the stored entry, or nil.
func (d *FakeDirectory) Entry(dn string) *Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[strings.ToLower(dn)]
	if !ok {
		return nil
	}
	return e.clone()
}

// Search evaluates the request filter against every entry below the request
// base DN.
func (d *FakeDirectory) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SearchRequests = append(d.SearchRequests, req)
	if d.SearchErr != nil {
		return nil, d.SearchErr
	}

	base := strings.ToLower(req.BaseDN)
	dns := make([]string, 0, len(d.entries))
	for dn := range d.entries {
		if dn == base || strings.HasSuffix(dn, ","+base) {
			dns = append(dns, dn)
		}
	}
	slices.Sort(dns)

	var result ldap.SearchResult
	for _, dn := range dns {
		entry := d.entries[dn]
		ok, err := matchFilter(req.Filter, entry)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		result.Entries = append(result.Entries, toLDAPEntry(entry, req.Attributes))
	}
	return &result, nil
}

// Add creates the entry; adding an existing DN fails like a real server.
func (d *FakeDirectory) Add(req *ldap.AddRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AddRequests = append(d.AddRequests, req)
	if d.AddErr != nil {
		return d.AddErr
	}
	key := strings.ToLower(req.DN)
	if _, exists := d.entries[key]; exists {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("entry %s already exists", req.DN))
	}
	attrs := make(map[string][]string, len(req.Attributes))
	for _, a := range req.Attributes {
		attrs[a.Type] = slices.Clone(a.Vals)
	}
	d.entries[key] = &Entry{DN: req.DN, Attributes: attrs}
	return nil
}

// Modify applies the change list to the entry.
func (d *FakeDirectory) Modify(req *ldap.ModifyRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ModifyRequests = append(d.ModifyRequests, req)
	if d.ModifyErr != nil {
		return d.ModifyErr
	}
	entry, ok := d.entries[strings.ToLower(req.DN)]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no entry %s", req.DN))
	}
	for _, change := range req.Changes {
		attr := change.Modification.Type
		switch change.Operation {
		case ldap.AddAttribute:
			entry.Attributes[attr] = append(entry.Attributes[attr], change.Modification.Vals...)
		case ldap.ReplaceAttribute:
			entry.Attributes[attr] = slices.Clone(change.Modification.Vals)
		case ldap.DeleteAttribute:
			if len(change.Modification.Vals) == 0 {
				delete(entry.Attributes, attr)
				continue
			}
			kept := entry.Attributes[attr][:0:0]
			for _, v := range entry.Attributes[attr] {
				if !slices.Contains(change.Modification.Vals, v) {
					kept = append(kept, v)
				}
			}
			if len(kept) == 0 {
				delete(entry.Attributes, attr)
			} else {
				entry.Attributes[attr] = kept
			}
		}
	}
	return nil
}

// ModifyDN moves the entry to a new DN built from the request's new RDN and
// superior.
func (d *FakeDirectory) ModifyDN(req *ldap.ModifyDNRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ModifyDNRequests = append(d.ModifyDNRequests, req)
	if d.ModifyDNErr != nil {
		return d.ModifyDNErr
	}
	oldKey := strings.ToLower(req.DN)
	entry, ok := d.entries[oldKey]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no entry %s", req.DN))
	}
	superior := req.NewSuperior
	if superior == "" {
		_, after, _ := strings.Cut(req.DN, ",")
		superior = after
	}
	newDN := req.NewRDN + "," + superior
	delete(d.entries, oldKey)
	entry.DN = newDN
	d.entries[strings.ToLower(newDN)] = entry
	return nil
}

func toLDAPEntry(entry *Entry, requested []string) *ldap.Entry {
	names := make([]string, 0, len(entry.Attributes))
	if len(requested) == 0 {
		for name := range entry.Attributes {
			names = append(names, name)
		}
	} else {
		for _, name := range requested {
			if _, ok := entry.Attributes[name]; ok {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	attrs := make([]*ldap.EntryAttribute, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, &ldap.EntryAttribute{
			Name:   name,
			Values: slices.Clone(entry.Attributes[name]),
		})
	}
	return &ldap.Entry{DN: entry.DN, Attributes: attrs}
}
