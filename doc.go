// Package accounts implements the directory-access and business-rule layer of
// an LDAP based employee account management system.
//
// It maps raw directory entries into typed User and Group records, enforces
// uniqueness and naming policies (username suggestions, numeric id
// allocation, unique mail and employee numbers), performs diff-based user
// updates and group membership changes, and provides a periodic
// reconciliation scan that flags unmaintained accounts.
//
// All directory operations take an open connection as an explicit parameter;
// the caller owns the connection lifecycle. The package never deletes user
// entries, accounts are only deactivated.
package accounts
