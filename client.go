package accounts

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// GroupPrefixes holds the cn prefixes that classify groups.
type GroupPrefixes struct {
	Admin     string
	Team      string
	Technical string
}

// Config is the static configuration of the directory layer. It is validated
// once at initialization; a bad configuration never reaches request time.
type Config struct {
	Host string
	Port int
	// SSL dials ldaps. InsecureTLS skips certificate verification and is
	// only meant for test directories with self-signed certificates.
	SSL         bool
	InsecureTLS bool

	BaseDN  string
	GroupDN string

	// UserDNTemplates maps a company key to the DN template of its user
	// subtree; {0} is replaced with the uid.
	UserDNTemplates map[string]string

	// Companies maps a short company key to the organization display string
	// stored in the o attribute.
	Companies map[string]string

	GroupPrefixes GroupPrefixes

	// AdminGroup is the cn of the global directory admin group, used both
	// for classification and as fallback when no team admin group exists.
	AdminGroup string

	// DefaultGroups are joined on activation and left on deactivation.
	// Empty means the default-group handling is a no-op.
	DefaultGroups []string

	// PrimaryDomain is the mail domain for auto-generated addresses.
	PrimaryDomain string
	// ShortMailAddresses generates "a.lee@" style addresses instead of
	// "ana.lee@".
	ShortMailAddresses bool

	// SmbIDPrefix is the constant part of generated samba SIDs.
	SmbIDPrefix string
	// HomeDirPrefix is prepended to the uid to form the home directory.
	HomeDirPrefix string

	Logger *slog.Logger
}

// Validate fails fast on configuration that would only surface as confusing
// request-time errors otherwise.
func (c *Config) Validate() error {
	if c.Host == "" {
		return configErr("directory host must not be empty")
	}
	if c.Port <= 0 {
		return configErr("directory port must be positive, got %d", c.Port)
	}
	if c.BaseDN == "" {
		return configErr("base DN must not be empty")
	}
	if c.GroupDN == "" {
		return configErr("group DN must not be empty")
	}
	if len(c.UserDNTemplates) == 0 {
		return configErr("at least one company user DN template is required")
	}
	for key, template := range c.UserDNTemplates {
		if !strings.Contains(template, "{0}") {
			return configErr("user DN template for company %q is missing the {0} uid placeholder", key)
		}
		if _, ok := c.Companies[key]; !ok {
			return configErr("user DN template references unknown company key %q", key)
		}
	}
	for key, organization := range c.Companies {
		if key == "" || organization == "" {
			return configErr("company mapping entries must have both key and organization")
		}
	}
	return nil
}

// CreateConnection dials the configured directory server and returns an
// unbound connection. The caller owns the connection and must close it.
func (c *Config) CreateConnection() (*ldap.Conn, error) {
	if c.SSL {
		url := fmt.Sprintf("ldaps://%s:%d", c.Host, c.Port)
		return ldap.DialURL(url, ldap.DialWithTLSConfig(&tls.Config{
			InsecureSkipVerify: c.InsecureTLS,
		}))
	}
	return ldap.DialURL(fmt.Sprintf("ldap://%s:%d", c.Host, c.Port))
}

// UserDN builds the DN of a user entry under the company's subtree.
func (c *Config) UserDN(uid, companyKey string) (string, error) {
	template, ok := c.UserDNTemplates[companyKey]
	if !ok {
		return "", configErr("company key %q is not allowed or known", companyKey)
	}
	return strings.ReplaceAll(template, "{0}", uid), nil
}

// CompanyKeyByOrganization reverses the company mapping.
func (c *Config) CompanyKeyByOrganization(organization string) (string, bool) {
	for key, org := range c.Companies {
		if org == organization {
			return key, true
		}
	}
	return "", false
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
