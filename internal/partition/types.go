package partition

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Role identifies the logical purpose of a cache partition.
type Role string

// The fixed partition role set. Every engine version owns exactly one
// partition per role; partitions from other versions are stale.
const (
	// RoleCore is the umbrella partition covering requests no other role claims.
	RoleCore Role = "core"
	// RoleStatic holds the pre-cached application shell assets.
	RoleStatic Role = "static"
	// RoleDynamic holds responses cached opportunistically at runtime.
	RoleDynamic Role = "dynamic"
	// RoleAPI holds cached API responses used when the network is unavailable.
	RoleAPI Role = "api"
)

// Roles returns the fixed role set in a stable order.
func Roles() []Role {
	return []Role{RoleCore, RoleStatic, RoleDynamic, RoleAPI}
}

// Valid reports whether the role is one of the fixed set.
func (r Role) Valid() bool {
	switch r {
	case RoleCore, RoleStatic, RoleDynamic, RoleAPI:
		return true
	}
	return false
}

// Config holds configuration for the partition store.
type Config struct {
	// Prefix is the partition name prefix shared by all partitions of this
	// application (e.g. "helpdesk").
	Prefix string
	// Version is the current cache version string. Changing it supersedes
	// every partition created under the previous version.
	Version string
	// MaxDynamicEntries bounds the dynamic partition. After a put, the
	// oldest entries beyond the limit are dropped. Zero means unlimited.
	MaxDynamicEntries int
}

// Validate checks that the store configuration is valid. An empty prefix is
// allowed; SetDefaults fills it in.
func (c *Config) Validate() error {
	if strings.ContainsAny(c.Prefix, "/\\") {
		return fmt.Errorf("partition prefix cannot contain path separators")
	}
	if c.Version == "" {
		return fmt.Errorf("cache version cannot be empty")
	}
	if strings.ContainsAny(c.Version, "/\\") {
		return fmt.Errorf("cache version cannot contain path separators")
	}
	if c.MaxDynamicEntries < 0 {
		return fmt.Errorf("max dynamic entries cannot be negative")
	}
	return nil
}

// SetDefaults applies default values to unset fields in the configuration.
func (c *Config) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = "helpdesk"
	}
}

// PartitionName composes the canonical partition name for a role under
// the configured version: "{prefix}-{role}-{version}".
func (c *Config) PartitionName(role Role) string {
	return c.Prefix + "-" + string(role) + "-" + c.Version
}

// CurrentSet returns the partition names owned by the configured version,
// keyed by name.
func (c *Config) CurrentSet() map[string]Role {
	set := make(map[string]Role, len(Roles()))
	for _, role := range Roles() {
		set[c.PartitionName(role)] = role
	}
	return set
}

// EntryMeta describes one stored response inside a partition.
type EntryMeta struct {
	// Key is the canonical request key ("METHOD url").
	Key string `json:"key"`
	// URL is the request URL the entry was stored under.
	URL string `json:"url"`
	// File is the entry's file name inside the partition directory.
	File string `json:"file"`
	// Size is the stored snapshot size in bytes (checksum line included).
	Size int64 `json:"size"`
	// StoredAt is when the entry was last written.
	StoredAt time.Time `json:"stored_at"`
}

// PartitionMeta describes one cache partition.
type PartitionMeta struct {
	// Name is the full partition name ("{prefix}-{role}-{version}").
	Name string `json:"name"`
	// Role is the partition's logical role.
	Role Role `json:"role"`
	// Version is the cache version the partition belongs to.
	Version string `json:"version"`
	// CreatedAt is when the partition was created.
	CreatedAt time.Time `json:"created_at"`
	// Entries maps request keys to stored entry metadata.
	Entries map[string]*EntryMeta `json:"entries"`
}

// Key canonicalizes a request into its cache key: the method and the URL
// with any fragment stripped. Only the key identity matters here; whether
// the request is cacheable at all is decided by the caller.
func Key(method string, u *url.URL) string {
	c := *u
	c.Fragment = ""
	return method + " " + c.String()
}
