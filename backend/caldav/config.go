// Package caldav retrieves VTODO tasks from a named calendar on a CalDAV server
// and normalizes them into backend.Task records.
package caldav

import (
	"fmt"
	"strings"
)

// DefaultProductName is sent in the X-Requested-With header unless overridden.
const DefaultProductName = "caldavtasks"

// Config holds CalDAV connection settings
type Config struct {
	ServerURL    string
	Username     string
	Password     string
	CalendarName string
}

// Validate checks that the fields needed to connect are present
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("caldav server url is required")
	}
	if c.CalendarName == "" {
		return fmt.Errorf("caldav calendar name is required")
	}
	return nil
}

// connKey identifies a cached connection. A struct key avoids the collisions a
// delimiter-joined string would have when a field contains the delimiter.
type connKey struct {
	url      string
	username string
	password string
}

func keyOf(cfg Config) connKey {
	return connKey{url: cfg.ServerURL, username: cfg.Username, password: cfg.Password}
}

// flightKey is an unambiguous string form of the key for singleflight.
func (k connKey) flightKey() string {
	return fmt.Sprintf("%q|%q|%q", k.url, k.username, k.password)
}
