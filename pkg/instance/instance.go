package instance

import (
	"os"

	"github.com/angelmondragon/lostfound-backend/pkg/env"
)

// ID names the running process in log fields. LOSTFOUND_INSTANCE_ID wins,
// then the platform's DYNO, then the hostname.
func ID(service string) string {
	if id := env.Get("LOSTFOUND_INSTANCE_ID", env.Get("DYNO", "")); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return service + "-local"
	}
	return service + "@" + host
}
