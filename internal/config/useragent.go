package config

import (
	"strings"

	"github.com/dutiptv/dutiptv/internal/provider"
)

// Device derives the device registration record the provider APIs expect
// from the configured user agent. key is the persistent per-install id.
func (c *Config) Device(key string) provider.Device {
	browser, browserVersion := parseBrowser(c.UserAgent)
	osName, osVersion := parseOS(c.UserAgent)
	return provider.Device{
		Key:            key,
		BrowserName:    browser,
		BrowserVersion: browserVersion,
		OSName:         osName,
		OSVersion:      osVersion,
		UserAgent:      c.UserAgent,
	}
}

func parseBrowser(ua string) (name, version string) {
	for _, probe := range []struct{ token, name string }{
		{"Firefox/", "Firefox"},
		{"Edg/", "Edge"},
		{"Chrome/", "Chrome"},
		{"Safari/", "Safari"},
	} {
		idx := strings.Index(ua, probe.token)
		if idx < 0 {
			continue
		}
		v := ua[idx+len(probe.token):]
		if sp := strings.IndexByte(v, ' '); sp >= 0 {
			v = v[:sp]
		}
		// Major version only, like the web players send.
		if dot := strings.IndexByte(v, '.'); dot >= 0 {
			v = v[:dot]
		}
		return probe.name, v
	}
	return "Chrome", "120"
}

func parseOS(ua string) (name, version string) {
	switch {
	case strings.Contains(ua, "Windows NT 10.0"):
		return "Windows", "10"
	case strings.Contains(ua, "Windows NT 6.1"):
		return "Windows", "7"
	case strings.Contains(ua, "Windows"):
		return "Windows", ""
	case strings.Contains(ua, "Mac OS X"):
		return "macOS", macVersion(ua)
	case strings.Contains(ua, "Android"):
		return "Android", ""
	case strings.Contains(ua, "Linux"):
		return "Linux", ""
	}
	return "Windows", "10"
}

func macVersion(ua string) string {
	idx := strings.Index(ua, "Mac OS X ")
	if idx < 0 {
		return ""
	}
	v := ua[idx+len("Mac OS X "):]
	if end := strings.IndexAny(v, ");"); end >= 0 {
		v = v[:end]
	}
	return strings.ReplaceAll(v, "_", ".")
}
