package enricher

import "strings"

// Classification of a raw user-agent string.
type UserAgent struct {
	Device  string
	Browser string
	OS      string
}

var botMarkers = []string{"bot", "crawler", "spider", "slurp", "headless"}

var browserTable = []struct{ marker, name string }{
	// Order matters: Edge and Opera embed "chrome", Chrome embeds "safari".
	{"edg/", "Edge"},
	{"edge/", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser", "Samsung Internet"},
	{"firefox", "Firefox"},
	{"chrome", "Chrome"},
	{"crios", "Chrome"},
	{"safari", "Safari"},
	{"msie", "Internet Explorer"},
	{"trident", "Internet Explorer"},
}

var osTable = []struct{ marker, name string }{
	{"windows phone", "Windows Phone"},
	{"windows", "Windows"},
	{"android", "Android"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"ipod", "iOS"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

// ParseUserAgent classifies device, browser and OS from a raw user-agent
// string via substring tables. Unrecognized agents come back as unknown
// rather than failing the event.
func ParseUserAgent(raw string) UserAgent {
	ua := UserAgent{Device: deviceUnknown, Browser: agentUnknown, OS: agentUnknown}
	if raw == "" {
		return ua
	}
	lower := strings.ToLower(raw)

	for _, marker := range botMarkers {
		if strings.Contains(lower, marker) {
			ua.Device = deviceBot
			return ua
		}
	}

	for _, entry := range browserTable {
		if strings.Contains(lower, entry.marker) {
			ua.Browser = entry.name
			break
		}
	}
	for _, entry := range osTable {
		if strings.Contains(lower, entry.marker) {
			ua.OS = entry.name
			break
		}
	}

	switch {
	case strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad"):
		ua.Device = deviceTablet
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "android") || strings.Contains(lower, "iphone"):
		ua.Device = deviceMobile
	default:
		ua.Device = deviceDesktop
	}

	return ua
}
