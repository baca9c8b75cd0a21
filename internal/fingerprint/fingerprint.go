// Package fingerprint derives a stable, non-reversible device and network identity from request metadata.
package fingerprint

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
)

// UnknownIP is reported when no client address can be determined.
const UnknownIP = "unknown"

// RequestMeta is the request metadata a fingerprint is derived from.
type RequestMeta struct {
	ForwardedFor string
	RealIP       string
	RemoteAddr   string
	UserAgent    string
}

// MetaFromRequest collects RequestMeta from an HTTP request.
func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}
}

// Device is the identity derived for one request.
type Device struct {
	Fingerprint   string
	DeviceName    string
	IPAddress     string
	IPPrefix      string
	UserAgentHash string
	DeviceID      string
}

// FromRequest derives the Device for meta. clientDeviceID is optional and, when non-empty,
// is folded into the fingerprint.
func FromRequest(meta RequestMeta, clientDeviceID string) Device {
	ip := ClientIP(meta)
	prefix := IPPrefix(ip)
	uaHash := hash(meta.UserAgent)
	deviceID := strings.TrimSpace(clientDeviceID)
	return Device{
		Fingerprint:   Compute(uaHash, prefix, deviceID),
		DeviceName:    DeviceName(meta.UserAgent),
		IPAddress:     ip,
		IPPrefix:      prefix,
		UserAgentHash: uaHash,
		DeviceID:      deviceID,
	}
}

// Compute returns the fingerprint hash of userAgentHash|ipPrefix[|deviceID].
func Compute(userAgentHash, ipPrefix, deviceID string) string {
	s := userAgentHash + "|" + ipPrefix
	if deviceID != "" {
		s += "|" + deviceID
	}
	return hash(s)
}

// Matches reports whether d was produced by the same device as the stored values.
// The user agent hash and network prefix must match exactly; the device id is compared only when one was stored.
func (d Device) Matches(storedUAHash, storedIPPrefix, storedDeviceID string) bool {
	if !equal(d.UserAgentHash, storedUAHash) {
		return false
	}
	if d.IPPrefix != storedIPPrefix {
		return false
	}
	if storedDeviceID != "" && !equal(d.DeviceID, storedDeviceID) {
		return false
	}
	return true
}

// ClientIP returns the client address: first hop of X-Forwarded-For, then X-Real-IP, then the socket peer.
func ClientIP(meta RequestMeta) string {
	if s := strings.TrimSpace(meta.ForwardedFor); s != "" {
		if i := strings.Index(s, ","); i >= 0 {
			s = strings.TrimSpace(s[:i])
		}
		if s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(meta.RealIP); s != "" {
		return s
	}
	if meta.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(meta.RemoteAddr); err == nil {
			return host
		}
		return meta.RemoteAddr
	}
	return UnknownIP
}

// IPPrefix reduces ip to its network neighborhood: the first three octets for IPv4,
// the first four groups for IPv6. Unparseable input is returned unchanged.
func IPPrefix(ip string) string {
	addr, err := netip.ParseAddr(strings.Trim(ip, "[]"))
	if err != nil {
		return ip
	}
	addr = addr.Unmap().WithZone("")
	if addr.Is4() {
		b := addr.As4()
		return strconv.Itoa(int(b[0])) + "." + strconv.Itoa(int(b[1])) + "." + strconv.Itoa(int(b[2]))
	}
	b := addr.As16()
	groups := make([]string, 4)
	for i := range groups {
		groups[i] = strconv.FormatUint(uint64(b[2*i])<<8|uint64(b[2*i+1]), 16)
	}
	return strings.Join(groups, ":")
}

// DeviceName returns a display label such as "Chrome on Windows". Not security relevant.
func DeviceName(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown device"
	}
	ua := strings.ToLower(userAgent)
	return browser(ua) + " on " + osName(ua)
}

func osName(ua string) string {
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "iOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "mac os x"), strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "cros"):
		return "ChromeOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return "Unknown OS"
	}
}

func browser(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"):
		return "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "firefox/"), strings.Contains(ua, "fxios/"):
		return "Firefox"
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "crios/"):
		return "Chrome"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	case strings.Contains(ua, "curl/"):
		return "curl"
	default:
		return "Unknown browser"
	}
}

func hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
