package observability

import (
	"net"
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// RequestMeta identifies the caller of an HTTP or websocket request.
type RequestMeta struct {
	DeviceID  string
	RequestID string
	IP        string
}

// MetaFromRequest extracts caller metadata. Browsers cannot set headers on
// websocket handshakes, so device and request ids may also come from the
// query string.
func MetaFromRequest(r *http.Request) RequestMeta {
	q := r.URL.Query()
	return RequestMeta{
		DeviceID:  lo.CoalesceOrEmpty(r.Header.Get("X-Device-Id"), q.Get("device")),
		RequestID: lo.CoalesceOrEmpty(r.Header.Get("X-Request-Id"), q.Get("request_id")),
		IP:        clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
