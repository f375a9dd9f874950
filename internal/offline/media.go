package offline

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	videoExtensions = map[string]struct{}{
		".mp4": {}, ".webm": {}, ".m3u8": {}, ".mpd": {}, ".mkv": {}, ".mov": {},
	}
	imageExtensions = map[string]struct{}{
		".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {}, ".gif": {}, ".svg": {},
	}
)

// Extension returns the lower-cased extension of the URL path, ignoring query and fragment.
func Extension(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(raw, "?#"); i >= 0 {
		p = raw[:i]
	}
	return strings.ToLower(path.Ext(p))
}

// IsVideoURL reports whether the URL names a video resource.
func IsVideoURL(raw string) bool {
	_, ok := videoExtensions[Extension(raw)]
	return ok
}

// IsImageURL reports whether the URL names an image resource.
func IsImageURL(raw string) bool {
	_, ok := imageExtensions[Extension(raw)]
	return ok
}

// IsJSONURL reports whether the URL names a JSON document.
func IsJSONURL(raw string) bool {
	return Extension(raw) == ".json"
}

// IsVideoContentType reports whether the media type is video.
func IsVideoContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "video/")
}

// SameOrigin reports whether two absolute URLs share scheme and host.
func SameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}

// ResolveType decides the response type a fetch in req.Mode produces
// relative to the scope origin.
func ResolveType(req Request, scope string) ResponseType {
	if req.Mode == ModeNoCORS && scope != "" && !SameOrigin(req.URL, scope) {
		return ResponseOpaque
	}
	return ResponseBasic
}

// ServiceUnavailable synthesizes the 503 returned when neither network nor cache can answer.
func ServiceUnavailable(rawURL string, now time.Time) *Response {
	return &Response{
		URL:        rawURL,
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte("offline: resource unavailable\n"),
		Type:       ResponseSynthetic,
		StoredAt:   now,
	}
}
