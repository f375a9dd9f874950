package api

import (
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/router"
)

// Response headers describing how an intercepted request was answered.
const (
	HeaderSource   = "X-Offline-Source"
	HeaderCategory = "X-Offline-Category"
)

// intercept answers every unrouted path through the request router, as if
// the client had fetched the same path from the origin.
func (s *Server) intercept(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	target, err := s.target(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request URL")
		return
	}
	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		if body, err = s.readBody(w, r); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
	}

	res, err := s.deps.Router.Handle(r.Context(), router.RequestFromHTTP(r, target, body))
	if err != nil {
		s.logger.Warn("intercepted request failed", zap.String("url", target), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	resp := res.Response
	if resp == nil {
		writeError(w, http.StatusBadGateway, "no response")
		return
	}
	if resp.Stream != nil {
		defer resp.Stream.Close()
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if res.Source != "" {
		w.Header().Set(HeaderSource, string(res.Source))
	}
	w.Header().Set(HeaderCategory, string(res.Category))
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(flushWriter{w}, resp.BodyReader()); err != nil {
		s.logger.Debug("response copy interrupted", zap.String("url", target), zap.Error(err))
	}
}

// target resolves the request path and query against the origin.
func (s *Server) target(r *http.Request) (string, error) {
	base, err := url.Parse(s.cfg.Origin)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(r.URL.RequestURI())
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// flushWriter pushes each chunk to the client so streamed media starts
// playing before the upstream body ends.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}
