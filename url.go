// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quickserve

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URL returns the absolute URL of relativePath below the server's base
// path. relativePath can never escape the base path: dot segments are
// collapsed and the scheme and host of an absolute URL are dropped.
// Its query and fragment are kept.
func (s *Server) URL(relativePath string) (string, error) {
	bound, ok := s.ln.BoundPort()
	if !ok {
		return "", StateError{
			Reason: "Cannot compute server URL when the server is not listening.",
		}
	}
	return resolveURL(
		s.cfg.Scheme,
		s.cfg.Hostname,
		s.publicPort(bound),
		s.cfg.BasePath,
		relativePath,
	)
}

// URLFor is [Server.URL] for a server quickserve does not own, such
// as an [net/http/httptest.Server], given the address it listens on.
// An empty scheme is "http" and an empty hostname is "localhost".
func URLFor(scheme, hostname string, addr net.Addr, relativePath string) (string, error) {
	if addr == nil {
		return "", StateError{Reason: "The server is not started."}
	}
	port, err := portOf(addr)
	if err != nil {
		return "", err
	}
	if port == 0 {
		return "", StateError{Reason: "The server is not started."}
	}
	if scheme == "" {
		scheme = "http"
	}
	if hostname == "" {
		hostname = "localhost"
	}
	return resolveURL(scheme, hostname, port, "/", relativePath)
}

func resolveURL(scheme, hostname string, port int, basePath, relativePath string) (string, error) {
	base := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(hostname, strconv.Itoa(port)),
		Path:   normalizeBasePath(basePath),
	}

	ref, err := url.Parse(relativePath)
	if err != nil {
		return "", err
	}
	ref = &url.URL{
		Path:     ref.Path,
		RawQuery: ref.RawQuery,
		Fragment: ref.Fragment,
	}

	rooted := (&url.URL{Path: "/"}).ResolveReference(ref)
	rooted.Path = strings.TrimPrefix(rooted.Path, "/")

	return base.ResolveReference(rooted).String(), nil
}

func normalizeBasePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
