// Package source turns manifest names into download URLs.
//
// The CDN rating and release lookup that decide which base URL or which
// asset list to use live outside this module. They hand their answer over as
// one of the resolvers below.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned when a resolver has no location for a name.
var ErrNotFound = errors.New("no source for name")

// Resolver locates the download URL of a named file or archive.
type Resolver interface {
	Locate(name string) (string, error)
}

// CDN resolves names relative to a base URL.
type CDN struct {
	BaseURL string
}

// Locate joins the base URL and name, escaping each path segment.
func (c CDN) Locate(name string) (string, error) {
	if c.BaseURL == "" {
		return "", fmt.Errorf("cdn base url is empty")
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse cdn base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("cdn base url %q is not absolute", c.BaseURL)
	}

	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "", fmt.Errorf("empty name")
	}
	return base.JoinPath(strings.Split(name, "/")...).String(), nil
}

// Assets resolves names from an explicit name to URL table, typically the
// asset list of a published release.
type Assets map[string]string

// Locate returns the URL registered for name.
func (a Assets) Locate(name string) (string, error) {
	if u, ok := a[name]; ok && u != "" {
		return u, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

// Locate returns the first resolver answer that is not an error.
func (c Chain) Locate(name string) (string, error) {
	var errs []error
	for _, r := range c {
		if r == nil {
			continue
		}
		u, err := r.Locate(name)
		if err == nil {
			return u, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return "", errors.Join(errs...)
}
