package crawl

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Canonicalize produces a stable string form of a URL suitable for
// frontier equality: lower-cased scheme/host, default ports stripped,
// dot-segments resolved, ignored query parameters dropped, remaining
// parameters sorted, and the fragment removed. If base is non-empty and
// raw is relative, it is first resolved against base.
func Canonicalize(raw string, base string, ignoreQueryPatterns []string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if base != "" && !u.IsAbs() {
		b, err := url.Parse(base)
		if err == nil {
			u = b.ResolveReference(u)
		}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	u.Scheme = scheme

	u.Host = normalizeHost(u.Host, scheme)
	u.Path = normalizePath(u.Path)
	u.RawQuery = normalizeQuery(u.RawQuery, ignoreQueryPatterns)
	u.Fragment = ""

	return u.String(), nil
}

func normalizeHost(host, scheme string) string {
	host = strings.ToLower(host)
	h, port, found := strings.Cut(host, ":")
	if !found {
		return host
	}
	if n, err := strconv.Atoi(port); err == nil {
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			return h
		}
	}
	return host
}

// normalizePath resolves "." and ".." segments, ensures a leading slash,
// and preserves a trailing slash only when the last segment looks like a
// directory (no "." in it).
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	hadTrailingSlash := strings.HasSuffix(path, "/") && path != "/"

	var resolved []string
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, seg)
		}
	}

	result := "/" + strings.Join(resolved, "/")
	if hadTrailingSlash && result != "/" && len(resolved) > 0 && !strings.Contains(resolved[len(resolved)-1], ".") {
		result += "/"
	}
	return result
}

func normalizeQuery(rawQuery string, ignorePatterns []string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ""
	}

	for key := range values {
		for _, pattern := range ignorePatterns {
			if globMatch(key, pattern) {
				delete(values, key)
				break
			}
		}
	}
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), values[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

var globCache = struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

// globMatch reports whether text matches pattern, where "*" in pattern
// matches any run of characters, anchored at both ends. Compiled
// patterns are cached since the same glob (e.g. an ignore_query_patterns
// or content-type entry) is matched against many URLs across workers.
func globMatch(text, pattern string) bool {
	globCache.mu.RLock()
	re, ok := globCache.m[pattern]
	globCache.mu.RUnlock()
	if !ok {
		escaped := regexp.QuoteMeta(pattern)
		escaped = strings.ReplaceAll(escaped, `\*`, ".*")
		re = regexp.MustCompile("^" + escaped + "$")
		globCache.mu.Lock()
		globCache.m[pattern] = re
		globCache.mu.Unlock()
	}
	return re.MatchString(text)
}

// URLComponents is the decomposition of a URL used by the scope predicate.
type URLComponents struct {
	Scheme           string
	Netloc           string
	Host             string
	RegisteredDomain string
	Subdomain        string
	Path             string
	Canonical        string
}

// Components extracts scope-relevant parts of a URL, including its
// registered (eTLD+1) domain via the public suffix list.
func Components(raw string, ignoreQueryPatterns []string) (URLComponents, error) {
	canonical, err := Canonicalize(raw, "", ignoreQueryPatterns)
	if err != nil {
		return URLComponents{}, err
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return URLComponents{}, err
	}

	host := u.Hostname()
	registered, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		registered = host
	}

	subdomain := ""
	if len(host) > len(registered) && strings.HasSuffix(host, registered) {
		subdomain = strings.TrimSuffix(host, "."+registered)
	}

	return URLComponents{
		Scheme:           u.Scheme,
		Netloc:           u.Host,
		Host:             host,
		RegisteredDomain: registered,
		Subdomain:        subdomain,
		Path:             u.Path,
		Canonical:        canonical,
	}, nil
}
