package crawl

import (
	"fmt"
	"regexp"
	"strings"
)

// InScope reports whether url falls within the job's configured scope:
// protocol restriction, domain/host/path_prefix/custom rule, then
// include/exclude regex filters.
func InScope(rawURL string, params CrawlParams, seed URLComponents) bool {
	comps, err := Components(rawURL, params.IgnoreQueryParams)
	if err != nil {
		return false
	}

	if params.SameProtocolOnly && comps.Scheme != seed.Scheme {
		return false
	}

	switch params.Scope {
	case ScopeDomain:
		if comps.RegisteredDomain != seed.RegisteredDomain {
			return false
		}
	case ScopeHost:
		if comps.Host != seed.Host {
			return false
		}
	case ScopePathPrefix:
		if comps.Host != seed.Host {
			return false
		}
		if params.PathPrefix != "" && !strings.HasPrefix(comps.Path, params.PathPrefix) {
			return false
		}
	case ScopeCustom:
		// no host/domain constraint; include/exclude do the work
	}

	if len(params.Include) > 0 {
		matched := false
		for _, pattern := range params.Include {
			if re, err := regexp.Compile(pattern); err == nil && re.MatchString(rawURL) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, pattern := range params.Exclude {
		if re, err := regexp.Compile(pattern); err == nil && re.MatchString(rawURL) {
			return false
		}
	}

	return true
}

// ShouldFollowLink applies the nofollow rule in addition to InScope.
func ShouldFollowLink(rawURL string, params CrawlParams, seed URLComponents, nofollow bool) bool {
	if nofollow && !params.FollowNofollow {
		return false
	}
	return InScope(rawURL, params, seed)
}

// IsContentTypeAllowed reports whether contentType matches one of the
// glob patterns in allowed, ignoring any "; charset=..." suffix.
func IsContentTypeAllowed(contentType string, allowed []string) bool {
	if contentType == "" {
		return false
	}
	mainType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))

	for _, pattern := range allowed {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if globMatch(mainType, pattern) {
			return true
		}
	}
	return false
}

// IsAssetTypeAllowed is IsContentTypeAllowed applied to capture_asset_types.
func IsAssetTypeAllowed(contentType string, allowedAssetTypes []string) bool {
	return IsContentTypeAllowed(contentType, allowedAssetTypes)
}

// DefaultExcludePatterns returns the conventional spider-trap excludes
// applied when a job specifies none of its own.
func DefaultExcludePatterns() []string {
	return []string{
		`\.(?:css|js|ico|png|jpg|jpeg|gif|svg|woff|woff2|ttf|eot)$`,
		`/(?:wp-admin|admin|login|logout|register)/`,
		`\?(?:.*&)?(?:print|share|email)=`,
		`\.(?:pdf|doc|docx|xls|xlsx|ppt|pptx|zip|rar|tar|gz)$`,
		`/(?:calendar|search|tag|category)/`,
		`\?(?:.*&)?(?:year|month|day)=\d+`,
		`#`,
	}
}

// ApplyDefaultExcludes returns params unchanged if it already carries
// exclude patterns, otherwise a copy with DefaultExcludePatterns applied.
func ApplyDefaultExcludes(params CrawlParams) CrawlParams {
	if len(params.Exclude) > 0 {
		return params
	}
	params.Exclude = DefaultExcludePatterns()
	return params
}

// ValidateScopeConfig returns human-readable validation errors for a job's
// scope configuration, or nil if it is well-formed.
func ValidateScopeConfig(params CrawlParams) []string {
	var errs []string

	if params.Scope == ScopePathPrefix && params.PathPrefix == "" {
		errs = append(errs, "path_prefix is required when scope is 'path_prefix'")
	}

	for i, pattern := range params.Include {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Sprintf("invalid include pattern %d: %s - %v", i, pattern, err))
		}
	}
	for i, pattern := range params.Exclude {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Sprintf("invalid exclude pattern %d: %s - %v", i, pattern, err))
		}
	}

	if params.Scope == ScopeCustom && len(params.Include) == 0 && len(params.Exclude) == 0 {
		errs = append(errs, "custom scope requires at least one include or exclude pattern")
	}

	return errs
}

// ScopeDescription renders a one-line human-readable summary of a job's
// scope, used in log lines and CLI output.
func ScopeDescription(params CrawlParams, seedURL string) string {
	seed, err := Components(seedURL, params.IgnoreQueryParams)
	if err != nil {
		return "unknown scope"
	}

	var desc string
	switch params.Scope {
	case ScopeDomain:
		desc = fmt.Sprintf("Domain: %s", seed.RegisteredDomain)
	case ScopeHost:
		desc = fmt.Sprintf("Host: %s", seed.Host)
	case ScopePathPrefix:
		prefix := params.PathPrefix
		if prefix == "" {
			prefix = "/"
		}
		desc = fmt.Sprintf("Host: %s, Path prefix: %s", seed.Host, prefix)
	default:
		desc = "Custom scope"
	}

	if len(params.Include) > 0 {
		desc += fmt.Sprintf(", Include patterns: %d", len(params.Include))
	}
	if len(params.Exclude) > 0 {
		desc += fmt.Sprintf(", Exclude patterns: %d", len(params.Exclude))
	}
	if params.SameProtocolOnly {
		desc += fmt.Sprintf(", Protocol: %s only", seed.Scheme)
	}

	return desc
}
