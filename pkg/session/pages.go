package session

import (
	"context"
	"strings"

	"github.com/odvcencio/playwire/pkg/observability"
	"github.com/odvcencio/playwire/pkg/pw"
)

// selectPage reuses a page of an attached context: the first one matching
// preferred, else the first unprotected one, else a new page.
func selectPage(ctx context.Context, bc *pw.BrowserContext, protected []string, preferred string, logger *observability.Logger) (*pw.Page, error) {
	var fallback *pw.Page
	for _, page := range bc.Pages() {
		url := page.URL()
		if isProtectedURL(url, protected) {
			logger.Debug("skipping protected page", "url", url)
			continue
		}
		if preferred != "" && isPreferredMatch(url, preferred) {
			logger.Debug("found preferred page", "url", url, "preferred", preferred)
			return page, nil
		}
		if fallback == nil {
			fallback = page
		}
	}
	if fallback != nil {
		logger.Debug("reusing existing page", "url", fallback.URL())
		return fallback, nil
	}
	logger.Debug("no reusable page, opening one")
	return bc.NewPage(ctx)
}

func isProtectedURL(url string, patterns []string) bool {
	lower := strings.ToLower(url)
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func isPreferredMatch(url, preferred string) bool {
	if url == "" {
		return false
	}
	return strings.HasPrefix(url, preferred) || strings.HasPrefix(preferred, url) || sameHost(url, preferred)
}

// sameHost compares the authority of two http(s) URLs. Other schemes never
// match.
func sameHost(a, b string) bool {
	ha, ok := httpHost(a)
	if !ok {
		return false
	}
	hb, ok := httpHost(b)
	return ok && ha == hb
}

func httpHost(url string) (string, bool) {
	rest, ok := strings.CutPrefix(url, "https://")
	if !ok {
		rest, ok = strings.CutPrefix(url, "http://")
	}
	if !ok {
		return "", false
	}
	host, _, _ := strings.Cut(rest, "/")
	return host, true
}

// urlsMatch compares navigation targets ignoring trailing slashes.
func urlsMatch(current, target string) bool {
	return current == target || strings.TrimRight(current, "/") == strings.TrimRight(target, "/")
}
