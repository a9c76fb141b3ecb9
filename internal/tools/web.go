package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/url"
	"regexp"
	"strings"
)

var (
	privacyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`privacy\s*policy`),
		regexp.MustCompile(`href=["'][^"']*privacy[^"']*["']`),
		regexp.MustCompile(`data\s*protection`),
	}
	termsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`terms\s*(of\s*)?(service|use|conditions)`),
		regexp.MustCompile(`href=["'][^"']*terms[^"']*["']`),
		regexp.MustCompile(`user\s*agreement`),
	}
	refundPatterns = []*regexp.Regexp{
		regexp.MustCompile(`refund\s*policy`),
		regexp.MustCompile(`return\s*policy`),
		regexp.MustCompile(`cancellation\s*policy`),
		regexp.MustCompile(`href=["'][^"']*refund[^"']*["']`),
		regexp.MustCompile(`href=["'][^"']*return[^"']*["']`),
	}
	contactPatterns = []*regexp.Regexp{
		regexp.MustCompile(`contact\s*us`),
		regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`),
		regexp.MustCompile(`\+?\d{10,}`),
		regexp.MustCompile(`mailto:`),
	}
	policyLinkPattern = regexp.MustCompile(`href=["']([^"']*(?:privacy|terms|refund|return|contact)[^"']*)["']`)
)

const sampleStorefront = `<html><head><title>Store</title></head><body>` +
	`<h1>Welcome</h1><a href="/privacy">Privacy Policy</a>` +
	`<a href="/terms">Terms of Service</a><a href="/refund">Refund Policy</a>` +
	`<footer>Contact us: support@example.com</footer></body></html>`

// CheckSSL verifies that a website serves a valid certificate over HTTPS.
func CheckSSL() *Tool {
	return &Tool{
		Def: Definition{
			Name:            "check_ssl",
			Description:     "Check if a website has valid SSL/HTTPS",
			Category:        CategoryWeb,
			RequiresNetwork: true,
			Idempotent:      true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "Website URL to check"}
				},
				"required": ["url"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			host := hostOf(strParam(in.Params, "url"))
			if host == "" {
				return map[string]any{
					"has_ssl": false, "certificate_valid": false,
					"error": "invalid URL",
				}, nil
			}
			if in.Sim.Enabled("ssl_invalid") {
				return map[string]any{
					"has_ssl":           true,
					"certificate_valid": false,
					"error":             fmt.Sprintf("certificate for %s has expired", host),
				}, nil
			}
			return map[string]any{
				"has_ssl":           true,
				"certificate_valid": true,
				"expiry_days":       int(hashOf(host)%300) + 60,
			}, nil
		},
	}
}

// FetchWebpage retrieves the HTML of a page. The offline backend serves a
// deterministic storefront for any reachable URL.
func FetchWebpage() *Tool {
	return &Tool{
		Def: Definition{
			Name:            "fetch_webpage",
			Description:     "Fetch HTML content from a webpage",
			Category:        CategoryWeb,
			RequiresNetwork: true,
			Idempotent:      true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "URL to fetch"}
				},
				"required": ["url"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			host := hostOf(strParam(in.Params, "url"))
			if host == "" {
				return map[string]any{
					"success": false, "html": "", "status_code": 0,
					"error": "invalid URL",
				}, nil
			}
			if in.Sim.Enabled("website_unreachable") {
				return map[string]any{
					"success": false, "html": "", "status_code": 0,
					"error": fmt.Sprintf("connection to %s timed out", host),
				}, nil
			}

			html := sampleStorefront
			if in.Sim.Enabled("policies_missing") {
				html = `<html><body><h1>Welcome</h1></body></html>`
			}
			return map[string]any{
				"success":     true,
				"html":        html,
				"status_code": 200,
			}, nil
		},
	}
}

// CheckPagePolicies scans HTML for the policy pages a merchant storefront
// must carry: privacy policy, terms, refund policy, and contact details.
func CheckPagePolicies() *Tool {
	return &Tool{
		Def: Definition{
			Name:        "check_page_policies",
			Description: "Check if webpage has required policy pages (Privacy, Terms, Refund)",
			Category:    CategoryWeb,
			Idempotent:  true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"html": {"type": "string", "description": "HTML content to analyze"},
					"base_url": {"type": "string", "description": "Base URL for relative links"}
				},
				"required": ["html"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			html := strings.ToLower(strParam(in.Params, "html"))

			foundLinks := []string{}
			seen := map[string]bool{}
			for _, m := range policyLinkPattern.FindAllStringSubmatch(html, -1) {
				if !seen[m[1]] && len(foundLinks) < 10 {
					seen[m[1]] = true
					foundLinks = append(foundLinks, m[1])
				}
			}

			return map[string]any{
				"has_privacy_policy": matchesAny(html, privacyPatterns),
				"has_terms":          matchesAny(html, termsPatterns),
				"has_refund_policy":  matchesAny(html, refundPatterns),
				"has_contact_info":   matchesAny(html, contactPatterns),
				"found_links":        foundLinks,
			}, nil
		},
	}
}

// CheckDomainAge looks up how long ago the site's domain was registered.
// Young domains are a fraud signal, not a hard block.
func CheckDomainAge() *Tool {
	return &Tool{
		Def: Definition{
			Name:            "check_domain_age",
			Description:     "Look up domain registration age in days",
			Category:        CategoryWeb,
			RequiresNetwork: true,
			Idempotent:      true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "Website URL to check"}
				},
				"required": ["url"]
			}`),
		},
		Run: func(_ context.Context, in Input) (map[string]any, error) {
			host := hostOf(strParam(in.Params, "url"))
			if host == "" {
				return map[string]any{"found": false, "error": "invalid URL"}, nil
			}
			if in.Sim.Enabled("domain_too_young") {
				return map[string]any{"found": true, "domain": host, "age_days": 15}, nil
			}
			return map[string]any{
				"found":    true,
				"domain":   host,
				"age_days": int(hashOf(host)%2000) + 365,
			}, nil
		},
	}
}

// hostOf extracts the hostname from a URL, tolerating missing schemes.
func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return u.Hostname()
}

func hashOf(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
