package kb

import (
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/net/idna"
)

// trackingRule strips query parameters matching param on hosts matching host.
// Both globs are matched against lower-cased input.
type trackingRule struct {
	host  glob.Glob
	param glob.Glob
}

var trackingRules = []trackingRule{
	{
		host:  glob.MustCompile("*"),
		param: glob.MustCompile("{utm_*,fbclid,gclid,dclid,msclkid,yclid,mc_*,igshid,si,ref_src,ref_url,_hsenc,_hsmi,mkt_tok,_ga}"),
	},
	{
		host:  glob.MustCompile("x.com"),
		param: glob.MustCompile("{s,t,cxt}"),
	},
	{
		host:  glob.MustCompile("{linkedin.com,*.linkedin.com}"),
		param: glob.MustCompile("{trk*,lipi,midtoken,midsig,eid,rcm,originalsubdomain}"),
	},
	{
		host:  glob.MustCompile("{substack.com,*.substack.com}"),
		param: glob.MustCompile("{r,triedredirect,showwelcome*,publication_id,post_id,isfreemail}"),
	},
}

var hostAliases = map[string]string{
	"twitter.com":        "x.com",
	"mobile.twitter.com": "x.com",
	"mobile.x.com":       "x.com",
}

// NormalizeURL returns the comparison form of a URL: https scheme, canonical
// host, no default port, no fragment, no tracking parameters, no trailing
// slash, lower case. It never fails; unparsable input is trimmed and
// lower-cased.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + strings.TrimPrefix(s, "//")
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(s, "/"))
	}

	host := strings.ToLower(u.Hostname())
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	host = strings.TrimPrefix(host, "www.")
	if alias, ok := hostAliases[host]; ok {
		host = alias
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" {
		scheme = "https"
	}
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))
	if q := stripTracking(u.RawQuery, host); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return strings.ToLower(b.String())
}

// stripTracking drops tracking parameters and re-encodes the rest with sorted
// keys so parameter order does not affect equality.
func stripTracking(rawQuery, host string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for key := range values {
		lk := strings.ToLower(key)
		for _, rule := range trackingRules {
			if rule.host.Match(host) && rule.param.Match(lk) {
				values.Del(key)
				break
			}
		}
	}
	return values.Encode()
}

// NormalizeHandle returns the comparison form of an x handle.
func NormalizeHandle(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "@")
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeTopic trims surrounding whitespace.
func NormalizeTopic(s string) string {
	return strings.TrimSpace(s)
}

// normalizeTopics trims topics, drops empties and duplicates, and keeps the
// first-seen order.
func normalizeTopics(topics []string) []string {
	return mergeTopics(nil, topics)
}

// mergeTopics returns existing followed by every new topic not already in it.
func mergeTopics(existing, incoming []string) []string {
	if len(existing) == 0 && len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, t := range list {
			t = NormalizeTopic(t)
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
