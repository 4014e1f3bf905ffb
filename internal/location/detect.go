package location

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// rule maps a URL to a country when any host or keyword substring matches.
// Country "" means the URL is known to need no VPN.
type rule struct {
	country  string
	hosts    []string
	keywords []string
}

// countryRules is evaluated top to bottom and the first match wins.
// Order and literals are load-bearing: existing config sets rely on them.
var countryRules = []rule{
	// UK broadcasters
	{country: "gb", hosts: []string{"bbc.co.uk", "iplayer", "itv.com", "channel4.com", "channel5.com"}},
	{country: "gb", hosts: []string{".uk"}, keywords: []string{"britain", "british"}},

	// US services
	{country: "us", hosts: []string{"hulu.com", "nbc.com", "abc.com", "cbs.com", "fox.com", "hbo.com", "peacocktv.com"}},
	{country: "us", hosts: []string{".us"}},

	// Canada
	{country: "ca", hosts: []string{"cbc.ca", "ctv.ca", "globaltv.com"}},
	{country: "ca", hosts: []string{".ca"}, keywords: []string{"canada", "canadian"}},

	// Australia
	{country: "au", hosts: []string{"abc.net.au", "sbs.com.au", "9now.com.au", "10play.com.au", "7plus.com.au"}},
	{country: "au", hosts: []string{".au"}, keywords: []string{"australia"}},

	{country: "nz", hosts: []string{".nz"}, keywords: []string{"newzealand"}},

	// Europe
	{country: "de", hosts: []string{".de"}, keywords: []string{"germany", "deutsche"}},
	{country: "fr", hosts: []string{".fr"}, keywords: []string{"france"}},
	{country: "it", hosts: []string{".it"}, keywords: []string{"italy", "italia"}},
	{country: "es", hosts: []string{".es"}, keywords: []string{"spain", "españa"}},
	{country: "nl", hosts: []string{".nl"}, keywords: []string{"netherlands"}},
	{country: "se", hosts: []string{".se"}, keywords: []string{"sweden"}},
	{country: "no", hosts: []string{".no"}, keywords: []string{"norway"}},
	{country: "dk", hosts: []string{".dk"}, keywords: []string{"denmark"}},

	// Asia
	{country: "jp", hosts: []string{".jp"}, keywords: []string{"japan"}},
	{country: "kr", hosts: []string{".kr"}, keywords: []string{"korea"}},
	{country: "sg", hosts: []string{".sg"}, keywords: []string{"singapore"}},
	{country: "hk", hosts: []string{".hk"}, keywords: []string{"hongkong"}},

	// Global platforms, fetched over the direct connection
	{country: "", hosts: []string{"youtube.com", "youtu.be"}},
}

func (r rule) matches(host, full string) bool {
	for _, h := range r.hosts {
		if strings.Contains(host, h) {
			return true
		}
	}
	for _, k := range r.keywords {
		if strings.Contains(full, k) {
			return true
		}
	}
	return false
}

// DetectCountry returns the ISO 3166-1 alpha-2 code a URL most likely needs,
// or "" when no VPN is needed or nothing matched.
func DetectCountry(rawURL string) string {
	full := norm.NFC.String(strings.ToLower(rawURL))
	host := hostOf(rawURL)

	for _, r := range countryRules {
		if r.matches(host, full) {
			return r.country
		}
	}

	return ""
}

// hostOf returns the lowercased host of rawURL. Scheme-less input such as
// "www.bbc.co.uk/iplayer" is read as a network path; anything unparsable
// yields "" and falls back to keyword matching.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err == nil && parsed.Host != "" {
		return strings.ToLower(parsed.Host)
	}
	if strings.Contains(rawURL, "://") {
		return ""
	}
	parsed, err = url.Parse("//" + rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}
