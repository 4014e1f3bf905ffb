// Package location maps WireGuard config files to countries and cities, and
// guesses which country a video URL should be fetched from.
package location

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// DefaultConfigDir is where wg-quick looks for interface configs
const DefaultConfigDir = "/etc/wireguard"

const configExt = ".conf"

// locationPattern matches stems such as "au-syd-wg-001"
var locationPattern = regexp.MustCompile(`^([a-z]{2})-([a-z]{3})-`)

// Config identifies one VPN profile on disk
type Config struct {
	// Name is the filename stem, which is also the interface name wg-quick creates
	Name string `json:"name"`
	Path string `json:"path"`
}

// Location is the country and city encoded in a config name
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
	Full    string `json:"full"`
}

// Resolver answers location questions about the configs in one directory
type Resolver struct {
	dir string
}

// NewResolver creates a resolver over dir. An empty dir uses DefaultConfigDir.
func NewResolver(dir string) *Resolver {
	if dir == "" {
		dir = DefaultConfigDir
	}
	return &Resolver{dir: dir}
}

// Dir returns the config directory being listed
func (r *Resolver) Dir() string {
	return r.dir
}

// ListConfigs returns every *.conf in the directory sorted by filename.
// A missing or unreadable directory yields an empty list.
func (r *Resolver) ListConfigs() []Config {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return []Config{}
	}

	configs := make([]Config, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != configExt {
			continue
		}
		configs = append(configs, Config{
			Name: strings.TrimSuffix(entry.Name(), configExt),
			Path: filepath.Join(r.dir, entry.Name()),
		})
	}

	sort.Slice(configs, func(i, j int) bool {
		return configs[i].Path < configs[j].Path
	})

	return configs
}

// Lookup finds a config by its stem
func (r *Resolver) Lookup(name string) (Config, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return Config{}, false
	}

	path := filepath.Join(r.dir, name+configExt)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Config{}, false
	}

	return Config{Name: name, Path: path}, true
}

// ParseLocation extracts the country and city from a config name.
// Names that do not follow the cc-ccc-... pattern have no location.
func ParseLocation(name string) (Location, bool) {
	match := locationPattern.FindStringSubmatch(name)
	if match == nil {
		return Location{}, false
	}
	return Location{
		Country: match[1],
		City:    match[2],
		Full:    name,
	}, true
}

// GroupByCountry buckets configs by country code, keeping listing order
// inside each bucket. Configs without a location are left out.
func (r *Resolver) GroupByCountry() map[string][]Config {
	byCountry := make(map[string][]Config)

	for _, cfg := range r.ListConfigs() {
		loc, ok := ParseLocation(cfg.Name)
		if !ok {
			continue
		}
		byCountry[loc.Country] = append(byCountry[loc.Country], cfg)
	}

	return byCountry
}

// SelectBestConfig picks a config for country, preferring preferredCity.
// An empty country means no VPN is wanted and always yields no selection.
func (r *Resolver) SelectBestConfig(country, preferredCity string) (Config, bool) {
	if country == "" {
		return Config{}, false
	}

	var candidates []Config
	var locations []Location
	for _, cfg := range r.ListConfigs() {
		loc, ok := ParseLocation(cfg.Name)
		if !ok || loc.Country != country {
			continue
		}
		candidates = append(candidates, cfg)
		locations = append(locations, loc)
	}

	if len(candidates) == 0 {
		return Config{}, false
	}

	if preferredCity != "" {
		for i, loc := range locations {
			if loc.City == preferredCity {
				return candidates[i], true
			}
		}
	}

	return candidates[0], true
}
