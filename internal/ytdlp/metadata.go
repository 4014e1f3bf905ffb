package ytdlp

import (
	"fmt"
	"strconv"
	"strings"
)

// VideoInfo is the subset of yt-dlp --dump-json output the service reports.
// Field tags match yt-dlp's keys so cached copies decode the same way.
type VideoInfo struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Uploader         string   `json:"uploader"`
	Duration         float64  `json:"duration"`
	ViewCount        *int64   `json:"view_count"`
	Thumbnail        string   `json:"thumbnail"`
	WebpageURL       string   `json:"webpage_url"`
	Extractor        string   `json:"extractor"`
	GeoBypassCountry string   `json:"geo_bypass_country,omitempty"`
	Formats          []Format `json:"formats"`
}

// Format represents a media format option
type Format struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution"`
	Filesize   int64   `json:"filesize"`
	Abr        float64 `json:"abr"`
	Vbr        float64 `json:"vbr"`
}

const notAvailable = "N/A"

// Summary renders the one-page text description of the video.
// The format count line appears only when yt-dlp reported a formats list and
// the geo line only when it named a bypass country.
func (v *VideoInfo) Summary() string {
	lines := []string{
		"Title: " + orNA(v.Title),
		"Uploader: " + orNA(v.Uploader),
		"Duration: " + strconv.FormatFloat(v.Duration, 'f', -1, 64) + " seconds",
	}

	views := notAvailable
	if v.ViewCount != nil {
		views = strconv.FormatInt(*v.ViewCount, 10)
	}
	lines = append(lines, "View count: "+views)

	if v.Formats != nil {
		lines = append(lines, fmt.Sprintf("Available formats: %d", len(v.Formats)))
	}
	if v.GeoBypassCountry != "" {
		lines = append(lines, "Geo-restriction detected: "+v.GeoBypassCountry)
	}

	return strings.Join(lines, "\n")
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
