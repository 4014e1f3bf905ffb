package location

import "testing"

func TestDetectCountry(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.bbc.co.uk/iplayer/episode/abc", "gb"},
		{"https://www.itv.com/watch/show", "gb"},
		{"https://www.channel4.com/programmes/x", "gb"},
		{"https://news.sky.uk/video", "gb"},
		{"https://example.com/british-history", "gb"},
		{"https://www.hulu.com/watch/123", "us"},
		{"https://www.peacocktv.com/watch", "us"},
		{"https://video.example.us/clip", "us"},
		{"https://www.cbc.ca/player/play/1", "ca"},
		{"https://www.globaltv.com/shows", "ca"},
		{"https://example.com/canadian-news", "ca"},
		{"https://iview.abc.net.au/show/x", "au"},
		{"https://www.sbs.com.au/ondemand", "au"},
		{"https://www.tvnz.co.nz/shows", "nz"},
		{"https://www.ardmediathek.de/video", "de"},
		{"https://example.com/deutsche-welle", "de"},
		{"https://www.france.tv/france-2", "fr"},
		{"https://www.raiplay.it/video", "it"},
		{"https://example.com/españa/video", "es"},
		{"https://www.npo.nl/start", "nl"},
		{"https://www.svtplay.se/video", "se"},
		{"https://tv.nrk.no/serie", "no"},
		{"https://www.dr.dk/drtv", "dk"},
		{"https://tver.jp/episodes", "jp"},
		{"https://example.com/korea-drama", "kr"},
		{"https://www.mewatch.sg/watch", "sg"},
		{"https://www.tvb.com/hongkong", "hk"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", ""},
		{"https://youtu.be/dQw4w9WgXcQ", ""},
		{"https://vimeo.com/123456", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := DetectCountry(tt.url); got != tt.want {
				t.Errorf("DetectCountry(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestDetectCountry_Precedence(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		// gb host rules are checked before the us broadcaster list
		{"gb before us", "https://nbc.com.uk/show", "gb"},
		// the ca keyword rule comes before the de host rule
		{"ca keyword before de host", "https://example.de/canada", "ca"},
		// youtube is only reached when no regional rule matched first
		{"keyword beats youtube", "https://www.youtube.com/watch?v=x&list=british", "gb"},
		// keywords inspect the whole URL, hosts only the host
		{"host rule ignores path", "https://example.com/path.uk/video", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectCountry(tt.url); got != tt.want {
				t.Errorf("DetectCountry(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestDetectCountry_CaseInsensitive(t *testing.T) {
	if got := DetectCountry("HTTPS://WWW.BBC.CO.UK/IPLAYER"); got != "gb" {
		t.Errorf("expected gb, got %q", got)
	}
}

func TestDetectCountry_DecomposedKeyword(t *testing.T) {
	// "españa" written with a combining tilde
	if got := DetectCountry("https://example.com/espan\u0303a"); got != "es" {
		t.Errorf("expected es for decomposed keyword, got %q", got)
	}
}

func TestDetectCountry_SchemelessInput(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"www.bbc.co.uk/iplayer/episode/abc", "gb"},
		{"itv.com/watch/show", "gb"},
		{"youtube.com/watch?v=dQw4w9WgXcQ", ""},
		{"ytsearch1:cat videos", ""},
		{"ytsearch1:british comedy", "gb"},
		{"example.com/path.uk/video", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := DetectCountry(tt.url); got != tt.want {
				t.Errorf("DetectCountry(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}
