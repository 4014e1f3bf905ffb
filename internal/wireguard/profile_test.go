package wireguard

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// RFC 7748 section 6.1 key pair
const (
	testPrivateKey = "dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo="
	testPublicKey  = "hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo="
)

func TestPublicKey(t *testing.T) {
	got, err := PublicKey(testPrivateKey)
	if err != nil {
		t.Fatalf("PublicKey failed: %v", err)
	}
	if got != testPublicKey {
		t.Errorf("PublicKey = %s, want %s", got, testPublicKey)
	}
}

func TestPublicKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "not base64!", "c2hvcnQ="} {
		if _, err := PublicKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("PublicKey(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gb-lon-001.conf")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadProfile(t *testing.T) {
	path := writeProfile(t, `[Interface]
# Device: gb-lon-001
PrivateKey = `+testPrivateKey+`
Address = 10.64.0.2/32, fc00:bbbb::2/128
DNS = 10.64.0.1

[Peer]
PublicKey = peerkey=
AllowedIPs = 0.0.0.0/0,::0/0
Endpoint = 185.0.0.1:51820
`)

	p, err := ReadProfile("gb-lon-001", path)
	if err != nil {
		t.Fatalf("ReadProfile failed: %v", err)
	}

	if p.Name != "gb-lon-001" {
		t.Errorf("Name = %q", p.Name)
	}
	if p.PublicKey != testPublicKey {
		t.Errorf("PublicKey = %q, want derived %q", p.PublicKey, testPublicKey)
	}
	if strings.Join(p.Address, ",") != "10.64.0.2/32,fc00:bbbb::2/128" {
		t.Errorf("Address = %v", p.Address)
	}
	if strings.Join(p.DNS, ",") != "10.64.0.1" {
		t.Errorf("DNS = %v", p.DNS)
	}
	if p.Endpoint != "185.0.0.1:51820" || p.PeerKey != "peerkey=" {
		t.Errorf("peer not parsed: %+v", p)
	}
	if len(p.AllowedIPs) != 2 {
		t.Errorf("AllowedIPs = %v", p.AllowedIPs)
	}
	if p.PeerCount != 1 {
		t.Errorf("PeerCount = %d, want 1", p.PeerCount)
	}
}

func TestReadProfile_MultiplePeers(t *testing.T) {
	path := writeProfile(t, `[Interface]
PrivateKey = `+testPrivateKey+`
Address = 10.64.0.2/32

[Peer]
PublicKey = first=
AllowedIPs = 0.0.0.0/0
AllowedIPs = ::0/0
Endpoint = 185.0.0.1:51820

[Peer]
PublicKey = second=
AllowedIPs = 10.10.0.0/16
Endpoint = 185.0.0.2:51820
`)

	p, err := ReadProfile("gb-lon-001", path)
	if err != nil {
		t.Fatalf("ReadProfile failed: %v", err)
	}

	if p.PeerKey != "first=" || p.Endpoint != "185.0.0.1:51820" {
		t.Errorf("expected first peer, got key %q endpoint %q", p.PeerKey, p.Endpoint)
	}
	if got := strings.Join(p.AllowedIPs, ","); got != "0.0.0.0/0,::0/0" {
		t.Errorf("AllowedIPs = %s, want only the first peer's ranges", got)
	}
	if p.PeerCount != 2 {
		t.Errorf("PeerCount = %d, want 2", p.PeerCount)
	}
}

func TestReadProfile_BadKey(t *testing.T) {
	path := writeProfile(t, "[Interface]\nPrivateKey = nope\n")

	_, err := ReadProfile("gb-lon-001", path)
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if strings.Contains(err.Error(), "nope") {
		t.Error("error must not echo the private key")
	}
}

func TestReadProfile_Missing(t *testing.T) {
	if _, err := ReadProfile("absent", filepath.Join(t.TempDir(), "absent.conf")); err == nil {
		t.Error("expected error for missing file")
	}
}
