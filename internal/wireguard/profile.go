package wireguard

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/curve25519"
)

var ErrInvalidKey = errors.New("invalid WireGuard key")

// Profile is the non-secret part of a wg-quick config file. Peer fields
// describe the first [Peer] section only; PeerCount says how many there were.
type Profile struct {
	Name       string   `json:"name"`
	Address    []string `json:"address,omitempty"`
	DNS        []string `json:"dns,omitempty"`
	PublicKey  string   `json:"public_key,omitempty"`
	Endpoint   string   `json:"endpoint,omitempty"`
	PeerKey    string   `json:"peer_public_key,omitempty"`
	AllowedIPs []string `json:"allowed_ips,omitempty"`
	PeerCount  int      `json:"peer_count"`
}

// ReadProfile parses the config at path. The private key is only used to
// derive the interface public key and is never returned.
func ReadProfile(name, path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", name, err)
	}
	defer f.Close()

	p := &Profile{Name: name}
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.Trim(line, "[]"))
			if section == "peer" {
				p.PeerCount++
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if section == "peer" && p.PeerCount > 1 {
			continue
		}

		switch section + "." + key {
		case "interface.address":
			p.Address = append(p.Address, splitValues(value)...)
		case "interface.dns":
			p.DNS = append(p.DNS, splitValues(value)...)
		case "interface.privatekey":
			pub, err := PublicKey(value)
			if err != nil {
				return nil, fmt.Errorf("config %s: %w", name, err)
			}
			p.PublicKey = pub
		case "peer.publickey":
			p.PeerKey = value
		case "peer.endpoint":
			p.Endpoint = value
		case "peer.allowedips":
			p.AllowedIPs = append(p.AllowedIPs, splitValues(value)...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", name, err)
	}
	return p, nil
}

// PublicKey derives the base64 public key for a base64 private key
func PublicKey(privateKey string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil || len(raw) != curve25519.ScalarSize {
		return "", ErrInvalidKey
	}
	pub, err := curve25519.X25519(raw, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

func splitValues(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
