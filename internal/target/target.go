// Package target resolves the Open Question in spec.md §9 over DOMAIN
// target name normalization: lowercase, IDNA-normalized, applied by
// `scanhubctl target add` before the Target row is created (asset names
// written by the stages do not pass through it), plus the CIDR/IP
// expansion iter_default_urls needs (spec.md §4.E).
package target

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"

	"github.com/surfacectl/scanhub/internal/store"
)

var idnaProfile = idna.New(idna.MapForLookup(), idna.Transitional(false))

// Normalize lowercases and IDNA-normalizes a DOMAIN target name. IP and CIDR
// names are returned unchanged — they have no case or Unicode-folding
// ambiguity, so the uniqueness invariant in spec.md §3 only needs this for
// DOMAIN.
func Normalize(kind store.TargetType, name string) (string, error) {
	name = strings.TrimSpace(name)
	if kind != store.TargetDomain {
		return name, nil
	}
	ascii, err := idnaProfile.ToASCII(name)
	if err != nil {
		return "", fmt.Errorf("target: normalizing domain %q: %w", name, err)
	}
	return strings.ToLower(ascii), nil
}

// DefaultURLs implements the Target-expansion half of iter_default_urls
// (spec.md §4.E): DOMAIN/IP → {http,https}://name; CIDR → {http,https}://ip
// for every host in the network (the address itself for a single-address
// /32 or /128 network).
func DefaultURLs(kind store.TargetType, name string) ([]string, error) {
	switch kind {
	case store.TargetDomain, store.TargetIP:
		return []string{"http://" + name, "https://" + name}, nil
	case store.TargetCIDR:
		return cidrURLs(name)
	default:
		return nil, fmt.Errorf("target: unknown target type %q", kind)
	}
}

func cidrURLs(cidr string) ([]string, error) {
	hosts, err := ExpandHosts(cidr)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(hosts)*2)
	for _, h := range hosts {
		urls = append(urls, "http://"+h, "https://"+h)
	}
	return urls, nil
}

// ExpandHosts expands a CIDR into its bare host addresses (the address
// itself for a single-address /32 or /128 network), used by port_scan to
// build its target_name-derived scan inputs (spec.md §4.H).
func ExpandHosts(cidr string) ([]string, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("target: parsing CIDR %q: %w", cidr, err)
	}
	ones, bits := ipNet.Mask.Size()
	if ones == bits {
		// Single-address network: the address itself, per spec.md §8's
		// boundary behaviour ("single /32 CIDR emits {http,https}://<ip>").
		return []string{ip.String()}, nil
	}

	var hosts []string
	for cur := cloneIP(ipNet.IP); ipNet.Contains(cur); incIP(cur) {
		hosts = append(hosts, cur.String())
	}
	return hosts, nil
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}
