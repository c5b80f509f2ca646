package partition

import (
	"fmt"
	"strconv"
	"strings"
)

// addressPattern matches IPv4 hosts octet by octet. An octet is a number, "*"
// or an inclusive range "a-b". Anything that is not four octets is compared
// literally, which covers host names.
type addressPattern struct {
	raw    string
	octets [][2]int
}

func parseAddressPattern(p string) (addressPattern, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return addressPattern{}, fmt.Errorf("empty member group address pattern")
	}
	parts := strings.Split(p, ".")
	if len(parts) != 4 {
		return addressPattern{raw: p}, nil
	}
	ap := addressPattern{raw: p}
	for _, part := range parts {
		lo, hi, err := parseOctet(part)
		if err != nil {
			if strings.Contains(p, "*") {
				return addressPattern{}, fmt.Errorf("invalid member group address pattern %q: %w", p, err)
			}
			// not an IPv4 pattern, e.g. a dotted host name
			return addressPattern{raw: p}, nil
		}
		ap.octets = append(ap.octets, [2]int{lo, hi})
	}
	return ap, nil
}

func parseOctet(s string) (int, int, error) {
	if s == "*" {
		return 0, 255, nil
	}
	if i := strings.Index(s, "-"); i > 0 {
		lo, err := octet(s[:i])
		if err != nil {
			return 0, 0, err
		}
		hi, err := octet(s[i+1:])
		if err != nil {
			return 0, 0, err
		}
		if lo > hi {
			return 0, 0, fmt.Errorf("range %q is reversed", s)
		}
		return lo, hi, nil
	}
	v, err := octet(s)
	return v, v, err
}

func octet(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("octet %d out of range", v)
	}
	return v, nil
}

func (ap addressPattern) match(host string) bool {
	if ap.octets == nil {
		return ap.raw == host
	}
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < ap.octets[i][0] || v > ap.octets[i][1] {
			return false
		}
	}
	return true
}

func matchesAny(patterns []addressPattern, host string) bool {
	for _, p := range patterns {
		if p.match(host) {
			return true
		}
	}
	return false
}
