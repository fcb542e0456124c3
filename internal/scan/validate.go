package scan

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ErrInvalidDomain marks a rejected scan target. The API maps it to 400.
var ErrInvalidDomain = errors.New("scan: invalid domain")

var hostnameRE = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// ValidateDomain normalizes and checks a scan target. Only bare public
// hostnames are accepted: no URLs, no IP addresses, no localhost.
func ValidateDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return "", fmt.Errorf("%w: domain is required", ErrInvalidDomain)
	}
	if strings.Contains(d, "://") || strings.ContainsAny(d, "/?#@ ") {
		return "", fmt.Errorf("%w: %q is not a bare hostname", ErrInvalidDomain, domain)
	}
	if ip := net.ParseIP(d); ip != nil {
		return "", fmt.Errorf("%w: IP addresses are not scannable, provide a domain", ErrInvalidDomain)
	}
	if d == "localhost" || strings.HasSuffix(d, ".localhost") || strings.HasSuffix(d, ".local") {
		return "", fmt.Errorf("%w: local hostnames are not scannable", ErrInvalidDomain)
	}
	if !hostnameRE.MatchString(d) {
		return "", fmt.Errorf("%w: %q is not a valid domain", ErrInvalidDomain, domain)
	}
	return d, nil
}
