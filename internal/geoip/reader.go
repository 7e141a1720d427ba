package geoip

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/woozymasta/seeker/internal/enrich"
)

// Provider wraps a MaxMind database reader. It serves as an offline enrichment
// source: country databases fill the country, ASN databases fill ASN and organization.
type Provider struct {
	db *geoip2.Reader
}

// Open initializes the GeoIP database reader from a specific file path.
func Open(path string) (*Provider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	return &Provider{db: db}, nil
}

// Close closes the underlying GeoIP database reader.
func (p *Provider) Close() error {
	return p.db.Close()
}

// CountryCode looks up the ISO country code (e.g., "US", "DE") for an address.
// It returns an empty string if the IP is invalid or the country cannot be determined.
func (p *Provider) CountryCode(ip net.IP) string {
	record, err := p.db.Country(ip)
	if err != nil {
		return ""
	}

	return record.Country.IsoCode
}

// Lookup implements enrich.Provider. Reverse DNS is never known offline.
func (p *Provider) Lookup(_ context.Context, ipStr string) (*enrich.Result, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, nil
	}

	var r enrich.Result
	if code := p.CountryCode(ip); code != "" {
		r.Country = &code
	}

	if record, err := p.db.ASN(ip); err == nil && record.AutonomousSystemNumber != 0 {
		asn := fmt.Sprintf("AS%d %s", record.AutonomousSystemNumber, record.AutonomousSystemOrganization)
		r.ASN = &asn
		if org := record.AutonomousSystemOrganization; org != "" {
			r.Org = &org
		}
	}

	if r.Empty() {
		return nil, nil
	}

	return &r, nil
}
