// Package enrich resolves country, organization, ASN and reverse DNS for a probed address.
package enrich

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// Result holds enrichment fields. A nil field means the upstream had no value;
// blank upstream strings are mapped to nil.
type Result struct {
	Country *string `json:"country,omitempty"`
	Reverse *string `json:"reverse,omitempty"`
	Org     *string `json:"org,omitempty"`
	ASN     *string `json:"asn,omitempty"`
}

// Provider looks up enrichment data for an address.
// A nil result with a nil error means "no data available" (e.g. rate limited).
type Provider interface {
	Lookup(ctx context.Context, ip string) (*Result, error)
}

// Empty reports whether r carries no field at all.
func (r *Result) Empty() bool {
	return r == nil || (r.Country == nil && r.Reverse == nil && r.Org == nil && r.ASN == nil)
}

// fill copies fields that are unknown in r from other.
func (r *Result) fill(other *Result) {
	if other == nil {
		return
	}
	if r.Country == nil {
		r.Country = other.Country
	}
	if r.Reverse == nil {
		r.Reverse = other.Reverse
	}
	if r.Org == nil {
		r.Org = other.Org
	}
	if r.ASN == nil {
		r.ASN = other.ASN
	}
}

// apiResponse mirrors the ip-api.com JSON fields we request.
type apiResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CountryCode string `json:"countryCode"`
	Reverse     string `json:"reverse"`
	Org         string `json:"org"`
	AS          string `json:"as"`
}

// Parse decodes an ip-api response body. Blank fields become nil.
func Parse(body []byte) (*Result, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if resp.Status == "fail" {
		log.Trace().Str("message", resp.Message).Msg("Enrichment lookup reported failure")
	}

	return &Result{
		Country: nonBlank(resp.CountryCode),
		Reverse: nonBlank(resp.Reverse),
		Org:     nonBlank(resp.Org),
		ASN:     nonBlank(resp.AS),
	}, nil
}

// nonBlank returns nil for empty or whitespace-only strings.
func nonBlank(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Chain queries providers in order and fills fields still unknown from later ones.
// Failing providers are skipped; an error is returned only when nothing produced data.
type Chain []Provider

// Lookup implements Provider.
func (c Chain) Lookup(ctx context.Context, ip string) (*Result, error) {
	var (
		merged  *Result
		lastErr error
	)

	for _, p := range c {
		if p == nil {
			continue
		}

		r, err := p.Lookup(ctx, ip)
		if err != nil {
			log.Debug().Err(err).Str("ip", ip).Msg("Enrichment provider failed")
			lastErr = err
			continue
		}
		if r.Empty() {
			continue
		}

		if merged == nil {
			merged = &Result{}
		}
		merged.fill(r)
		if merged.Country != nil && merged.Reverse != nil && merged.Org != nil && merged.ASN != nil {
			break
		}
	}

	if merged == nil && lastErr != nil {
		return nil, lastErr
	}

	return merged, nil
}
