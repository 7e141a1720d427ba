// Package entity rebuilds the canonical server entity from a live probe, a persisted
// row projection or an external API payload. All three sources go through one
// assembly routine so a built entity does not reveal where it came from.
package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/woozymasta/seeker/internal/models"
)

// Source names the payload a server entity was reconstructed from.
type Source string

// Reconstruction sources.
const (
	SourceProbe Source = "probe"
	SourceRow   Source = "row"
	SourceAPI   Source = "api"
)

var (
	// ErrMissing marks a required field that is absent or null.
	ErrMissing = errors.New("required field is missing")

	// ErrNoRows is returned by FromRows for an empty projection.
	ErrNoRows = errors.New("no rows in projection")
)

// MalformedError reports the source and field path that prevented building an entity.
type MalformedError struct {
	Err    error
	Source Source
	Field  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s payload at %q: %v", e.Source, e.Field, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

func malformed(src Source, field string, err error) *MalformedError {
	return &MalformedError{Source: src, Field: field, Err: err}
}

// field is a canonical server attribute, independent of any source's naming.
type field int

const (
	fieldAddress field = iota
	fieldPort
	fieldType
	fieldFirstSeen
	fieldLastSeen
	fieldCountry
	fieldASN
	fieldReverseDNS
	fieldOrganization
	fieldVersion
	fieldProtocol
	fieldFMLNetworkVersion
	fieldMOTD
	fieldIcon
	fieldTimesSeen
	fieldPreventsReports
	fieldEnforceSecure
	fieldWhitelist
	fieldCracked
	fieldMaxPlayers
	fieldOnlinePlayers
)

// accessor is the per-source field access strategy. A nil value with a nil
// error means the field is unknown; an error means the value is malformed.
type accessor interface {
	source() Source
	name(f field) string
	text(f field) (*string, error)
	number(f field) (*int64, error)
	flag(f field) (*bool, error)
}

// reader records the first access failure so assemble reads top to bottom.
type reader struct {
	acc accessor
	err error
}

func (r *reader) fail(f field, err error) {
	if r.err == nil {
		r.err = malformed(r.acc.source(), r.acc.name(f), err)
	}
}

func (r *reader) text(f field) *string {
	if r.err != nil {
		return nil
	}
	v, err := r.acc.text(f)
	if err != nil {
		r.fail(f, err)
	}
	return v
}

func (r *reader) integer(f field) *int {
	if r.err != nil {
		return nil
	}
	v, err := r.acc.number(f)
	if err != nil {
		r.fail(f, err)
		return nil
	}
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

func (r *reader) unix(f field) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.acc.number(f)
	if err != nil {
		r.fail(f, err)
		return 0
	}
	if v == nil {
		return 0
	}
	return *v
}

func (r *reader) flag(f field) *bool {
	if r.err != nil {
		return nil
	}
	v, err := r.acc.flag(f)
	if err != nil {
		r.fail(f, err)
	}
	return v
}

// assemble builds the scalar part of a server. Address and port are required;
// every other field keeps "unknown" as nil.
func assemble(acc accessor) (*models.Server, error) {
	r := &reader{acc: acc}

	address := r.text(fieldAddress)
	port := r.integer(fieldPort)
	typ := r.text(fieldType)
	motd := r.text(fieldMOTD)
	timesSeen := r.integer(fieldTimesSeen)

	s := &models.Server{
		FirstSeen:         r.unix(fieldFirstSeen),
		LastSeen:          r.unix(fieldLastSeen),
		Country:           r.text(fieldCountry),
		ASN:               r.text(fieldASN),
		ReverseDNS:        r.text(fieldReverseDNS),
		Organization:      r.text(fieldOrganization),
		Version:           r.text(fieldVersion),
		Protocol:          r.integer(fieldProtocol),
		FMLNetworkVersion: r.integer(fieldFMLNetworkVersion),
		Icon:              r.text(fieldIcon),
		PreventsReports:   r.flag(fieldPreventsReports),
		EnforceSecure:     r.flag(fieldEnforceSecure),
		Whitelist:         r.flag(fieldWhitelist),
		Cracked:           r.flag(fieldCracked),
		MaxPlayers:        r.integer(fieldMaxPlayers),
		OnlinePlayers:     r.integer(fieldOnlinePlayers),
	}
	if r.err != nil {
		return nil, r.err
	}

	switch {
	case address == nil || strings.TrimSpace(*address) == "":
		return nil, malformed(acc.source(), acc.name(fieldAddress), ErrMissing)
	case port == nil:
		return nil, malformed(acc.source(), acc.name(fieldPort), ErrMissing)
	case *port < 1 || *port > 65535:
		return nil, malformed(acc.source(), acc.name(fieldPort), fmt.Errorf("port %d out of range", *port))
	}
	s.Address = *address
	s.Port = *port

	if typ != nil {
		t := models.ServerType(*typ)
		if !t.Valid() {
			return nil, malformed(acc.source(), acc.name(fieldType), fmt.Errorf("unknown server type %q", *typ))
		}
		s.Type = t
	}
	if motd != nil {
		s.MOTD = *motd
	}
	if timesSeen != nil {
		s.TimesSeen = *timesSeen
	}

	return s, nil
}

// JSON value helpers shared by the probe and API strategies.

// has reports whether a key was present, including an explicit null.
func has(raw json.RawMessage) bool {
	return len(raw) > 0
}

// isNull reports whether raw is absent or an explicit JSON null.
func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// asString accepts JSON strings and renders numbers and booleans as text.
func asString(raw json.RawMessage) (string, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return "", err
	}

	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("expected string, got %s", kind(v))
	}
}

// asInt accepts integral JSON numbers and numeric strings.
func asInt(raw json.RawMessage) (int64, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return 0, err
	}

	switch t := v.(type) {
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("expected integer, got %s", kind(v))
	}
}

// asBool accepts JSON booleans and boolean strings.
func asBool(raw json.RawMessage) (bool, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return false, err
	}

	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(t))
	default:
		return false, fmt.Errorf("expected boolean, got %s", kind(v))
	}
}

// asObject decodes a JSON object into its raw members.
func asObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("expected object, got null")
	}
	return obj, nil
}

// asArray decodes a JSON array into its raw elements.
func asArray(raw json.RawMessage) ([]json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, err
	}
	return arr, nil
}
