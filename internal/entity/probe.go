package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/woozymasta/seeker/internal/classify"
	"github.com/woozymasta/seeker/internal/enrich"
	"github.com/woozymasta/seeker/internal/models"
	"github.com/woozymasta/seeker/internal/motd"
)

// probeResponse is the server list ping status object. Members stay raw so that
// presence, explicit null and type errors can be told apart per field.
type probeResponse struct {
	Version             json.RawMessage `json:"version"`
	Description         json.RawMessage `json:"description"`
	Players             json.RawMessage `json:"players"`
	Favicon             json.RawMessage `json:"favicon"`
	PreventsChatReports json.RawMessage `json:"preventsChatReports"`
	EnforcesSecureChat  json.RawMessage `json:"enforcesSecureChat"`
	ForgeData           json.RawMessage `json:"forgeData"`
	IsModded            json.RawMessage `json:"isModded"`
}

var probeNames = map[field]string{
	fieldAddress:           "address",
	fieldPort:              "port",
	fieldType:              "version",
	fieldFirstSeen:         "firstseen",
	fieldLastSeen:          "lastseen",
	fieldCountry:           "enrichment.countryCode",
	fieldASN:               "enrichment.as",
	fieldReverseDNS:        "enrichment.reverse",
	fieldOrganization:      "enrichment.org",
	fieldVersion:           "version.name",
	fieldProtocol:          "version.protocol",
	fieldFMLNetworkVersion: "forgeData.fmlNetworkVersion",
	fieldMOTD:              "description",
	fieldIcon:              "favicon",
	fieldTimesSeen:         "timesseen",
	fieldPreventsReports:   "preventsChatReports",
	fieldEnforceSecure:     "enforcesSecureChat",
	fieldWhitelist:         "whitelist",
	fieldCracked:           "cracked",
	fieldMaxPlayers:        "players.max",
	fieldOnlinePlayers:     "players.online",
}

// values is the access strategy over fields already decoded from a probe.
type values struct {
	m map[field]any
}

func (values) source() Source      { return SourceProbe }
func (values) name(f field) string { return probeNames[f] }

func (v values) text(f field) (*string, error) {
	switch t := v.m[f].(type) {
	case nil:
		return nil, nil
	case string:
		return &t, nil
	case *string:
		return t, nil
	default:
		return nil, fmt.Errorf("expected string, got %T", t)
	}
}

func (v values) number(f field) (*int64, error) {
	switch t := v.m[f].(type) {
	case nil:
		return nil, nil
	case int:
		n := int64(t)
		return &n, nil
	case int64:
		return &t, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", t)
	}
}

func (v values) flag(f field) (*bool, error) {
	switch t := v.m[f].(type) {
	case nil:
		return nil, nil
	case bool:
		return &t, nil
	default:
		return nil, fmt.Errorf("expected boolean, got %T", t)
	}
}

// FromProbe builds a server from a raw probe response and optional enrichment data.
// The counter starts at 1 and both timestamps are set to now. Any malformed part
// of the payload fails the whole build with a *MalformedError.
func FromProbe(address string, port int, raw []byte, extra *enrich.Result, now time.Time) (*models.Server, error) {
	if isNull(raw) {
		return nil, malformed(SourceProbe, "$", ErrMissing)
	}

	var resp probeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, malformed(SourceProbe, "$", err)
	}

	ts := now.Unix()
	m := map[field]any{
		fieldAddress:   address,
		fieldPort:      port,
		fieldFirstSeen: ts,
		fieldLastSeen:  ts,
		fieldTimesSeen: 1,
	}

	// Without a version block the variant stays unknown, modded signals included
	if has(resp.Version) {
		name, protocol, err := parseVersion(resp.Version)
		if err != nil {
			return nil, err
		}
		m[fieldVersion] = name
		m[fieldProtocol] = protocol
		m[fieldType] = string(classify.Classify(classify.Signals{
			Name:         name,
			Protocol:     protocol,
			IsModded:     has(resp.IsModded),
			HasForgeData: has(resp.ForgeData),
		}).Type)
	}

	if !isNull(resp.Description) {
		text, err := motd.Render(resp.Description)
		if err != nil {
			return nil, malformed(SourceProbe, "description", err)
		}
		m[fieldMOTD] = text
	}

	var mods []models.Mod
	if has(resp.ForgeData) {
		fml, list, err := parseForge(resp.ForgeData)
		if err != nil {
			return nil, err
		}
		m[fieldFMLNetworkVersion] = fml
		mods = list
	}

	var players []models.Player
	if has(resp.Players) {
		maxPlayers, online, sample, err := parsePlayers(resp.Players, ts)
		if err != nil {
			return nil, err
		}
		m[fieldMaxPlayers] = maxPlayers
		m[fieldOnlinePlayers] = online
		players = sample
	}

	if !isNull(resp.Favicon) {
		icon, err := asString(resp.Favicon)
		if err != nil {
			return nil, malformed(SourceProbe, "favicon", err)
		}
		m[fieldIcon] = icon
	}
	if !isNull(resp.PreventsChatReports) {
		b, err := asBool(resp.PreventsChatReports)
		if err != nil {
			return nil, malformed(SourceProbe, "preventsChatReports", err)
		}
		m[fieldPreventsReports] = b
	}
	if !isNull(resp.EnforcesSecureChat) {
		b, err := asBool(resp.EnforcesSecureChat)
		if err != nil {
			return nil, malformed(SourceProbe, "enforcesSecureChat", err)
		}
		m[fieldEnforceSecure] = b
	}

	if extra != nil {
		m[fieldCountry] = blankToNil(extra.Country)
		m[fieldASN] = blankToNil(extra.ASN)
		m[fieldReverseDNS] = blankToNil(extra.Reverse)
		m[fieldOrganization] = blankToNil(extra.Org)
	}

	s, err := assemble(values{m: m})
	if err != nil {
		return nil, err
	}
	s.Players = players
	s.Mods = mods

	return s, nil
}

func parseVersion(raw json.RawMessage) (string, int, error) {
	obj, err := asObject(raw)
	if err != nil {
		return "", 0, malformed(SourceProbe, "version", err)
	}

	if isNull(obj["name"]) {
		return "", 0, malformed(SourceProbe, "version.name", ErrMissing)
	}
	name, err := asString(obj["name"])
	if err != nil {
		return "", 0, malformed(SourceProbe, "version.name", err)
	}

	if isNull(obj["protocol"]) {
		return "", 0, malformed(SourceProbe, "version.protocol", ErrMissing)
	}
	protocol, err := asInt(obj["protocol"])
	if err != nil {
		return "", 0, malformed(SourceProbe, "version.protocol", err)
	}

	return name, int(protocol), nil
}

// parseForge extracts the FML network version (required) and the mod list in source order.
func parseForge(raw json.RawMessage) (int, []models.Mod, error) {
	obj, err := asObject(raw)
	if err != nil {
		return 0, nil, malformed(SourceProbe, "forgeData", err)
	}

	if isNull(obj["fmlNetworkVersion"]) {
		return 0, nil, malformed(SourceProbe, "forgeData.fmlNetworkVersion", ErrMissing)
	}
	fml, err := asInt(obj["fmlNetworkVersion"])
	if err != nil {
		return 0, nil, malformed(SourceProbe, "forgeData.fmlNetworkVersion", err)
	}

	if isNull(obj["mods"]) {
		return int(fml), nil, nil
	}

	entries, err := asArray(obj["mods"])
	if err != nil {
		return 0, nil, malformed(SourceProbe, "forgeData.mods", err)
	}

	mods := make([]models.Mod, 0, len(entries))
	for i, entry := range entries {
		path := fmt.Sprintf("forgeData.mods[%d]", i)

		mod, err := asObject(entry)
		if err != nil {
			return 0, nil, malformed(SourceProbe, path, err)
		}

		id, err := requiredString(mod, "modId", path)
		if err != nil {
			return 0, nil, err
		}
		marker, err := requiredString(mod, "modmarker", path)
		if err != nil {
			return 0, nil, err
		}

		mods = append(mods, models.Mod{ID: id, Marker: marker})
	}

	return int(fml), mods, nil
}

// parsePlayers reads max and online counts (both required) and the optional sample.
// Sample entries without a usable name and id are dropped.
func parsePlayers(raw json.RawMessage, ts int64) (int, int, []models.Player, error) {
	obj, err := asObject(raw)
	if err != nil {
		return 0, 0, nil, malformed(SourceProbe, "players", err)
	}

	counts := [2]int{}
	for i, key := range [2]string{"max", "online"} {
		if isNull(obj[key]) {
			return 0, 0, nil, malformed(SourceProbe, "players."+key, ErrMissing)
		}
		n, err := asInt(obj[key])
		if err != nil {
			return 0, 0, nil, malformed(SourceProbe, "players."+key, err)
		}
		counts[i] = int(n)
	}

	if isNull(obj["sample"]) {
		return counts[0], counts[1], nil, nil
	}

	entries, err := asArray(obj["sample"])
	if err != nil {
		return 0, 0, nil, malformed(SourceProbe, "players.sample", err)
	}

	players := make([]models.Player, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		p, ok := samplePlayer(entry, ts)
		if !ok {
			continue
		}
		if _, dup := seen[p.UUID]; dup {
			continue
		}
		seen[p.UUID] = struct{}{}
		players = append(players, p)
	}

	return counts[0], counts[1], players, nil
}

func samplePlayer(raw json.RawMessage, ts int64) (models.Player, bool) {
	obj, err := asObject(raw)
	if err != nil || isNull(obj["name"]) || isNull(obj["id"]) {
		return models.Player{}, false
	}

	name, err := asString(obj["name"])
	if err != nil {
		return models.Player{}, false
	}
	id, err := asString(obj["id"])
	if err != nil || strings.TrimSpace(id) == "" {
		return models.Player{}, false
	}

	// Canonical lowercase hyphenated form when the id is a real UUID
	if u, err := uuid.Parse(id); err == nil {
		id = u.String()
	}

	return models.Player{Name: name, UUID: id, FirstSeen: ts, LastSeen: ts}, true
}

func requiredString(obj map[string]json.RawMessage, key, path string) (string, error) {
	if isNull(obj[key]) {
		return "", malformed(SourceProbe, path+"."+key, ErrMissing)
	}
	s, err := asString(obj[key])
	if err != nil {
		return "", malformed(SourceProbe, path+"."+key, err)
	}
	return s, nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
