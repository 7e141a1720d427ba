package entity

import (
	"encoding/json"

	"github.com/woozymasta/seeker/internal/models"
)

// APIServer is the external API shape. Unknown values are emitted as null;
// the trailing group is optional and omitted when empty.
type APIServer struct {
	Version            *string `json:"version"`
	Protocol           *int    `json:"protocol"`
	Country            *string `json:"country"`
	ASN                *string `json:"asn"`
	Hostname           *string `json:"hostname"`
	Org                *string `json:"org"`
	Whitelist          *bool   `json:"whitelist"`
	EnforcesSecureChat *bool   `json:"enforces_secure_chat"`
	Cracked            *bool   `json:"cracked"`
	PreventsReports    *bool   `json:"prevents_reports"`
	MaxPlayers         *int    `json:"maxplayers"`
	Address            string  `json:"address"`
	MOTD               string  `json:"motd"`
	Port               int     `json:"port"`
	FirstSeen          int64   `json:"firstseen"`
	LastSeen           int64   `json:"lastseen"`

	Type              string          `json:"type,omitempty"`
	OnlinePlayers     *int            `json:"onlineplayers,omitempty"`
	FMLNetworkVersion *int            `json:"fmlnetworkversion,omitempty"`
	Icon              *string         `json:"icon,omitempty"`
	Players           []models.Player `json:"players,omitempty"`
	Mods              []models.Mod    `json:"mods,omitempty"`
	TimesSeen         int             `json:"timesseen,omitempty"`
}

// ToAPI converts a server into its external API shape.
func ToAPI(s *models.Server) APIServer {
	return APIServer{
		Address:            s.Address,
		Port:               s.Port,
		MOTD:               s.MOTD,
		Version:            s.Version,
		FirstSeen:          s.FirstSeen,
		LastSeen:           s.LastSeen,
		Protocol:           s.Protocol,
		Country:            s.Country,
		ASN:                s.ASN,
		Hostname:           s.ReverseDNS,
		Org:                s.Organization,
		Whitelist:          s.Whitelist,
		EnforcesSecureChat: s.EnforceSecure,
		Cracked:            s.Cracked,
		PreventsReports:    s.PreventsReports,
		MaxPlayers:         s.MaxPlayers,
		Type:               string(s.Type),
		OnlinePlayers:      s.OnlinePlayers,
		FMLNetworkVersion:  s.FMLNetworkVersion,
		Icon:               s.Icon,
		Players:            s.Players,
		Mods:               s.Mods,
		TimesSeen:          s.TimesSeen,
	}
}

var apiNames = map[field]string{
	fieldAddress:           "address",
	fieldPort:              "port",
	fieldType:              "type",
	fieldFirstSeen:         "firstseen",
	fieldLastSeen:          "lastseen",
	fieldCountry:           "country",
	fieldASN:               "asn",
	fieldReverseDNS:        "hostname",
	fieldOrganization:      "org",
	fieldVersion:           "version",
	fieldProtocol:          "protocol",
	fieldFMLNetworkVersion: "fmlnetworkversion",
	fieldMOTD:              "motd",
	fieldIcon:              "icon",
	fieldTimesSeen:         "timesseen",
	fieldPreventsReports:   "prevents_reports",
	fieldEnforceSecure:     "enforces_secure_chat",
	fieldWhitelist:         "whitelist",
	fieldCracked:           "cracked",
	fieldMaxPlayers:        "maxplayers",
	fieldOnlinePlayers:     "onlineplayers",
}

// apiAccessor reads external API members; absent and null are both unknown.
type apiAccessor struct {
	obj map[string]json.RawMessage
}

func (apiAccessor) source() Source      { return SourceAPI }
func (apiAccessor) name(f field) string { return apiNames[f] }

func (a apiAccessor) text(f field) (*string, error) {
	raw := a.obj[apiNames[f]]
	if isNull(raw) {
		return nil, nil
	}
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (a apiAccessor) number(f field) (*int64, error) {
	raw := a.obj[apiNames[f]]
	if isNull(raw) {
		return nil, nil
	}
	n, err := asInt(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (a apiAccessor) flag(f field) (*bool, error) {
	raw := a.obj[apiNames[f]]
	if isNull(raw) {
		return nil, nil
	}
	b, err := asBool(raw)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FromAPI rebuilds a server from an external API object.
func FromAPI(raw []byte) (*models.Server, error) {
	if isNull(raw) {
		return nil, malformed(SourceAPI, "$", ErrMissing)
	}

	obj, err := asObject(raw)
	if err != nil {
		return nil, malformed(SourceAPI, "$", err)
	}

	s, err := assemble(apiAccessor{obj: obj})
	if err != nil {
		return nil, err
	}

	if !isNull(obj["players"]) {
		if err := json.Unmarshal(obj["players"], &s.Players); err != nil {
			return nil, malformed(SourceAPI, "players", err)
		}
	}
	if !isNull(obj["mods"]) {
		if err := json.Unmarshal(obj["mods"], &s.Mods); err != nil {
			return nil, malformed(SourceAPI, "mods", err)
		}
	}

	return s, nil
}
