package entity

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/woozymasta/seeker/internal/models"
)

// Row is one record of the joined server/player/mod projection. Player and mod
// columns are null when the server has no such child rows.
type Row struct {
	Address           sql.NullString
	Type              sql.NullString
	Country           sql.NullString
	ASN               sql.NullString
	ReverseDNS        sql.NullString
	Organization      sql.NullString
	Version           sql.NullString
	MOTD              sql.NullString
	Icon              sql.NullString
	PlayerUUID        sql.NullString
	PlayerName        sql.NullString
	ModID             sql.NullString
	ModMarker         sql.NullString
	Port              sql.NullInt64
	FirstSeen         sql.NullInt64
	LastSeen          sql.NullInt64
	Protocol          sql.NullInt64
	FMLNetworkVersion sql.NullInt64
	TimesSeen         sql.NullInt64
	MaxPlayers        sql.NullInt64
	OnlinePlayers     sql.NullInt64
	PlayerFirstSeen   sql.NullInt64
	PlayerLastSeen    sql.NullInt64
	PreventsReports   sql.NullBool
	EnforceSecure     sql.NullBool
	Whitelist         sql.NullBool
	Cracked           sql.NullBool
}

// RowColumns lists the projection columns in the order Dest expects them.
var RowColumns = []string{
	"address", "port", "type", "first_seen", "last_seen",
	"country", "asn", "reverse_dns", "organization",
	"version", "protocol", "fml_network_version", "motd", "icon", "times_seen",
	"prevents_reports", "enforce_secure", "whitelist", "cracked",
	"max_players", "online_players",
	"player_uuid", "player_name", "player_first_seen", "player_last_seen",
	"mod_id", "mod_marker",
}

// Dest returns scan destinations matching RowColumns.
func (r *Row) Dest() []any {
	return []any{
		&r.Address, &r.Port, &r.Type, &r.FirstSeen, &r.LastSeen,
		&r.Country, &r.ASN, &r.ReverseDNS, &r.Organization,
		&r.Version, &r.Protocol, &r.FMLNetworkVersion, &r.MOTD, &r.Icon, &r.TimesSeen,
		&r.PreventsReports, &r.EnforceSecure, &r.Whitelist, &r.Cracked,
		&r.MaxPlayers, &r.OnlinePlayers,
		&r.PlayerUUID, &r.PlayerName, &r.PlayerFirstSeen, &r.PlayerLastSeen,
		&r.ModID, &r.ModMarker,
	}
}

var rowNames = map[field]string{
	fieldAddress:           "address",
	fieldPort:              "port",
	fieldType:              "type",
	fieldFirstSeen:         "first_seen",
	fieldLastSeen:          "last_seen",
	fieldCountry:           "country",
	fieldASN:               "asn",
	fieldReverseDNS:        "reverse_dns",
	fieldOrganization:      "organization",
	fieldVersion:           "version",
	fieldProtocol:          "protocol",
	fieldFMLNetworkVersion: "fml_network_version",
	fieldMOTD:              "motd",
	fieldIcon:              "icon",
	fieldTimesSeen:         "times_seen",
	fieldPreventsReports:   "prevents_reports",
	fieldEnforceSecure:     "enforce_secure",
	fieldWhitelist:         "whitelist",
	fieldCracked:           "cracked",
	fieldMaxPlayers:        "max_players",
	fieldOnlinePlayers:     "online_players",
}

type rowAccessor struct {
	r *Row
}

func (rowAccessor) source() Source      { return SourceRow }
func (rowAccessor) name(f field) string { return rowNames[f] }

func (a rowAccessor) text(f field) (*string, error) {
	var v sql.NullString
	switch f {
	case fieldAddress:
		v = a.r.Address
	case fieldType:
		v = a.r.Type
	case fieldCountry:
		v = a.r.Country
	case fieldASN:
		v = a.r.ASN
	case fieldReverseDNS:
		v = a.r.ReverseDNS
	case fieldOrganization:
		v = a.r.Organization
	case fieldVersion:
		v = a.r.Version
	case fieldMOTD:
		v = a.r.MOTD
	case fieldIcon:
		v = a.r.Icon
	default:
		return nil, fmt.Errorf("column %s is not text", rowNames[f])
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.String, nil
}

func (a rowAccessor) number(f field) (*int64, error) {
	var v sql.NullInt64
	switch f {
	case fieldPort:
		v = a.r.Port
	case fieldFirstSeen:
		v = a.r.FirstSeen
	case fieldLastSeen:
		v = a.r.LastSeen
	case fieldProtocol:
		v = a.r.Protocol
	case fieldFMLNetworkVersion:
		v = a.r.FMLNetworkVersion
	case fieldTimesSeen:
		v = a.r.TimesSeen
	case fieldMaxPlayers:
		v = a.r.MaxPlayers
	case fieldOnlinePlayers:
		v = a.r.OnlinePlayers
	default:
		return nil, fmt.Errorf("column %s is not numeric", rowNames[f])
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Int64, nil
}

func (a rowAccessor) flag(f field) (*bool, error) {
	var v sql.NullBool
	switch f {
	case fieldPreventsReports:
		v = a.r.PreventsReports
	case fieldEnforceSecure:
		v = a.r.EnforceSecure
	case fieldWhitelist:
		v = a.r.Whitelist
	case fieldCracked:
		v = a.r.Cracked
	default:
		return nil, fmt.Errorf("column %s is not boolean", rowNames[f])
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Bool, nil
}

// FromRows rebuilds one server from its joined projection. Scalar columns are
// taken from the first row; the join repeats players and mods, so they are
// coalesced by key keeping first-occurrence order.
func FromRows(rows []Row) (*models.Server, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	s, err := assemble(rowAccessor{r: &rows[0]})
	if err != nil {
		return nil, err
	}

	players := make(map[string]struct{})
	mods := make(map[models.Mod]struct{})
	for i := range rows {
		r := &rows[i]
		if r.Address.String != s.Address || int(r.Port.Int64) != s.Port {
			return nil, malformed(SourceRow, "address", errors.New("projection spans more than one server"))
		}

		if r.PlayerUUID.Valid && r.PlayerName.Valid {
			if _, ok := players[r.PlayerUUID.String]; !ok {
				players[r.PlayerUUID.String] = struct{}{}
				s.Players = append(s.Players, models.Player{
					Name:      r.PlayerName.String,
					UUID:      r.PlayerUUID.String,
					FirstSeen: r.PlayerFirstSeen.Int64,
					LastSeen:  r.PlayerLastSeen.Int64,
				})
			}
		}

		if r.ModID.Valid && r.ModMarker.Valid {
			m := models.Mod{ID: r.ModID.String, Marker: r.ModMarker.String}
			if _, ok := mods[m]; !ok {
				mods[m] = struct{}{}
				s.Mods = append(s.Mods, m)
			}
		}
	}

	return s, nil
}
