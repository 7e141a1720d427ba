// Package models defines the canonical observed-server entity shared by ingestion, storage and export.
package models

// ServerType is the classified server software variant.
type ServerType string

// Known server variants. Bedrock, Legacy and Thermos are never produced by the
// classifier but are valid stored values written by other probe paths.
const (
	TypeJava       ServerType = "JAVA"
	TypeBedrock    ServerType = "BEDROCK"
	TypeNeoForge   ServerType = "NEOFORGE"
	TypeLexForge   ServerType = "LEXFORGE"
	TypePaper      ServerType = "PAPER"
	TypeSpigot     ServerType = "SPIGOT"
	TypePurpur     ServerType = "PURPUR"
	TypePufferfish ServerType = "PUFFERFISH"
	TypeFolia      ServerType = "FOLIA"
	TypeVelocity   ServerType = "VELOCITY"
	TypeLeaves     ServerType = "LEAVES"
	TypeWaterfall  ServerType = "WATERFALL"
	TypeBungeeCord ServerType = "BUNGEECORD"
	TypeBukkit     ServerType = "BUKKIT"
	TypeThermos    ServerType = "THERMOS"
	TypeLegacy     ServerType = "LEGACY"
)

var knownTypes = map[ServerType]struct{}{
	TypeJava: {}, TypeBedrock: {}, TypeNeoForge: {}, TypeLexForge: {},
	TypePaper: {}, TypeSpigot: {}, TypePurpur: {}, TypePufferfish: {},
	TypeFolia: {}, TypeVelocity: {}, TypeLeaves: {}, TypeWaterfall: {},
	TypeBungeeCord: {}, TypeBukkit: {}, TypeThermos: {}, TypeLegacy: {},
}

// Valid reports whether t is one of the known variants.
func (t ServerType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Version is the result of a single classification call.
type Version struct {
	Name     string     `json:"name"`
	Type     ServerType `json:"type"`
	Protocol int        `json:"protocol"`
}

// Player is a player sighting on a server, keyed by UUID.
type Player struct {
	Name      string `json:"name"`
	UUID      string `json:"uuid"`
	FirstSeen int64  `json:"first_seen"`
	LastSeen  int64  `json:"last_seen"`
}

// Mod is a Forge mod entry; the marker is an opaque version/signature token.
type Mod struct {
	ID     string `json:"mod_id"`
	Marker string `json:"mod_marker"`
}

// Server is one observed server identified by Address and Port.
// Nil pointer fields mean "unknown", never false or zero.
type Server struct {
	Country           *string    `json:"country"`
	ASN               *string    `json:"asn"`
	ReverseDNS        *string    `json:"reverse_dns"`
	Organization      *string    `json:"organization"`
	Version           *string    `json:"version"`
	Icon              *string    `json:"icon"`
	Protocol          *int       `json:"protocol"`
	FMLNetworkVersion *int       `json:"fml_network_version"`
	MaxPlayers        *int       `json:"max_players"`
	OnlinePlayers     *int       `json:"online_players"`
	PreventsReports   *bool      `json:"prevents_reports"`
	EnforceSecure     *bool      `json:"enforce_secure"`
	Whitelist         *bool      `json:"whitelist"`
	Cracked           *bool      `json:"cracked"`
	Address           string     `json:"address"`
	Type              ServerType `json:"type"`
	MOTD              string     `json:"motd"`
	Players           []Player   `json:"players,omitempty"`
	Mods              []Mod      `json:"mods,omitempty"`
	FirstSeen         int64      `json:"first_seen"`
	LastSeen          int64      `json:"last_seen"`
	Port              int        `json:"port"`
	TimesSeen         int        `json:"times_seen"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
