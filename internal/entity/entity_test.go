package entity

import (
	"database/sql"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/woozymasta/seeker/internal/enrich"
	"github.com/woozymasta/seeker/internal/models"
)

var testNow = time.Unix(1700000000, 0)

func strPtr(s string) *string { return &s }

func TestFromProbe_Paper(t *testing.T) {
	raw := `{"version":{"name":"Paper 1.20.1","protocol":763},"description":{"text":"A server"},"players":{"max":20,"online":3}}`

	s, err := FromProbe("1.2.3.4", 25565, []byte(raw), nil, testNow)
	if err != nil {
		t.Fatalf("FromProbe() error = %v", err)
	}

	if s.Type != models.TypePaper {
		t.Errorf("Type = %s, want PAPER", s.Type)
	}
	if s.MOTD != "A server" {
		t.Errorf("MOTD = %q, want %q", s.MOTD, "A server")
	}
	if s.Version == nil || *s.Version != "Paper 1.20.1" {
		t.Errorf("Version = %v, want Paper 1.20.1", s.Version)
	}
	if s.Protocol == nil || *s.Protocol != 763 {
		t.Errorf("Protocol = %v, want 763", s.Protocol)
	}
	if s.MaxPlayers == nil || *s.MaxPlayers != 20 || s.OnlinePlayers == nil || *s.OnlinePlayers != 3 {
		t.Errorf("players = %v/%v, want 3/20", s.OnlinePlayers, s.MaxPlayers)
	}
	if s.Country != nil || s.ASN != nil || s.ReverseDNS != nil || s.Organization != nil {
		t.Error("Expected enrichment fields to be unknown")
	}
	if s.TimesSeen != 1 {
		t.Errorf("TimesSeen = %d, want 1", s.TimesSeen)
	}
	if s.FirstSeen != testNow.Unix() || s.LastSeen != testNow.Unix() {
		t.Errorf("seen = %d..%d, want %d", s.FirstSeen, s.LastSeen, testNow.Unix())
	}
	if s.Whitelist != nil || s.Cracked != nil {
		t.Error("Expected whitelist and cracked to be unknown")
	}
}

func TestFromProbe_Forge(t *testing.T) {
	raw := `{
		"version":{"name":"1.12.2","protocol":340},
		"description":"Modded",
		"players":{"max":10,"online":0},
		"forgeData":{"fmlNetworkVersion":2,"mods":[
			{"modId":"minecraft","modmarker":"1.12.2"},
			{"modId":"forge","modmarker":"14.23.5.2859"},
			{"modId":"jei","modmarker":"4.16.1"}
		]}
	}`

	s, err := FromProbe("10.0.0.1", 25565, []byte(raw), nil, testNow)
	if err != nil {
		t.Fatalf("FromProbe() error = %v", err)
	}

	if s.Type != models.TypeLexForge {
		t.Errorf("Type = %s, want LEXFORGE", s.Type)
	}
	if len(s.Mods) != 3 {
		t.Fatalf("len(Mods) = %d, want 3", len(s.Mods))
	}
	if s.Mods[2] != (models.Mod{ID: "jei", Marker: "4.16.1"}) {
		t.Errorf("Mods[2] = %+v", s.Mods[2])
	}
	if s.FMLNetworkVersion == nil || *s.FMLNetworkVersion != 2 {
		t.Errorf("FMLNetworkVersion = %v, want 2", s.FMLNetworkVersion)
	}
}

func TestFromProbe_ModdedWinsOverForge(t *testing.T) {
	raw := `{"version":{"name":"1.20.4","protocol":765},"isModded":true,"forgeData":{"fmlNetworkVersion":3,"mods":[]}}`

	s, err := FromProbe("10.0.0.2", 25565, []byte(raw), nil, testNow)
	if err != nil {
		t.Fatalf("FromProbe() error = %v", err)
	}
	if s.Type != models.TypeNeoForge {
		t.Errorf("Type = %s, want NEOFORGE", s.Type)
	}
	if len(s.Mods) != 0 {
		t.Errorf("len(Mods) = %d, want 0", len(s.Mods))
	}
}

func TestFromProbe_NoVersion(t *testing.T) {
	s, err := FromProbe("10.0.0.3", 25565, []byte(`{"description":""}`), nil, testNow)
	if err != nil {
		t.Fatalf("FromProbe() error = %v", err)
	}
	if s.Version != nil || s.Protocol != nil {
		t.Error("Expected unknown version and protocol")
	}
	if s.Type != "" {
		t.Errorf("Type = %s, want unknown", s.Type)
	}

	// Modded signals alone do not classify a server
	s, err = FromProbe("10.0.0.3", 25565, []byte(`{"isModded":true,"forgeData":{"fmlNetworkVersion":3}}`), nil, testNow)
	if err != nil {
		t.Fatalf("FromProbe() error = %v", err)
	}
	if s.Type != "" || s.FMLNetworkVersion == nil {
		t.Errorf("Type = %q, FMLNetworkVersion = %v; want unknown type and 3", s.Type, s.FMLNetworkVersion)
	}
}

func TestFromProbe_OptionalScalars(t *testing.T) {
	raw := `{"favicon":null,"preventsChatReports":false,"enforcesSecureChat":true}`

	s, err := FromProbe("10.0.0.4", 25565, []byte(raw), nil, testNow)
	if err != nil {
		t.Fatalf("FromProbe() error = %v", err)
	}
	if s.Icon != nil {
		t.Errorf("Icon = %q, want unknown", *s.Icon)
	}
	if s.PreventsReports == nil || *s.PreventsReports {
		t.Errorf("PreventsReports = %v, want false", s.PreventsReports)
	}
	if s.EnforceSecure == nil || !*s.EnforceSecure {
		t.Errorf("EnforceSecure = %v, want true", s.EnforceSecure)
	}
	if s.MOTD != "" {
		t.Errorf("MOTD = %q, want empty", s.MOTD)
	}
}

func TestFromProbe_PlayerSample(t *testing.T) {
	raw := `{"players":{"max":5,"online":4,"sample":[
		{"name":"Notch","id":"069A79F4-44E9-4726-A5BE-FCA90E38AAF5"},
		{"name":"NoID"},
		"junk",
		{"name":"Legacy","id":"not-a-uuid"},
		{"name":"Again","id":"069a79f444e94726a5befca90e38aaf5"}
	]}}`

	s, err := FromProbe("10.0.0.5", 25565, []byte(raw), nil, testNow)
	if err != nil {
		t.Fatalf("FromProbe() error = %v", err)
	}

	want := []models.Player{
		{Name: "Notch", UUID: "069a79f4-44e9-4726-a5be-fca90e38aaf5", FirstSeen: testNow.Unix(), LastSeen: testNow.Unix()},
		{Name: "Legacy", UUID: "not-a-uuid", FirstSeen: testNow.Unix(), LastSeen: testNow.Unix()},
	}
	if !reflect.DeepEqual(s.Players, want) {
		t.Errorf("Players = %+v, want %+v", s.Players, want)
	}
}

func TestFromProbe_Enrichment(t *testing.T) {
	extra := &enrich.Result{
		Country: strPtr("DE"),
		ASN:     strPtr("AS24940 Hetzner Online GmbH"),
		Reverse: strPtr("  "),
		Org:     strPtr("Hetzner"),
	}

	s, err := FromProbe("10.0.0.6", 25565, []byte(`{}`), extra, testNow)
	if err != nil {
		t.Fatalf("FromProbe() error = %v", err)
	}
	if s.Country == nil || *s.Country != "DE" {
		t.Errorf("Country = %v, want DE", s.Country)
	}
	if s.ReverseDNS != nil {
		t.Errorf("ReverseDNS = %q, want unknown", *s.ReverseDNS)
	}
	if s.Organization == nil || *s.Organization != "Hetzner" {
		t.Errorf("Organization = %v, want Hetzner", s.Organization)
	}
}

func TestFromProbe_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		address string
		port    int
		raw     string
		field   string
		missing bool
	}{
		{"null payload", "1.1.1.1", 25565, `null`, "$", true},
		{"not json", "1.1.1.1", 25565, `{`, "$", false},
		{"missing protocol", "1.1.1.1", 25565, `{"version":{"name":"1.20.1"}}`, "version.protocol", true},
		{"version not object", "1.1.1.1", 25565, `{"version":"1.20.1"}`, "version", false},
		{"missing max players", "1.1.1.1", 25565, `{"players":{"online":1}}`, "players.max", true},
		{"missing fml version", "1.1.1.1", 25565, `{"forgeData":{"mods":[]}}`, "forgeData.fmlNetworkVersion", true},
		{"missing mod marker", "1.1.1.1", 25565, `{"forgeData":{"fmlNetworkVersion":2,"mods":[{"modId":"a","modmarker":"1"},{"modId":"b"}]}}`, "forgeData.mods[1].modmarker", true},
		{"bad description", "1.1.1.1", 25565, `{"description":{"text":[1]}}`, "description", false},
		{"bad favicon", "1.1.1.1", 25565, `{"favicon":{}}`, "favicon", false},
		{"empty address", " ", 25565, `{}`, "address", true},
		{"port out of range", "1.1.1.1", 70000, `{}`, "port", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := FromProbe(tt.address, tt.port, []byte(tt.raw), nil, testNow)
			if err == nil {
				t.Fatalf("FromProbe() = %+v, want error", s)
			}
			if s != nil {
				t.Error("Expected no partial entity on error")
			}

			var me *MalformedError
			if !errors.As(err, &me) {
				t.Fatalf("error %T is not *MalformedError", err)
			}
			if me.Source != SourceProbe || me.Field != tt.field {
				t.Errorf("error at %s/%q, want probe/%q", me.Source, me.Field, tt.field)
			}
			if got := errors.Is(err, ErrMissing); got != tt.missing {
				t.Errorf("errors.Is(ErrMissing) = %v, want %v", got, tt.missing)
			}
		})
	}
}

func baseRow() Row {
	return Row{
		Address:   sql.NullString{String: "1.2.3.4", Valid: true},
		Port:      sql.NullInt64{Int64: 25565, Valid: true},
		Type:      sql.NullString{String: "PAPER", Valid: true},
		FirstSeen: sql.NullInt64{Int64: 100, Valid: true},
		LastSeen:  sql.NullInt64{Int64: 200, Valid: true},
		MOTD:      sql.NullString{String: "hi", Valid: true},
		TimesSeen: sql.NullInt64{Int64: 7, Valid: true},
		Cracked:   sql.NullBool{Bool: false, Valid: true},
	}
}

func TestFromRows(t *testing.T) {
	var rows []Row
	for _, p := range []string{"p1", "p2"} {
		for _, m := range []string{"m1", "m2"} {
			r := baseRow()
			r.PlayerUUID = sql.NullString{String: p, Valid: true}
			r.PlayerName = sql.NullString{String: "name-" + p, Valid: true}
			r.PlayerFirstSeen = sql.NullInt64{Int64: 150, Valid: true}
			r.PlayerLastSeen = sql.NullInt64{Int64: 180, Valid: true}
			r.ModID = sql.NullString{String: m, Valid: true}
			r.ModMarker = sql.NullString{String: "1.0", Valid: true}
			rows = append(rows, r)
		}
	}

	s, err := FromRows(rows)
	if err != nil {
		t.Fatalf("FromRows() error = %v", err)
	}

	if s.Type != models.TypePaper || s.TimesSeen != 7 || s.FirstSeen != 100 || s.LastSeen != 200 {
		t.Errorf("scalars = %+v", s)
	}
	if len(s.Players) != 2 || len(s.Mods) != 2 {
		t.Fatalf("got %d players and %d mods, want 2 and 2", len(s.Players), len(s.Mods))
	}
	if s.Players[1] != (models.Player{Name: "name-p2", UUID: "p2", FirstSeen: 150, LastSeen: 180}) {
		t.Errorf("Players[1] = %+v", s.Players[1])
	}
	if s.Whitelist != nil {
		t.Error("Expected NULL whitelist to stay unknown")
	}
	if s.Cracked == nil || *s.Cracked {
		t.Errorf("Cracked = %v, want false", s.Cracked)
	}
	if s.Country != nil || s.Protocol != nil {
		t.Error("Expected NULL columns to stay unknown")
	}
}

func TestFromRows_Errors(t *testing.T) {
	if _, err := FromRows(nil); !errors.Is(err, ErrNoRows) {
		t.Errorf("FromRows(nil) error = %v, want ErrNoRows", err)
	}

	bad := baseRow()
	bad.Type = sql.NullString{String: "MYSTERY", Valid: true}
	_, err := FromRows([]Row{bad})
	var me *MalformedError
	if !errors.As(err, &me) || me.Field != "type" || me.Source != SourceRow {
		t.Errorf("FromRows(unknown type) error = %v", err)
	}

	other := baseRow()
	other.Port = sql.NullInt64{Int64: 25566, Valid: true}
	if _, err := FromRows([]Row{baseRow(), other}); err == nil {
		t.Error("Expected error for rows of different servers")
	}
}

func TestRowDest(t *testing.T) {
	var r Row
	if got := len(r.Dest()); got != len(RowColumns) {
		t.Errorf("len(Dest()) = %d, want %d", got, len(RowColumns))
	}
}

func TestFromAPI_NullGuards(t *testing.T) {
	raw := `{"address":"5.6.7.8","port":"25565","motd":null,"version":null,"firstseen":null,
		"lastseen":1700000000,"protocol":null,"country":"","asn":null,"hostname":null,"org":null,
		"whitelist":null,"enforces_secure_chat":false,"cracked":true,"prevents_reports":null,"maxplayers":100}`

	s, err := FromAPI([]byte(raw))
	if err != nil {
		t.Fatalf("FromAPI() error = %v", err)
	}

	if s.Port != 25565 || s.MOTD != "" || s.FirstSeen != 0 || s.LastSeen != 1700000000 {
		t.Errorf("scalars = %+v", s)
	}
	if s.Version != nil || s.Protocol != nil || s.Whitelist != nil || s.PreventsReports != nil {
		t.Error("Expected null members to be unknown")
	}
	if s.Country == nil || *s.Country != "" {
		t.Errorf("Country = %v, want empty string", s.Country)
	}
	if s.EnforceSecure == nil || *s.EnforceSecure {
		t.Errorf("EnforceSecure = %v, want false", s.EnforceSecure)
	}
	if s.Cracked == nil || !*s.Cracked {
		t.Errorf("Cracked = %v, want true", s.Cracked)
	}
	if s.MaxPlayers == nil || *s.MaxPlayers != 100 {
		t.Errorf("MaxPlayers = %v, want 100", s.MaxPlayers)
	}
}

func TestFromAPI_Errors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"null", `null`, "$"},
		{"array", `[]`, "$"},
		{"missing address", `{"port":1}`, "address"},
		{"null port", `{"address":"a","port":null}`, "port"},
		{"bad flag", `{"address":"a","port":1,"cracked":"maybe"}`, "cracked"},
		{"bad number", `{"address":"a","port":1,"maxplayers":1.5}`, "maxplayers"},
		{"bad players", `{"address":"a","port":1,"players":{}}`, "players"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromAPI([]byte(tt.raw))
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Fatalf("FromAPI() error = %v, want *MalformedError", err)
			}
			if me.Source != SourceAPI || me.Field != tt.field {
				t.Errorf("error at %s/%q, want api/%q", me.Source, me.Field, tt.field)
			}
		})
	}
}

func TestAPIRoundTrip(t *testing.T) {
	raw := `{"version":{"name":"Purpur 1.21","protocol":767},"description":{"text":"hi","color":"gold"},
		"players":{"max":50,"online":1,"sample":[{"name":"Steve","id":"8667ba71-b85a-4004-af54-457a9734eed7"}]},
		"favicon":"data:image/png;base64,AAAA","enforcesSecureChat":true,
		"forgeData":{"fmlNetworkVersion":3,"mods":[{"modId":"create","modmarker":"0.5.1"}]}}`

	extra := &enrich.Result{Country: strPtr("US"), ASN: strPtr("AS15169 Google LLC")}
	want, err := FromProbe("8.8.8.8", 25565, []byte(raw), extra, testNow)
	if err != nil {
		t.Fatalf("FromProbe() error = %v", err)
	}
	want.Whitelist = models.Ptr(true)

	data, err := json.Marshal(ToAPI(want))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got, err := FromAPI(data)
	if err != nil {
		t.Fatalf("FromAPI(%s) error = %v", data, err)
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
	}
}
