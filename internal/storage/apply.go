package storage

import (
	"context"
	"database/sql"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/woozymasta/seeker/internal/models"
)

const lockStripes = 256

// keyLocks serializes writers of the same (address, port) key inside this process.
// Distinct keys hash to independent stripes most of the time.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{}
}

func (l *keyLocks) lock(address string, port int) func() {
	h := xxhash.New()
	_, _ = h.WriteString(address)
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(strconv.Itoa(port))

	mu := &l.stripes[h.Sum64()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

const upsertServer = `
	INSERT INTO servers (
		address, port, type, first_seen, last_seen,
		country, asn, reverse_dns, organization,
		version, protocol, fml_network_version, motd, icon, times_seen,
		prevents_reports, enforce_secure, whitelist, cracked,
		max_players, online_players
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (address, port) DO UPDATE SET
		times_seen = servers.times_seen + 1,

		-- Keep last_seen monotonic when observations arrive out of order
		last_seen = CASE WHEN excluded.last_seen > servers.last_seen THEN excluded.last_seen ELSE servers.last_seen END,

		-- Everything else reflects the latest observation, unknown included
		type                = excluded.type,
		country             = excluded.country,
		asn                 = excluded.asn,
		reverse_dns         = excluded.reverse_dns,
		organization        = excluded.organization,
		version             = excluded.version,
		protocol            = excluded.protocol,
		fml_network_version = excluded.fml_network_version,
		motd                = excluded.motd,
		icon                = excluded.icon,
		prevents_reports    = excluded.prevents_reports,
		enforce_secure      = excluded.enforce_secure,
		whitelist           = excluded.whitelist,
		cracked             = excluded.cracked,
		max_players         = excluded.max_players,
		online_players      = excluded.online_players
`

const upsertPlayer = `
	INSERT INTO players (address, port, uuid, name, first_seen, last_seen)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (address, port, uuid) DO UPDATE SET
		name      = excluded.name,
		last_seen = CASE WHEN excluded.last_seen > players.last_seen THEN excluded.last_seen ELSE players.last_seen END
`

const insertMod = `
	INSERT INTO mods (address, port, mod_id, mod_marker)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (address, port, mod_id) DO NOTHING
`

// Apply merges one observed server into storage. The server row, its players and
// its mods are written in a single transaction: either all of them land or none.
// A new server starts with a counter of 1; an existing one gets its counter
// incremented while first_seen is preserved.
func (r *Repository) Apply(ctx context.Context, s *models.Server) (err error) {
	unlock := r.locks.lock(s.Address, s.Port)
	defer unlock()

	fail := func(table, op string, cause error) error {
		return &Error{Address: s.Address, Port: s.Port, Table: table, Op: op, Err: cause}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("servers", "begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, r.dialect.rebind(upsertServer),
		s.Address, s.Port, nullString(string(s.Type)), s.FirstSeen, s.LastSeen,
		s.Country, s.ASN, s.ReverseDNS, s.Organization,
		s.Version, s.Protocol, s.FMLNetworkVersion, s.MOTD, s.Icon,
		s.PreventsReports, s.EnforceSecure, s.Whitelist, s.Cracked,
		s.MaxPlayers, s.OnlinePlayers,
	); err != nil {
		return fail("servers", "upsert", err)
	}

	if len(s.Players) > 0 {
		if err = r.execEach(ctx, tx, upsertPlayer, len(s.Players), func(i int) []any {
			p := s.Players[i]
			return []any{s.Address, s.Port, p.UUID, p.Name, p.FirstSeen, p.LastSeen}
		}); err != nil {
			return fail("players", "upsert", err)
		}
	}

	if len(s.Mods) > 0 {
		if err = r.execEach(ctx, tx, insertMod, len(s.Mods), func(i int) []any {
			m := s.Mods[i]
			return []any{s.Address, s.Port, m.ID, m.Marker}
		}); err != nil {
			return fail("mods", "insert", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fail("servers", "commit", err)
	}

	return nil
}

// execEach prepares query once on tx and runs it n times with args(i).
func (r *Repository) execEach(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) error {
	stmt, err := tx.PrepareContext(ctx, r.dialect.rebind(query))
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
