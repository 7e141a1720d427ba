package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/seeker/internal/entity"
	"github.com/woozymasta/seeker/internal/models"
)

// projection is the joined server/player/mod select list, ordered like entity.RowColumns.
const projection = `
	SELECT s.address, s.port, s.type, s.first_seen, s.last_seen,
	       s.country, s.asn, s.reverse_dns, s.organization,
	       s.version, s.protocol, s.fml_network_version, s.motd, s.icon, s.times_seen,
	       s.prevents_reports, s.enforce_secure, s.whitelist, s.cracked,
	       s.max_players, s.online_players,
	       p.uuid, p.name, p.first_seen, p.last_seen,
	       m.mod_id, m.mod_marker
`

const joins = `
	LEFT JOIN players p ON p.address = s.address AND p.port = s.port
	LEFT JOIN mods m ON m.address = s.address AND m.port = s.port
`

// GetServer retrieves a server with its players and mods by its key.
// It returns nil without error when the server is not stored.
func (r *Repository) GetServer(ctx context.Context, address string, port int) (*models.Server, error) {
	query := projection + `FROM servers s` + joins + `
		WHERE s.address = ? AND s.port = ?
		ORDER BY p.first_seen, p.uuid, m.mod_id`

	servers, err := r.queryServers(ctx, false, query, address, port)
	if err != nil {
		return nil, &Error{Address: address, Port: port, Table: "servers", Op: "select", Err: err}
	}
	if len(servers) == 0 {
		return nil, nil // Not found
	}

	return servers[0], nil
}

// ListServers retrieves servers sorted by the last seen timestamp in descending order.
// A limit of zero or less returns every stored server.
func (r *Repository) ListServers(ctx context.Context, limit int) ([]*models.Server, error) {
	inner := `SELECT * FROM servers ORDER BY last_seen DESC, address, port`
	var args []any
	if limit > 0 {
		inner += ` LIMIT ?`
		args = append(args, limit)
	}

	query := projection + `FROM (` + inner + `) s` + joins + `
		ORDER BY s.last_seen DESC, s.address, s.port, p.first_seen, p.uuid, m.mod_id`

	servers, err := r.queryServers(ctx, true, query, args...)
	if err != nil {
		return nil, &Error{Table: "servers", Op: "list", Err: err}
	}

	return servers, nil
}

// queryServers runs a projection query and groups consecutive rows by server key.
// With skipMalformed a server whose stored row cannot be rebuilt is logged and left out.
func (r *Repository) queryServers(ctx context.Context, skipMalformed bool, query string, args ...any) ([]*models.Server, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var (
		servers []*models.Server
		group   []entity.Row
	)
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		defer func() { group = group[:0] }()

		s, err := entity.FromRows(group)
		var me *entity.MalformedError
		switch {
		case err == nil:
			servers = append(servers, s)
		case skipMalformed && errors.As(err, &me):
			log.Warn().Err(err).
				Str("address", group[0].Address.String).
				Int64("port", group[0].Port.Int64).
				Msg("Skipping unreadable stored server")
		default:
			return err
		}
		return nil
	}

	for rows.Next() {
		var row entity.Row
		if err := rows.Scan(row.Dest()...); err != nil {
			return nil, err
		}

		if n := len(group); n > 0 && !sameKey(&group[n-1], &row) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		group = append(group, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return servers, nil
}

func sameKey(a, b *entity.Row) bool {
	return a.Address.String == b.Address.String && a.Port.Int64 == b.Port.Int64
}

// Stats is an aggregate view of the stored data.
type Stats struct {
	ByType  map[string]int64 `json:"by_type"`
	Servers int64            `json:"servers"`
	Players int64            `json:"players"`
	Mods    int64            `json:"mods"`
}

// Stats counts stored servers, player sightings and mods, plus servers per type.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByType: make(map[string]int64)}

	counts := []struct {
		dst   *int64
		table string
	}{
		{&st.Servers, "servers"},
		{&st.Players, "players"},
		{&st.Mods, "mods"},
	}
	for _, c := range counts {
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, &Error{Table: c.table, Op: "count", Err: err}
		}
	}

	rows, err := r.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM servers GROUP BY type`)
	if err != nil {
		return nil, &Error{Table: "servers", Op: "stats", Err: err}
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			typ sql.NullString
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, &Error{Table: "servers", Op: "stats", Err: err}
		}
		key := typ.String
		if !typ.Valid || strings.TrimSpace(key) == "" {
			key = "UNKNOWN"
		}
		st.ByType[key] += n
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Table: "servers", Op: "stats", Err: err}
	}

	return st, nil
}

// Prune removes servers not seen since the given unix time. Players and mods
// go with them through the foreign key cascade.
func (r *Repository) Prune(ctx context.Context, before int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.rebind(`DELETE FROM servers WHERE last_seen < ?`), before)
	if err != nil {
		return 0, &Error{Table: "servers", Op: "prune", Err: err}
	}
	return res.RowsAffected()
}
