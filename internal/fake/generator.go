// Package fake provides utilities for generating random observations for testing and development purposes.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/seeker/internal/ingest"
	"github.com/woozymasta/seeker/internal/models"
)

// Processor merges a single observation synchronously.
type Processor interface {
	Process(ctx context.Context, obs ingest.Observation) (*models.Server, error)
}

var (
	brands   = []string{"", "", "", "Paper", "Paper", "Spigot", "Purpur", "Velocity", "BungeeCord", "Folia", "Leaves", "CraftBukkit"}
	releases = []string{"1.8.9", "1.12.2", "1.16.5", "1.19.4", "1.20.1", "1.20.4", "1.21", "1.21.1"}
	colors   = []string{"gold", "aqua", "green", "red", "white", "#ff8800"}
	names    = []string{"Steve", "Alex", "Notch", "jeb_", "Dinnerbone", "Grumm", "Herobrine", "Technoblade"}
	modIDs   = []string{"minecraft", "forge", "jei", "create", "journeymap", "waystones", "appliedenergistics2"}
)

// probe mirrors the status response shape closely enough for generation.
type probe struct {
	Version             map[string]any `json:"version"`
	Description         any            `json:"description"`
	Players             map[string]any `json:"players"`
	ForgeData           map[string]any `json:"forgeData,omitempty"`
	IsModded            *bool          `json:"isModded,omitempty"`
	PreventsChatReports *bool          `json:"preventsChatReports,omitempty"`
	EnforcesSecureChat  *bool          `json:"enforcesSecureChat,omitempty"`
}

// Observations builds count random observations. About a fifth of them revisit
// an address generated earlier so that merges are exercised.
func Observations(rng *rand.Rand, count int, now time.Time) []ingest.Observation {
	var (
		out     = make([]ingest.Observation, 0, count)
		history []string
	)

	for i := 0; i < count; i++ {
		var address string
		if len(history) > 0 && rng.Float32() < 0.2 {
			address = history[rng.Intn(len(history))]
		} else {
			address = fmt.Sprintf("%d.%d.%d.%d", rng.Intn(220)+1, rng.Intn(255), rng.Intn(255), rng.Intn(255))
			history = append(history, address)
		}

		// Random time in the last 30 days
		seen := now.Add(-time.Duration(rng.Intn(30*24*60)) * time.Minute)

		raw, err := json.Marshal(randomProbe(rng))
		if err != nil {
			continue
		}

		out = append(out, ingest.Observation{
			Address:  address,
			Port:     25565 + rng.Intn(3),
			Response: raw,
			SeenAt:   seen.Unix(),
		})
	}

	return out
}

func randomProbe(rng *rand.Rand) probe {
	release := releases[rng.Intn(len(releases))]
	name := release
	if brand := brands[rng.Intn(len(brands))]; brand != "" {
		name = brand + " " + release
	}

	maxPlayers := 20 + rng.Intn(200)
	online := rng.Intn(maxPlayers / 4)

	p := probe{
		Version: map[string]any{"name": name, "protocol": 47 + rng.Intn(720)},
		Description: map[string]any{
			"text":  "",
			"extra": []any{map[string]any{"text": fmt.Sprintf("Server #%d", rng.Intn(1000)), "color": colors[rng.Intn(len(colors))], "bold": rng.Intn(2) == 0}},
		},
		Players: map[string]any{"max": maxPlayers, "online": online},
	}

	if n := min(online, 5); n > 0 {
		sample := make([]map[string]any, 0, n)
		for j := 0; j < n; j++ {
			id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(names[rng.Intn(len(names))]))
			sample = append(sample, map[string]any{"name": names[rng.Intn(len(names))], "id": id.String()})
		}
		p.Players["sample"] = sample
	}

	if rng.Float32() < 0.5 {
		b := rng.Intn(2) == 0
		p.PreventsChatReports = &b
		e := rng.Intn(2) == 0
		p.EnforcesSecureChat = &e
	}

	// 15% modded servers
	if rng.Float32() < 0.15 {
		mods := make([]map[string]any, 0, len(modIDs))
		for _, id := range modIDs[:2+rng.Intn(len(modIDs)-1)] {
			mods = append(mods, map[string]any{"modId": id, "modmarker": fmt.Sprintf("%d.%d", rng.Intn(5), rng.Intn(20))})
		}
		p.ForgeData = map[string]any{"fmlNetworkVersion": 2 + rng.Intn(2), "mods": mods}

		if rng.Float32() < 0.3 {
			modded := true
			p.IsModded = &modded
		}
	}

	return p
}

// GenerateData pushes count random observations through proc, logging failures.
func GenerateData(ctx context.Context, proc Processor, count int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var stored int
	for _, obs := range Observations(rng, count, time.Now()) {
		if _, err := proc.Process(ctx, obs); err != nil {
			log.Warn().Err(err).Str("server", obs.Key()).Msg("Failed to generate fake server")
			continue
		}
		stored++
	}

	log.Info().Int("requested", count).Int("stored", stored).Msg("Fake data generated")
}
