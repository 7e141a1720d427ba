// Package maintenance provides one-shot tasks run instead of the HTTP server:
// exporting stored servers, importing recorded observations and pruning stale servers.
package maintenance

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/seeker/internal/config"
	"github.com/woozymasta/seeker/internal/entity"
	"github.com/woozymasta/seeker/internal/ingest"
	"github.com/woozymasta/seeker/internal/models"
)

// maxLineSize bounds one JSON line; status responses with favicons are large.
const maxLineSize = 4 << 20

// Store is the storage surface used by maintenance tasks.
type Store interface {
	ListServers(ctx context.Context, limit int) ([]*models.Server, error)
	Prune(ctx context.Context, before int64) (int64, error)
}

// Processor merges a single observation synchronously.
type Processor interface {
	Process(ctx context.Context, obs ingest.Observation) (*models.Server, error)
}

// Run checks if any maintenance flags are set and executes the corresponding tasks.
// Returns true if a maintenance task was executed (indicating the program should exit).
func Run(ctx context.Context, cfg *config.Config, store Store, proc Processor) bool {
	ran := false

	if cfg.Storage.Import != "" {
		ran = true
		if err := withInput(cfg.Storage.Import, func(r io.Reader) error {
			res, err := Import(ctx, proc, r, cfg.Ingest.Workers)
			log.Info().
				Int64("read", res.Read).
				Int64("stored", res.Stored).
				Int64("malformed", res.Malformed).
				Int64("failed", res.Failed).
				Msg("Import finished")
			return err
		}); err != nil {
			log.Error().Err(err).Str("path", cfg.Storage.Import).Msg("Import failed")
		}
	}

	if cfg.Storage.Prune > 0 {
		ran = true
		before := time.Now().Add(-cfg.Storage.Prune)
		log.Info().Time("before", before).Msg("Pruning stale servers...")

		count, err := store.Prune(ctx, before.Unix())
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune servers")
		} else {
			log.Info().Int64("deleted", count).Msg("Prune finished")
		}
	}

	if cfg.Storage.Export != "" {
		ran = true
		if err := withOutput(cfg.Storage.Export, func(w io.Writer) error {
			n, err := Export(ctx, store, w)
			log.Info().Int("servers", n).Msg("Export finished")
			return err
		}); err != nil {
			log.Error().Err(err).Str("path", cfg.Storage.Export).Msg("Export failed")
		}
	}

	return ran
}

// Export writes every stored server as one JSON object per line in the external API shape.
func Export(ctx context.Context, store Store, w io.Writer) (int, error) {
	servers, err := store.ListServers(ctx, 0)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, s := range servers {
		if err := enc.Encode(entity.ToAPI(s)); err != nil {
			return i, err
		}
	}

	return len(servers), bw.Flush()
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Read      int64
	Stored    int64
	Malformed int64
	Failed    int64
}

// Import reads observations, one JSON object per line, and merges them with a
// pool of workers. Bad lines are counted and skipped; a read error stops the import.
func Import(ctx context.Context, proc Processor, r io.Reader, workers int) (ImportResult, error) {
	if workers < 1 {
		workers = 1
	}

	var (
		res  ImportResult
		read atomic.Int64
		ok   atomic.Int64
		bad  atomic.Int64
		fail atomic.Int64
		wg   sync.WaitGroup
		jobs = make(chan ingest.Observation, workers*2)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for obs := range jobs {
				_, err := proc.Process(ctx, obs)
				var me *entity.MalformedError
				switch {
				case err == nil:
					ok.Add(1)
				case errors.As(err, &me):
					bad.Add(1)
					log.Debug().Err(err).Str("server", obs.Key()).Msg("Malformed observation skipped")
				default:
					fail.Add(1)
					log.Error().Err(err).Str("server", obs.Key()).Msg("Failed to store observation")
				}
			}
		}()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		read.Add(1)

		var obs ingest.Observation
		if err := json.Unmarshal(text, &obs); err != nil {
			bad.Add(1)
			log.Debug().Err(err).Int("line", line).Msg("Invalid observation line")
			continue
		}
		if err := obs.Validate(); err != nil {
			bad.Add(1)
			log.Debug().Err(err).Int("line", line).Msg("Invalid observation line")
			continue
		}

		select {
		case jobs <- obs:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	res.Read, res.Stored, res.Malformed, res.Failed = read.Load(), ok.Load(), bad.Load(), fail.Load()

	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read line %d: %w", line+1, err)
	}
	return res, ctx.Err()
}

func withInput(path string, fn func(io.Reader) error) error {
	if path == "-" {
		return fn(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return fn(f)
}

func withOutput(path string, fn func(io.Writer) error) error {
	if path == "-" {
		return fn(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}
