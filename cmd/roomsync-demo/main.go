// Command roomsync-demo runs a self-contained booking walkthrough: it
// wires a durable local store and a remote document store into the
// booking system, makes a few reservations (including a deliberate
// conflict), and prints what the consistency layer did with them.
//
// By default the remote tier is an in-process memory store so the demo
// works offline; point -remote at a document service to exercise the
// HTTP adapter instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roomsync/roomsync"
	"github.com/roomsync/roomsync/booking"
	"github.com/roomsync/roomsync/logging"
	"github.com/roomsync/roomsync/store"
	"github.com/roomsync/roomsync/store/bolt"
	"github.com/roomsync/roomsync/store/httpremote"
	"github.com/roomsync/roomsync/store/memory"
	"github.com/roomsync/roomsync/store/sqlite"
)

func main() {
	var (
		backend    = flag.String("backend", "bolt", "local store backend: bolt or sqlite")
		dataDir    = flag.String("data", "", "data directory (default: a temp dir)")
		remoteURL  = flag.String("remote", "", "remote document service base URL (default: in-process memory store)")
		configPath = flag.String("config", "", "optional YAML/JSON config file")
	)
	flag.Parse()

	if err := run(*backend, *dataDir, *remoteURL, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "roomsync-demo: %v\n", err)
		os.Exit(1)
	}
}

func run(backend, dataDir, remoteURL, configPath string) error {
	cfg := roomsync.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = roomsync.LoadConfig(configPath); err != nil {
			return err
		}
	}
	logging.Init(cfg.Logging)
	logger := logging.Default()

	if dataDir == "" {
		dir, err := os.MkdirTemp("", "roomsync-demo-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dataDir = dir
	}

	local, err := openLocal(backend, dataDir)
	if err != nil {
		return err
	}

	remote, err := openRemote(remoteURL, cfg, logger)
	if err != nil {
		return err
	}

	sys, err := roomsync.New(local, remote, cfg, roomsync.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx := context.Background()
	if err := sys.Start(ctx); err != nil {
		return err
	}

	if err := sys.Subscribe(func(e roomsync.Event) {
		logger.Info("event", slog.String("type", string(e.Type)), slog.Int("added", e.Added))
	}); err != nil {
		return err
	}

	seedRooms(ctx, sys, cfg.Rooms)

	date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	attempts := []struct {
		user        string
		reservation booking.Reservation
	}{
		{"teacher-mueller", booking.Reservation{
			Room: cfg.Rooms[0], Date: date, Time: cfg.TimeSlots[2],
			Subject: "mathematics", Teacher: "Mueller", Grade: "5", Section: "a",
		}},
		{"teacher-schmidt", booking.Reservation{
			Room: cfg.Rooms[1], Date: date, Time: cfg.TimeSlots[2],
			Subject: "physics", Teacher: "Schmidt", Grade: "6", Section: "b",
		}},
		// Same room and slot as the first booking: rejected with
		// suggestions.
		{"teacher-weber", booking.Reservation{
			Room: cfg.Rooms[0], Date: date, Time: cfg.TimeSlots[2],
			Subject: "biology", Teacher: "Weber", Grade: "7", Section: "c",
		}},
	}

	for _, attempt := range attempts {
		result, err := sys.Reserve(ctx, attempt.reservation, attempt.user)
		if err != nil {
			logger.LogError(ctx, err, "reservation failed")
			continue
		}
		printResult(attempt.user, result)
	}

	if err := sys.ForceSync(ctx); err != nil {
		logger.Warn("force sync failed", slog.String("error", err.Error()))
	}

	stats, err := json.MarshalIndent(sys.Stats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("\nfinal stats:\n%s\n", stats)
	return nil
}

func openLocal(backend, dataDir string) (store.Local, error) {
	switch backend {
	case "bolt":
		return bolt.New(filepath.Join(dataDir, "roomsync.db"))
	case "sqlite":
		cfg := sqlite.DefaultConfig(filepath.Join(dataDir, "roomsync.sqlite"))
		return sqlite.New(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q (want bolt or sqlite)", backend)
	}
}

func openRemote(remoteURL string, cfg roomsync.Config, logger *logging.Logger) (store.Remote, error) {
	if remoteURL == "" {
		return memory.NewRemote(), nil
	}
	return httpremote.New(remoteURL,
		httpremote.WithRetry(cfg.MaxRetries, cfg.RetryDelay()),
		httpremote.WithLogger(logger.WithComponent("remote")),
	), nil
}

func seedRooms(ctx context.Context, sys *roomsync.System, roomIDs []string) {
	rooms := make(map[string]booking.Room, len(roomIDs))
	now := time.Now().UTC()
	for i, id := range roomIDs {
		rooms[id] = booking.Room{
			ID:           id,
			Name:         fmt.Sprintf("Room %d", i+1),
			Capacity:     24 + 2*i,
			LastModified: now,
		}
	}
	if err := sys.SaveRooms(ctx, rooms); err != nil {
		logging.Default().Warn("seeding rooms failed", slog.String("error", err.Error()))
	}
}

func printResult(user string, result roomsync.ReserveResult) {
	r := result.Reservation
	if result.Committed {
		fmt.Printf("%s booked %s %s %s (%s)\n", user, r.Room, r.Date, r.Time, r.Subject)
		return
	}

	fmt.Printf("%s rejected for %s %s %s: %s\n", user, r.Room, r.Date, r.Time, result.Reason)
	for _, c := range result.Check.Conflicts {
		fmt.Printf("  conflict: %s\n", c.Message)
	}
	for _, s := range result.Check.Suggestions {
		fmt.Printf("  suggestion: %s\n", s.Message)
	}
}
