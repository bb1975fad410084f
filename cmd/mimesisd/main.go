package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/olivier-motium/mimesis/internal/briefing"
	"github.com/olivier-motium/mimesis/internal/commander"
	"github.com/olivier-motium/mimesis/internal/daemonconfig"
	"github.com/olivier-motium/mimesis/internal/gateway"
	"github.com/olivier-motium/mimesis/internal/gitinfo"
	"github.com/olivier-motium/mimesis/internal/model"
	"github.com/olivier-motium/mimesis/internal/persist"
	"github.com/olivier-motium/mimesis/internal/projectwatch"
	"github.com/olivier-motium/mimesis/internal/ptybridge"
	"github.com/olivier-motium/mimesis/internal/statusfile"
	"github.com/olivier-motium/mimesis/internal/store"
	"github.com/olivier-motium/mimesis/internal/transcriptwatch"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] != "serve" {
		fmt.Fprintln(os.Stderr, "usage: mimesisd serve")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	tuningPath := fs.String("tuning", "", "path to an optional hjson tuning file")
	_ = fs.Parse(os.Args[2:])

	os.Exit(run(*tuningPath))
}

func run(tuningPath string) int {
	cfg, err := daemonconfig.Load(tuningPath)
	if err != nil {
		log.Printf("mimesisd: configuration error: %v", err)
		return 1
	}

	log.Printf("mimesisd: API_PORT=%d and PTY_WS_PORT=%d are accepted for compatibility but unbound; sessions.*, pty.*, and commander.* all serve through the single /ws gateway endpoint on %s:%d", cfg.APIPort, cfg.PTYWSPort, cfg.StreamHost, cfg.StreamPort)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Printf("mimesisd: cannot create db directory: %v", err)
		return 1
	}

	db, err := persist.Open(cfg.DBPath)
	if err != nil {
		log.Printf("mimesisd: cannot open database: %v", err)
		return 1
	}
	defer db.Close()

	sessionStore := store.New()
	subs := store.NewSubscriptionManager()
	rings := store.NewRingManager(cfg.Tuning.RingCapBytes)

	projectsRoot := filepath.Join(mustHomeDir(), ".claude", "projects")
	gitCache := gitinfo.NewCache(5*time.Minute, 256)

	watcher, err := transcriptwatch.New(projectsRoot, gitCache)
	if err != nil {
		log.Printf("mimesisd: cannot create transcript watcher: %v", err)
		return 1
	}
	watcher.SetDebounce(time.Duration(cfg.Tuning.WatchDebounceMS) * time.Millisecond)

	pw, err := projectwatch.New()
	if err != nil {
		log.Printf("mimesisd: cannot create project watcher: %v", err)
		return 1
	}

	watcher.OnEvent(func(ev transcriptwatch.Event) {
		switch ev.Kind {
		case transcriptwatch.EventDiscovered, transcriptwatch.EventUpdated:
			sessionStore.AddFromWatcher(ev.Session)
			if ev.Session.Meta.CWD != "" {
				if err := pw.Watch(ev.Session.Meta.CWD); err != nil {
					log.Printf("mimesisd: cannot watch project dir for %s: %v", ev.SessionID, err)
				}
			}
		case transcriptwatch.EventRemoved:
			sessionStore.Remove(ev.SessionID)
		}
	})

	pw.OnStatus(func(cwd string, f *statusfile.File) {
		if f.Stale(time.Now()) {
			return
		}
		ts, ok := sessionStore.FindMostRecentByCWD(cwd)
		if !ok {
			return
		}
		sessionStore.UpdateFileStatus(ts.ID, model.FileStatus(f.Status))
	})

	pw.OnBriefing(func(cwd string, f *briefing.File) {
		endedAt := time.Now()
		if f.EndedAt != nil {
			endedAt = *f.EndedAt
		}
		b := model.Briefing{
			ProjectID: f.ProjectID,
			SessionID: f.SessionID,
			TaskID:    f.TaskID,
			Summary:   summarizeBriefing(f),
			EndedAt:   endedAt,
		}
		payload, err := json.Marshal(f)
		if err != nil {
			log.Printf("mimesisd: cannot marshal briefing payload: %v", err)
			return
		}
		if _, err := db.IngestBriefing(b, string(payload)); err != nil {
			log.Printf("mimesisd: cannot ingest briefing for %s: %v", cwd, err)
		}
	})

	pw.OnCompaction(func(marker model.CompactionMarker) {
		predecessor, ok := sessionStore.FindMostRecentByCWD(marker.CWD)
		if !ok || predecessor.ID == marker.NewSessionID {
			return
		}
		sessionStore.ApplyCompaction(model.CompactionEvent{
			PredecessorID: predecessor.ID,
			SuccessorID:   marker.NewSessionID,
			CWD:           marker.CWD,
			CompactedAt:   marker.CompactedAt,
		})
	})

	pw.Start()
	defer pw.Close()

	var cmdr *commander.Commander
	ptys := ptybridge.NewManager(func(id string, reason ptybridge.ExitReason) {
		if cmdr != nil {
			cmdr.HandleExit(id, reason)
		}
	})

	cwd, err := os.Getwd()
	if err != nil {
		log.Printf("mimesisd: cannot determine working directory: %v", err)
		return 1
	}
	cmdr, err = commander.New(ptys, db, sessionStore, "claude", cwd, nil)
	if err != nil {
		log.Printf("mimesisd: cannot initialize commander: %v", err)
		return 1
	}
	defer cmdr.Close()

	gw := gateway.NewServer(sessionStore, subs, rings, ptys, cmdr, "")

	cmdr.OnEvent(func(ev commander.Event) {
		gw.BroadcastCommander(commanderEventPayload(ev))
	})

	stopSweep := startIdleSweeper(ptys, time.Duration(cfg.Tuning.PTYIdleTimeoutMS)*time.Millisecond)
	defer stopSweep()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		log.Printf("mimesisd: cannot start transcript watcher: %v", err)
		return 1
	}
	defer watcher.Close()

	router := mux.NewRouter()
	router.HandleFunc("/ws", gw.HandleWS)

	addr := net.JoinHostPort(cfg.StreamHost, fmt.Sprintf("%d", cfg.StreamPort))
	httpServer := &http.Server{Addr: addr, Handler: router}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("mimesisd: listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("mimesisd: received %v, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			log.Printf("mimesisd: server error: %v", err)
			if isAddrInUse(err) {
				return 2
			}
			return 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Tuning.ShutdownTimeoutMS)*time.Millisecond)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("mimesisd: error shutting down http server: %v", err)
	}

	log.Println("mimesisd: shutdown complete")
	return 0
}

// commanderEventPayload shapes a commander.Event into the `commander.*`
// outbound payload §4.8 requires: commander.queued{position},
// commander.state{status}, commander.exit{code,signal}.
func commanderEventPayload(ev commander.Event) map[string]any {
	switch ev.Kind {
	case commander.EventQueued:
		return map[string]any{"type": "commander.queued", "position": ev.Position}
	case commander.EventExit:
		return map[string]any{"type": "commander.exit", "code": ev.Exit.Code, "signal": ev.Exit.Signal}
	default:
		return map[string]any{"type": "commander.state", "status": ev.Status}
	}
}

// summarizeBriefing renders a one-line summary from a parsed briefing's
// structured fields; status.v5 carries no free-text summary field of
// its own, only status/next-steps, so this is what the outbox payload's
// human-readable summary is derived from.
func summarizeBriefing(f *briefing.File) string {
	parts := []string{string(f.Status)}
	if len(f.NextSteps) > 0 {
		parts = append(parts, "next: "+strings.Join(f.NextSteps, "; "))
	}
	return strings.Join(parts, " — ")
}

func mustHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func startIdleSweeper(ptys *ptybridge.Manager, interval time.Duration) func() {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval / 6)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				ticker.Stop()
				return
			case t := <-ticker.C:
				ptys.SweepIdle(t)
			}
		}
	}()
	return func() { close(done) }
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "listen" && errors.Is(err, syscall.EADDRINUSE)
}
