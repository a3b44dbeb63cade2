// app.go — wiring for the serve and join commands. This is the only place
// that imports both storage and mesh; the adapters below keep the mesh
// ignorant of SQL and storage ignorant of WebRTC.
package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/camroom/camroom/internal/chat"
	"github.com/camroom/camroom/internal/config"
	"github.com/camroom/camroom/internal/gateway"
	"github.com/camroom/camroom/internal/mesh"
	"github.com/camroom/camroom/internal/signal"
	"github.com/camroom/camroom/internal/storage"
)

// runServe runs the HTTP/WebSocket gateway until ctx is cancelled.
func runServe(ctx context.Context, dir, cfgPath string, cfg *config.Config) error {
	db, err := storage.Open(cfg.ResolveStorageDir(cfgPath))
	if err != nil {
		return err
	}
	defer db.Close()

	watcher, err := config.Watch(cfgPath, func(*config.Config) {
		log.Printf("APP: config changed; gateway settings apply after restart")
	})
	if err != nil {
		log.Printf("APP: config watch unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	srv := gateway.NewServer(db)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Gateway.Bind) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runJoin joins a room as the configured identity and runs the mesh until
// ctx is cancelled.
func runJoin(ctx context.Context, dir, cfgPath string, cfg *config.Config, roomName string) error {
	username := cfg.Identity.Username
	if username == "" {
		return errors.New("identity.username is not set in the config")
	}

	db, err := storage.Open(cfg.ResolveStorageDir(cfgPath))
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := db.GetOrCreateUser("local:"+username, "")
	if err != nil {
		return err
	}
	if err := db.ClaimUsername(user.ID, username); err != nil {
		return err
	}

	room, err := db.GetOrCreateRoom(roomName, user.ID)
	if err != nil {
		return err
	}
	if _, err := db.JoinRoom(roomName, user.ID, ""); err != nil {
		return err
	}
	defer func() {
		if err := db.LeaveRoom(roomName, user.ID); err != nil {
			log.Printf("APP: leave room: %v", err)
		}
	}()

	chatMgr, err := chat.New(db, roomName, room.ID, user.ID, 0)
	if err != nil {
		return err
	}
	defer chatMgr.Close()
	go followChat(chatMgr, username)

	roster := &dbRoster{db: db, userID: user.ID}
	mailbox := signal.NewStoreMailbox(db, username)
	cleanupStop := make(chan struct{})
	defer close(cleanupStop)
	mailbox.StartCleanup(room.ID, cleanupStop)

	capture := mesh.NewCaptureController(roomName, roster, cfg.Media)
	mgr := mesh.NewManager(cfg, roomName, room.ID, username, user.Tier, roster, mailbox, capture)

	watcher, err := config.Watch(cfgPath, mgr.SetConfig)
	if err != nil {
		log.Printf("APP: config watch unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	if cfg.Storage.RecordDir != "" {
		go runRecorder(ctx, mgr, roster, roomName, username, cfg.Storage.RecordDir)
	}

	log.Printf("APP: %s joining room %s", username, roomName)
	return mgr.Run(ctx)
}

// followChat echoes room chat into the process log so a joined client can
// follow the conversation. Exits when the chat manager closes.
func followChat(cm *chat.Manager, self string) {
	for msg := range cm.Subscribe() {
		if msg.Username == self {
			continue
		}
		log.Printf("CHAT: <%s> %s", msg.Username, msg.Content)
	}
}

// runRecorder mounts a recording surface for every remote participant on
// camera, and unmounts it when they drop off. With recording enabled the
// binder treats files exactly like display tiles.
func runRecorder(ctx context.Context, mgr *mesh.Manager, roster mesh.Roster, room, self, recordDir string) {
	parts, cancel := roster.Subscribe(room)
	defer cancel()

	mounted := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case ps, ok := <-parts:
			if !ok {
				return
			}
			current := make(map[string]bool)
			for _, p := range ps {
				if p.Username == "" || p.Username == self || !p.Online || !p.CameraOn {
					continue
				}
				current[p.Username] = true
				if !mounted[p.Username] {
					mgr.MountSurface(p.Username, mesh.NewFileSurface(recordDir, p.Username))
					mounted[p.Username] = true
				}
			}
			for name := range mounted {
				if !current[name] {
					mgr.UnmountSurface(name)
					delete(mounted, name)
				}
			}
		}
	}
}

// dbRoster adapts storage's participant table to the mesh's Roster.
type dbRoster struct {
	db     *storage.DB
	userID string
}

func (r *dbRoster) SetCamera(room string, on bool) error {
	return r.db.SetCamera(room, r.userID, on)
}

// Subscribe pushes a participant snapshot immediately and again on every
// participants change. Snapshots, not deltas: the mesh reconciles against
// whatever it last heard.
func (r *dbRoster) Subscribe(room string) (<-chan []mesh.Participant, func()) {
	out := make(chan []mesh.Participant, 4)

	roomRec, err := r.db.GetRoomByName(room)
	if err != nil {
		log.Printf("APP: roster subscribe %s: %v", room, err)
		close(out)
		return out, func() {}
	}

	changes, cancelChanges := r.db.SubscribeRoom(roomRec.ID)
	done := make(chan struct{})

	push := func() {
		rows, err := r.db.Participants(room)
		if err != nil {
			log.Printf("APP: roster query %s: %v", room, err)
			return
		}
		ps := make([]mesh.Participant, len(rows))
		for i, row := range rows {
			ps[i] = mesh.Participant{
				Username: row.Username,
				CameraOn: row.CameraOn,
				Online:   row.Online,
			}
		}
		select {
		case out <- ps:
		default:
		}
	}

	go func() {
		push()
		for {
			select {
			case <-done:
				return
			case ch, ok := <-changes:
				if !ok {
					return
				}
				if ch.Table != "participants" {
					continue
				}
				push()
			}
		}
	}()

	return out, func() {
		close(done)
		cancelChanges()
	}
}
