// Package registry owns the room-key to session mapping. It replaces the
// global socket/session maps of the old design with an injected service
// object: constructed at server start, drained at teardown.
package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/ft-pong/pong-backend/internal/session"
)

type Msg interface{ isRegistryMsg() }

// Create starts a session for a room key, or answers with the existing one.
// Exactly one session owns a given room key at a time.
type Create struct {
	Cfg   session.Config
	Reply chan *session.Session
}

type Get struct {
	RoomKey string
	Reply   chan *session.Session
}

type Remove struct {
	RoomKey string
}

type ShutdownAll struct{}

func (Create) isRegistryMsg()      {}
func (Get) isRegistryMsg()         {}
func (Remove) isRegistryMsg()      {}
func (ShutdownAll) isRegistryMsg() {}

type Registry struct {
	inbox    chan Msg
	sessions map[string]*session.Session
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
}

func New(parent context.Context, logger *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		inbox:    make(chan Msg, 64),
		sessions: make(map[string]*session.Session),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger,
	}
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

func (r *Registry) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.drain()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Create:
				if s := r.sessions[msg.Cfg.RoomKey]; s != nil {
					msg.Reply <- s
					break
				}
				cfg := msg.Cfg
				key := cfg.RoomKey
				// route the session's self-reclaim back through this actor
				outer := cfg.OnReclaim
				cfg.OnReclaim = func(roomKey string) {
					select {
					case r.inbox <- Remove{RoomKey: roomKey}:
					case <-r.ctx.Done():
					}
					if outer != nil {
						outer(roomKey)
					}
				}
				s := session.New(r.ctx, cfg)
				r.sessions[key] = s
				r.log.Info("session registered", zap.String("room_key", key))
				msg.Reply <- s

			case Get:
				msg.Reply <- r.sessions[msg.RoomKey] // may be nil

			case Remove:
				if _, ok := r.sessions[msg.RoomKey]; ok {
					delete(r.sessions, msg.RoomKey)
					r.log.Info("session released", zap.String("room_key", msg.RoomKey))
				}

			case ShutdownAll:
				r.drain()
				return
			}
		}
	}
}

func (r *Registry) drain() {
	for key, s := range r.sessions {
		s.Inbox() <- session.Shutdown{}
		delete(r.sessions, key)
	}
	r.cancel()
}

// Lookup is a convenience wrapper for request handlers. After teardown it
// reports every key as absent instead of blocking on a drained actor.
func (r *Registry) Lookup(roomKey string) *session.Session {
	reply := make(chan *session.Session, 1)
	select {
	case r.inbox <- Get{RoomKey: roomKey, Reply: reply}:
	case <-r.ctx.Done():
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-r.ctx.Done():
		return nil
	}
}
