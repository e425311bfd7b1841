package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wfunc/coursesync/broadcast"
	"github.com/wfunc/coursesync/config"
	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/monitor"
	"github.com/wfunc/coursesync/network"
	"github.com/wfunc/coursesync/room"
	coursesync_rpc "github.com/wfunc/coursesync/rpc"
	"github.com/wfunc/coursesync/session"
	"github.com/wfunc/coursesync/transport"
)

const (
	heartbeatInterval = 15 * time.Second
	defaultRoom       = "lobby"
)

var ErrNotInRoom = errors.New("session is not in a room")

// RelayServer forwards frames between the peers of a room. It holds the
// roster, the shared map and each peer's published state so late joiners
// can be seeded, but runs no simulation itself.
type RelayServer struct {
	addr           string
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	broadcaster    broadcast.Broadcaster
	rpcServer      *coursesync_rpc.Server
	monitor        *monitor.Monitor
	httpServer     *http.Server
	maxPeers       int
	frameRate      rate.Limit
	frameBurst     int
	shutdownChan   chan struct{}
}

func NewRelayServer(cfg config.ServerConfig, mon *monitor.Monitor) (*RelayServer, error) {
	s := &RelayServer{
		addr:           cfg.HTTPAddress,
		roomManager:    room.NewRoomManager(),
		sessionManager: session.NewManager(),
		monitor:        mon,
		maxPeers:       cfg.MaxPeers,
		frameRate:      rate.Limit(cfg.FrameRate),
		frameBurst:     cfg.FrameBurst,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	if s.frameRate <= 0 {
		s.frameRate = rate.Inf
	}
	if s.frameBurst < 1 {
		s.frameBurst = 1
	}

	s.broadcaster = broadcast.NewRoomBroadcaster(s.roomManager)

	rpcServer, err := coursesync_rpc.NewServer(cfg.RPCAddress)
	if err != nil {
		return nil, fmt.Errorf("create rpc server: %w", err)
	}
	if err := rpcServer.Register(coursesync_rpc.NewRoomService(s.roomManager)); err != nil {
		rpcServer.Stop()
		return nil, fmt.Errorf("register room service: %w", err)
	}
	s.rpcServer = rpcServer

	return s, nil
}

// Handler serves the websocket endpoint at /ws.
func (s *RelayServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *RelayServer) Start() error {
	go s.rpcServer.Start()

	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	logger.Log.Infof("Relay server listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *RelayServer) Shutdown() {
	close(s.shutdownChan)
	s.rpcServer.Stop()
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

func (s *RelayServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(network.NewWSConnection(conn))
}

func (s *RelayServer) handleConnection(conn network.Connection) {
	sess := session.NewSession(uuid.New().String(), conn)
	s.sessionManager.Add(sess)
	s.monitor.IncConnectedPeers()
	conn.SetHeartbeat(heartbeatInterval)
	limiter := rate.NewLimiter(s.frameRate, s.frameBurst)

	logger.Log.Infof("New connection from %s, session ID: %s", conn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", conn.RemoteAddr(), sess.GetID())
		s.leave(sess)
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecConnectedPeers()
		conn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := conn.ReadPacket()
			if err != nil {
				return
			}
			if throttled(packet.MsgID) && !limiter.Allow() {
				s.monitor.IncFramesThrottled()
				continue
			}
			if err := s.handlePacket(sess, packet); err != nil {
				logger.Log.Warnf("Session %s frame %d rejected: %v", sess.GetID(), packet.MsgID, err)
				// a peer that could not join never gets a welcome
				if packet.MsgID == network.MsgTypeJoinRoom && sess.RoomID == "" {
					return
				}
			}
		}
	}
}

// throttled reports whether msgID counts against the per-session frame
// budget. Control frames are always accepted.
func throttled(msgID uint16) bool {
	switch msgID {
	case network.MsgTypeRelay, network.MsgTypeSharedSet, network.MsgTypePeerState:
		return true
	}
	return false
}

func (s *RelayServer) handlePacket(sess *session.Session, packet *network.Packet) error {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Touch()
		return nil
	case network.MsgTypeJoinRoom:
		return s.handleJoinRoom(sess, packet)
	case network.MsgTypeLeaveRoom:
		s.leave(sess)
		return nil
	case network.MsgTypeRelay:
		return s.handleRelay(sess, packet)
	case network.MsgTypeSharedSet:
		return s.handleSharedSet(sess, packet)
	case network.MsgTypePeerState:
		return s.handlePeerState(sess, packet)
	default:
		s.monitor.IncMalformed("relay")
		return fmt.Errorf("unknown message type %d", packet.MsgID)
	}
}

func (s *RelayServer) decode(packet *network.Packet, v any) error {
	if err := network.Decode(packet.Data, v); err != nil {
		s.monitor.IncMalformed("relay")
		return err
	}
	return nil
}

func (s *RelayServer) handleJoinRoom(sess *session.Session, packet *network.Packet) error {
	if sess.RoomID != "" {
		return fmt.Errorf("already in room %s", sess.RoomID)
	}
	var req network.JoinRoom
	if err := s.decode(packet, &req); err != nil {
		return err
	}
	if req.Room == "" {
		req.Room = defaultRoom
	}

	sess.Join(req.Room, req.Name, req.Color)
	r, err := s.roomManager.Join(req.Room, s.maxPeers, s.broadcaster, sess)
	if err != nil {
		sess.Leave()
		return err
	}
	s.monitor.SetActiveRooms(s.roomManager.Len())

	data, err := network.Encode(r.Welcome(sess.ID))
	if err != nil {
		return err
	}
	if err := sess.Send(network.MsgTypeWelcome, data); err != nil {
		return err
	}

	roster, err := network.Encode(r.Roster())
	if err != nil {
		return err
	}
	logger.Log.Infof("Session %s (%s) joined room %s, host %s", sess.GetID(), req.Name, r.ID, r.Host())
	return s.broadcaster.BroadcastToOthers(r.ID, sess.ID, network.MsgTypeRoster, roster)
}

func (s *RelayServer) leave(sess *session.Session) {
	roomID := sess.RoomID
	if roomID == "" {
		return
	}
	sess.Leave()

	r, exists := s.roomManager.GetRoom(roomID)
	if !exists || !r.RemovePeer(sess.ID) {
		return
	}
	if !s.roomManager.RemoveIfEmpty(roomID) {
		if err := r.BroadcastRoster(); err != nil {
			logger.Log.Warnf("Roster for room %s not sent: %v", roomID, err)
		}
	}
	s.monitor.SetActiveRooms(s.roomManager.Len())
	logger.Log.Infof("Session %s left room %s", sess.GetID(), roomID)
}

func (s *RelayServer) currentRoom(sess *session.Session) (*room.Room, error) {
	if sess.RoomID == "" {
		return nil, ErrNotInRoom
	}
	r, exists := s.roomManager.GetRoom(sess.RoomID)
	if !exists {
		return nil, broadcast.ErrRoomNotFound
	}
	return r, nil
}

func (s *RelayServer) handleRelay(sess *session.Session, packet *network.Packet) error {
	r, err := s.currentRoom(sess)
	if err != nil {
		return err
	}
	var msg network.Relay
	if err := s.decode(packet, &msg); err != nil {
		return err
	}
	scope := transport.Scope(msg.Scope)
	if !scope.Valid() {
		s.monitor.IncMalformed("relay")
		return transport.ErrUnknownScope
	}

	msg.From = sess.ID
	data, err := network.Encode(msg)
	if err != nil {
		return err
	}
	s.monitor.IncFramesRelayed("relay")
	return s.broadcaster.Route(r.ID, sess.ID, scope, network.MsgTypeRelay, data)
}

func (s *RelayServer) handleSharedSet(sess *session.Session, packet *network.Packet) error {
	r, err := s.currentRoom(sess)
	if err != nil {
		return err
	}
	var e network.SharedEntry
	if err := s.decode(packet, &e); err != nil {
		return err
	}
	if e.Key == "" {
		s.monitor.IncMalformed("relay")
		return errors.New("shared entry without key")
	}

	e.Writer = sess.ID
	if !r.ApplyShared(e) {
		return nil
	}
	data, err := network.Encode(e)
	if err != nil {
		return err
	}
	s.monitor.IncFramesRelayed("shared")
	return s.broadcaster.BroadcastToOthers(r.ID, sess.ID, network.MsgTypeSharedSet, data)
}

func (s *RelayServer) handlePeerState(sess *session.Session, packet *network.Packet) error {
	r, err := s.currentRoom(sess)
	if err != nil {
		return err
	}
	var st network.PeerState
	if err := s.decode(packet, &st); err != nil {
		return err
	}

	// a peer may only publish its own state
	st.Peer = sess.ID
	sess.SetState(st.Key, st.Value)
	data, err := network.Encode(st)
	if err != nil {
		return err
	}
	s.monitor.IncFramesRelayed("state")
	return s.broadcaster.BroadcastToOthers(r.ID, sess.ID, network.MsgTypePeerState, data)
}
