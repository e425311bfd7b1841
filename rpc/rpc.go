package rpc

import (
	"errors"
	"net"
	"net/rpc"
	"strings"

	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/network"
	"github.com/wfunc/coursesync/room"
)

var ErrRoomNotFound = errors.New("room not found")

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer creates a new RPC server listening on addr.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      rpc.NewServer(),
	}, nil
}

// Register publishes the exported methods of rcvr.
func (s *Server) Register(rcvr any) error {
	return s.rpc.Register(rcvr)
}

// Addr is the resolved listen address.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// RoomService exposes read-only room snapshots for operators.
type RoomService struct {
	rooms *room.Manager
}

func NewRoomService(rooms *room.Manager) *RoomService {
	return &RoomService{rooms: rooms}
}

type SnapshotArgs struct {
	Room string
}

type SnapshotReply struct {
	Room       string
	Host       string
	Peers      []network.PeerInfo
	SharedKeys []string
}

// Snapshot returns the roster and shared keys of one room.
func (rs *RoomService) Snapshot(args *SnapshotArgs, reply *SnapshotReply) error {
	r, ok := rs.rooms.GetRoom(args.Room)
	if !ok {
		return ErrRoomNotFound
	}
	roster := r.Roster()
	reply.Room = r.ID
	reply.Host = roster.Host
	reply.Peers = roster.Peers
	for _, e := range r.Shared() {
		reply.SharedKeys = append(reply.SharedKeys, e.Key)
	}
	return nil
}

// ListArgs filters rooms by id prefix; empty matches all.
type ListArgs struct {
	Prefix string
}

type RoomSummary struct {
	ID    string
	Peers int
}

type ListReply struct {
	Rooms []RoomSummary
}

// List returns the open rooms sorted by id.
func (rs *RoomService) List(args *ListArgs, reply *ListReply) error {
	for _, r := range rs.rooms.Rooms() {
		if !strings.HasPrefix(r.ID, args.Prefix) {
			continue
		}
		reply.Rooms = append(reply.Rooms, RoomSummary{ID: r.ID, Peers: r.Len()})
	}
	return nil
}
