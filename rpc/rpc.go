package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/impostorserver/logger"
	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/persistence"
	"github.com/wfunc/impostorserver/room"
	"github.com/wfunc/impostorserver/services"
)

// ServiceName is the name AdminService is registered under.
const ServiceName = "AdminService"

const operatorTimeout = 5 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer creates a new RPC server.
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

// Register exposes an admin service on this server.
func (s *Server) Register(service *AdminService) error {
	return s.rpc.RegisterName(ServiceName, service)
}

// Addr is the bound address, useful when listening on port 0.
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

// AdminService 运维接口。方法签名遵循 net/rpc 约定：
// 导出方法，参数和回复都是导出类型，回复为指针，返回 error。
type AdminService struct {
	rooms   *room.Manager
	history *services.HistoryService
}

func NewAdminService(rooms *room.Manager, history *services.HistoryService) *AdminService {
	return &AdminService{rooms: rooms, history: history}
}

type Empty struct{}

type RoomArgs struct {
	Code string
}

type ListRoomsReply struct {
	Rooms []models.RoomInfo
}

type HistoryArgs struct {
	Code  string
	Limit int
}

type HistoryReply struct {
	Records []models.RoundRecord
}

type PhaseReply struct {
	Phase models.Phase
	Round int
}

func (a *AdminService) ListRooms(args *Empty, reply *ListRoomsReply) error {
	reply.Rooms = a.rooms.List()
	return nil
}

// RestartRound 重新开始当前回合，用于人数不足时由运维重试
func (a *AdminService) RestartRound(args *RoomArgs, reply *PhaseReply) error {
	return a.operate(args.Code, reply, (*room.Room).ForceRestart)
}

func (a *AdminService) EndGame(args *RoomArgs, reply *PhaseReply) error {
	return a.operate(args.Code, reply, (*room.Room).ForceEnd)
}

func (a *AdminService) History(args *HistoryArgs, reply *HistoryReply) error {
	if a.history == nil {
		return errors.New("history is not enabled")
	}
	records, err := a.history.History(args.Code, args.Limit)
	if err != nil {
		return err
	}
	reply.Records = records
	return nil
}

// RoomSnapshot returns the live room, or the last saved state of a room this
// process does not run.
func (a *AdminService) RoomSnapshot(args *RoomArgs, reply *models.RoomInfo) error {
	if r, ok := a.rooms.GetRoom(args.Code); ok {
		*reply = r.Info()
		return nil
	}
	if a.history == nil {
		return fmt.Errorf("%w: %s", models.ErrRoomNotFound, args.Code)
	}

	info, err := a.history.LastSnapshot(args.Code)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", models.ErrRoomNotFound, args.Code)
	}
	if err != nil {
		return err
	}
	*reply = info
	return nil
}

func (a *AdminService) operate(code string, reply *PhaseReply, op func(*room.Room, context.Context) error) error {
	r, ok := a.rooms.GetRoom(code)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrRoomNotFound, code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operatorTimeout)
	defer cancel()
	if err := op(r, ctx); err != nil {
		return err
	}
	logger.Log.Infow("Operator action applied", "room", code)

	var outcome PhaseReply
	err := r.Exec(ctx, func() error {
		outcome = PhaseReply{Phase: r.Phase(), Round: r.Round()}
		return nil
	})
	*reply = outcome
	return err
}
