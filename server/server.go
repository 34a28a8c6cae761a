package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"

	"github.com/wfunc/impostorserver/logger"
	"github.com/wfunc/impostorserver/models"
	"github.com/wfunc/impostorserver/monitor"
	"github.com/wfunc/impostorserver/network"
	"github.com/wfunc/impostorserver/room"
	"github.com/wfunc/impostorserver/services"
	"github.com/wfunc/impostorserver/session"
)

const (
	qrSize          = 256
	defaultHistory  = 20
	heartbeatPeriod = 30 * time.Second
	joinTimeout     = 2 * time.Second
)

// Notifier reaches every connected session, whatever room it is in.
type Notifier interface {
	BroadcastToAll(msgID uint16, data []byte) error
}

type Options struct {
	Addr           string
	AllowedOrigins []string
	Rooms          *room.Manager
	Sessions       *session.Manager
	History        *services.HistoryService
	Metrics        *monitor.Monitor
	Notifier       Notifier

	// Heartbeat 为 0 时使用 heartbeatPeriod
	Heartbeat time.Duration
}

type GameServer struct {
	addr           string
	upgrader       websocket.Upgrader
	router         *gin.Engine
	httpServer     *http.Server
	roomManager    *room.Manager
	sessionManager *session.Manager
	history        *services.HistoryService
	metrics        *monitor.Monitor
	notifier       Notifier
	heartbeat      time.Duration
	shutdownOnce   sync.Once
	shutdownChan   chan struct{}
}

func NewGameServer(opts Options) *GameServer {
	s := &GameServer{
		addr:           opts.Addr,
		roomManager:    opts.Rooms,
		sessionManager: opts.Sessions,
		history:        opts.History,
		metrics:        opts.Metrics,
		notifier:       opts.Notifier,
		heartbeat:      opts.Heartbeat,
		shutdownChan:   make(chan struct{}),
	}
	if s.heartbeat <= 0 {
		s.heartbeat = heartbeatPeriod
	}

	allowAll, origins := parseOrigins(opts.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range origins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: allowAll,
		AllowOrigins:    origins,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/ws", s.handleWebSocket)
	router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := router.Group("/api/rooms")
	api.GET("", s.handleListRooms)
	api.GET("/:code", s.handleGetRoom)
	api.GET("/:code/history", s.handleHistory)
	api.GET("/:code/qr", s.handleQR)

	s.router = router
	return s
}

func parseOrigins(allowed []string) (bool, []string) {
	if len(allowed) == 0 {
		return true, nil
	}
	for _, o := range allowed {
		if o == "*" {
			return true, nil
		}
	}
	return false, allowed
}

// Handler exposes the router, used by tests with httptest.
func (s *GameServer) Handler() http.Handler {
	return s.router
}

// Start blocks until the HTTP server stops. A clean Shutdown returns nil.
func (s *GameServer) Start() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.router}
	logger.Log.Infof("Game server listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown tells every connected session the server is going away, then
// stops accepting requests.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		if s.notifier != nil {
			err := models.ErrShuttingDown
			notice := models.ErrorNotice{Code: models.ErrorCode(err), Message: err.Error()}
			if sendErr := s.notifier.BroadcastToAll(network.MsgTypeError, network.Marshal(notice)); sendErr != nil {
				logger.Log.Warnf("shutdown notice: %v", sendErr)
			}
		}
		close(s.shutdownChan)
	})
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requestLogger 用 zap 记录每个 HTTP 请求
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log.Debugw("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// --- REST ---

func (s *GameServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"rooms":    s.roomManager.Count(),
		"sessions": s.sessionManager.Count(),
	})
}

func (s *GameServer) handleListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.roomManager.List()})
}

func (s *GameServer) handleGetRoom(c *gin.Context) {
	r, ok := s.roomManager.GetRoom(c.Param("code"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": models.ErrRoomNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, r.Info())
}

func (s *GameServer) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not enabled"})
		return
	}
	code := c.Param("code")

	limit := defaultHistory
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records, err := s.history.History(code, limit)
	if err != nil {
		logger.Log.Errorw("Failed to load history", "room", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	stats, err := s.history.Stats(code)
	if err != nil {
		logger.Log.Errorw("Failed to load stats", "room", code, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	rounds := make([]roundView, 0, len(records))
	for _, r := range records {
		rounds = append(rounds, newRoundView(r))
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds, "stats": stats})
}

// roundView is a resolved round as the public history shows it. The secret
// word and the impostor stay with the operator RPC and the event queue.
type roundView struct {
	ID           string               `json:"id"`
	Round        int                  `json:"round"`
	Participants []models.Participant `json:"participants"`
	Ballots      []models.Ballot      `json:"ballots"`
	Outcome      models.Outcome       `json:"outcome"`
	Result       string               `json:"result"`
	StartedAt    time.Time            `json:"started_at"`
	ResolvedAt   time.Time            `json:"resolved_at"`
}

func newRoundView(r models.RoundRecord) roundView {
	return roundView{
		ID:           r.ID,
		Round:        r.Round,
		Participants: r.Participants,
		Ballots:      r.Ballots,
		Outcome:      r.Outcome,
		Result:       r.Outcome.Result(),
		StartedAt:    r.StartedAt,
		ResolvedAt:   r.ResolvedAt,
	}
}

// handleQR 生成加入链接的二维码 PNG
func (s *GameServer) handleQR(c *gin.Context) {
	code := c.Param("code")
	if _, ok := s.roomManager.GetRoom(code); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": models.ErrRoomNotFound.Error()})
		return
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	url := scheme + "://" + c.Request.Host + "/?room=" + code

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr generation failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// --- WebSocket ---

func (s *GameServer) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.heartbeat)
	sess := session.NewSession(uuid.New().String(), s.sessionManager.NextParticipantID(), wsConn)
	s.sessionManager.Add(sess)
	s.metrics.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s, participant %d",
		wsConn.RemoteAddr(), sess.GetID(), sess.GetParticipantID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.leaveRoom(sess)
		s.sessionManager.Remove(sess.GetID())
		s.metrics.DecOnlinePlayers()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			start := time.Now()
			s.metrics.IncMessagesReceived()
			s.handlePacket(sess, packet)
			s.metrics.ObserveMessageLatency(time.Since(start))
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	sess.Touch()

	var err error
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		err = sess.Send(network.MsgTypeHeartbeat, nil)
	case network.MsgTypeCreateRoom:
		err = s.handleCreateRoom(sess)
	case network.MsgTypeJoinRoom:
		err = s.handleJoinRoom(sess, packet)
	case network.MsgTypeLeaveRoom:
		s.leaveRoom(sess)
	case network.MsgTypeRename:
		err = s.handleRename(sess, packet)
	case network.MsgTypePlayerAction:
		err = s.inRoom(sess, func(r *room.Room) error {
			return r.Action(sess.GetParticipantID(), packet.Data)
		})
	case network.MsgTypeStartRound:
		err = s.inRoom(sess, func(r *room.Room) error { return r.StartRound(sess.GetParticipantID()) })
	case network.MsgTypeRestartRound:
		err = s.inRoom(sess, func(r *room.Room) error { return r.Restart(sess.GetParticipantID()) })
	case network.MsgTypeEndGame:
		err = s.inRoom(sess, func(r *room.Room) error { return r.End(sess.GetParticipantID()) })
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}

	if err != nil {
		sendError(sess, err)
	}
}

func (s *GameServer) handleCreateRoom(sess *session.Session) error {
	r, err := s.roomManager.CreateRoom()
	if err != nil {
		return err
	}
	s.metrics.SetActiveRooms(s.roomManager.Count())
	logger.Log.Infof("Session %s created room %s", sess.GetID(), r.ID)
	return s.enterRoom(sess, r)
}

// handleJoinRoom 空加入码表示快速加入：找一个大厅中的房间，没有就新建
func (s *GameServer) handleJoinRoom(sess *session.Session, packet *network.Packet) error {
	var req models.JoinRoomRequest
	if len(packet.Data) > 0 {
		if err := json.Unmarshal(packet.Data, &req); err != nil {
			return &models.ValidationError{Field: "body", Reason: err.Error()}
		}
	}

	if req.RoomCode == "" {
		if r := s.roomManager.FindAvailableRoom(); r != nil {
			return s.enterRoom(sess, r)
		}
		return s.handleCreateRoom(sess)
	}

	r, ok := s.roomManager.GetRoom(req.RoomCode)
	if !ok {
		return models.ErrRoomNotFound
	}
	return s.enterRoom(sess, r)
}

func (s *GameServer) enterRoom(sess *session.Session, r *room.Room) error {
	if sess.RoomCode() == r.ID {
		return nil
	}
	s.leaveRoom(sess)

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	if err := r.Admit(ctx, sess.GetParticipantID()); err != nil {
		return err
	}
	sess.SetRoomCode(r.ID)
	logger.Log.Infof("Session %s joined room %s", sess.GetID(), r.ID)
	return nil
}

func (s *GameServer) leaveRoom(sess *session.Session) {
	code := sess.RoomCode()
	if code == "" {
		return
	}
	sess.SetRoomCode("")

	if r, ok := s.roomManager.GetRoom(code); ok {
		if err := r.Leave(sess.GetParticipantID()); err != nil {
			logger.Log.Warnf("Session %s failed to leave room %s: %v", sess.GetID(), code, err)
		}
	}
}

func (s *GameServer) handleRename(sess *session.Session, packet *network.Packet) error {
	var req models.RenameRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		return &models.ValidationError{Field: "body", Reason: err.Error()}
	}
	return s.inRoom(sess, func(r *room.Room) error {
		return r.Rename(sess.GetParticipantID(), req.Name)
	})
}

func (s *GameServer) inRoom(sess *session.Session, fn func(r *room.Room) error) error {
	code := sess.RoomCode()
	if code == "" {
		logger.Log.Warnf("Session %s sent a room message but is not in a room", sess.GetID())
		return models.ErrRoomNotFound
	}

	r, exists := s.roomManager.GetRoom(code)
	if !exists {
		sess.SetRoomCode("")
		return models.ErrRoomNotFound
	}
	return fn(r)
}

func sendError(sess *session.Session, err error) {
	notice := models.ErrorNotice{Code: models.ErrorCode(err), Message: err.Error()}
	if sendErr := sess.Send(network.MsgTypeError, network.Marshal(notice)); sendErr != nil {
		logger.Log.Debugf("send error to session %s: %v", sess.GetID(), sendErr)
	}
}
