package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/wfunc/impostorserver/broadcast"
	"github.com/wfunc/impostorserver/cache"
	"github.com/wfunc/impostorserver/config"
	"github.com/wfunc/impostorserver/logger"
	"github.com/wfunc/impostorserver/monitor"
	"github.com/wfunc/impostorserver/persistence"
	"github.com/wfunc/impostorserver/roles"
	"github.com/wfunc/impostorserver/room"
	"github.com/wfunc/impostorserver/rpc"
	"github.com/wfunc/impostorserver/server"
	"github.com/wfunc/impostorserver/services"
	"github.com/wfunc/impostorserver/session"
)

func main() {
	// 配置加载前先用默认的生产日志，启动错误才有输出
	if err := logger.Init("", false); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		logger.Log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	words := cfg.Game.Words
	if cfg.Game.WordFile != "" {
		words, err = roles.LoadWords(cfg.Game.WordFile)
		if err != nil {
			logger.Log.Fatalf("Failed to load word file: %v", err)
		}
	}
	logger.Log.Infof("Word pool has %d words", len(words))

	// Initialize Database
	db, err := persistence.Open(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Log.Infof("Database %q ready.", cfg.Database.Driver)

	var publisher cache.Publisher = cache.NopPublisher{}
	if cfg.Redis.Enabled {
		rp, err := cache.Connect(cfg.Redis)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to Redis: %v", err)
		}
		publisher = rp
	}
	defer publisher.Close()

	metrics := monitor.NewMonitor("impostor")
	metricsServer := metrics.StartServer(cfg.Server.MetricsAddress)

	history := services.NewHistoryService(db, publisher, 0)
	history.Start()

	// 广播器和房间管理器互相引用
	sessions := session.NewManager()
	broadcaster := broadcast.NewRoomBroadcaster(nil, sessions)
	rooms := room.NewRoomManager(func(code string) (*room.Room, error) {
		return room.NewRoom(room.Options{
			Code:        code,
			Game:        cfg.Game,
			Words:       words,
			Broadcaster: broadcaster,
			Recorder:    history,
			Metrics:     metrics,
		})
	})
	broadcaster.SetRoomManager(rooms)

	janitor := services.NewJanitor(rooms, db, cfg.Cleanup)
	if err := janitor.Start(); err != nil {
		logger.Log.Fatalf("Failed to start janitor: %v", err)
	}

	// 初始化RPC服务器
	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	if err := rpcServer.Register(rpc.NewAdminService(rooms, history)); err != nil {
		logger.Log.Fatalf("Failed to register RPC service: %v", err)
	}
	go rpcServer.Start()

	// Initialize Game Server
	gameServer := server.NewGameServer(server.Options{
		Addr:           cfg.Server.HTTPAddress,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Rooms:          rooms,
		Sessions:       sessions,
		History:        history,
		Metrics:        metrics,
		Notifier:       broadcaster,
	})

	go func() {
		if err := gameServer.Start(); err != nil {
			logger.Log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gameServer.Shutdown(ctx); err != nil {
		logger.Log.Warnf("HTTP shutdown: %v", err)
	}
	rpcServer.Stop()
	janitor.Stop()
	rooms.CloseAll()
	history.Stop()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Log.Warnf("Metrics shutdown: %v", err)
	}
	logger.Log.Info("Bye.")
}
