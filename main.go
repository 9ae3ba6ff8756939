package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"robosim-backend/handlers"
	"robosim-backend/services"
)

func main() {
	// .env 파일 로드
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env 파일을 찾을 수 없습니다.")
	}

	cfg, err := services.LoadConfig()
	if err != nil {
		log.Fatalf("❌ 설정 로드 실패: %v", err)
	}

	// 에셋 저장소 (실패해도 시뮬레이터는 동작)
	store, err := services.OpenDatabase(cfg.Database)
	if err != nil {
		log.Printf("⚠️ DB 초기화 실패, 에셋 라이브러리 비활성: %v", err)
		store = nil
	}

	clients := handlers.NewClientManager()
	go clients.Start()

	events := services.NewEventService(clients.BroadcastMessage)
	events.SetEnabled(cfg.EventsEnabled)
	events.SetCooldown(cfg.EventCooldown)
	events.Start()
	defer events.Stop()

	console := services.NewConsoleBuffer(cfg.ConsoleFlushSize, cfg.ConsoleFlushInterval, clients.BroadcastMessage)
	defer console.Stop()

	sim, err := services.NewSimulator(services.NewMapGenerator().DefaultTrack(), cfg.Profile, cfg.Simulator, clients.BroadcastMessage)
	if err != nil {
		log.Fatalf("❌ 시뮬레이터 초기화 실패: %v", err)
	}
	sim.SetEventService(events)

	sched := services.NewScheduler(sim, services.NewJSSandbox(), cfg.Scheduler)
	sched.SetEventService(events)
	sched.SetConsole(console)

	simHandler := handlers.NewSimulationHandler(sim, sched, store, clients)
	clients.SetCommandHandler(simHandler.HandleCommand)

	app := fiber.New()

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("로봇 시뮬레이터 서버가 실행 중입니다.")
	})

	simHandler.RegisterRoutes(app)

	// WebSocket
	app.Use("/websocket", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/websocket/web", websocket.New(clients.HandleWebClientWebSocket))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("🛑 종료 신호 수신")
		sched.Stop()
		_ = app.Shutdown()
	}()

	log.Printf("🚀 서버 시작: http://localhost%s", cfg.ListenAddr)
	log.Printf("📡 WebSocket: ws://localhost%s/websocket/web (?format=msgpack)", cfg.ListenAddr)
	log.Printf("🤖 프로그램 업로드: POST /api/program, 실행: POST /api/sim/start")
	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Printf("❌ 서버 오류: %v", err)
	}

	if store != nil {
		_ = store.Close()
	}
}
