package handlers

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"robosim-backend/models"
	"robosim-backend/services"
)

// SimulationHandler - 시뮬레이터/스케줄러 HTTP 핸들러
type SimulationHandler struct {
	sim     *services.Simulator
	sched   *services.Scheduler
	store   *services.AssetStore // nil이면 에셋 라이브러리 비활성
	clients *ClientManager
}

// NewSimulationHandler - 핸들러 생성
func NewSimulationHandler(sim *services.Simulator, sched *services.Scheduler, store *services.AssetStore, clients *ClientManager) *SimulationHandler {
	return &SimulationHandler{
		sim:     sim,
		sched:   sched,
		store:   store,
		clients: clients,
	}
}

// RegisterRoutes - /api 라우트 등록
func (h *SimulationHandler) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api")

	api.Get("/health", h.HandleHealth)

	api.Post("/program", h.HandleUploadProgram)
	api.Post("/map", h.HandleUploadMap)
	api.Get("/map", h.HandleGetMap)

	sim := api.Group("/sim")
	sim.Post("/start", h.HandleStart)
	sim.Post("/stop", h.HandleStop)
	sim.Post("/pause", h.HandlePause)
	sim.Post("/reset", h.HandleReset)
	sim.Post("/button/press", h.HandleButtonPress)
	sim.Post("/button/release", h.HandleButtonRelease)
	sim.Post("/button/click", h.HandleButtonClick)
	sim.Get("/state", h.HandleGetState)

	assets := api.Group("/assets")
	assets.Get("/maps", h.HandleListMaps)
	assets.Get("/programs", h.HandleListPrograms)
	assets.Post("/maps/:id/load", h.HandleLoadStoredMap)
	assets.Post("/programs/:id/load", h.HandleLoadStoredProgram)
}

// HandleHealth - 서버 상태
func (h *SimulationHandler) HandleHealth(c *fiber.Ctx) error {
	clients := map[string]int{}
	if h.clients != nil {
		clients = h.clients.GetClientCount()
	}
	return c.JSON(fiber.Map{
		"status":    "OK",
		"clients":   clients,
		"run_state": h.sched.State(),
		"program":   h.sched.ProgramName(),
		"time":      time.Now().Format(time.RFC3339),
	})
}

// HandleUploadProgram - 제어 프로그램 업로드
func (h *SimulationHandler) HandleUploadProgram(c *fiber.Ctx) error {
	var req models.ProgramUpload
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Name == "" {
		req.Name = "program.js"
	}

	if err := h.sched.LoadProgram(req.Name, req.Source); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	resp := fiber.Map{
		"success": true,
		"name":    req.Name,
		"size":    len(req.Source),
	}
	if h.store != nil {
		rec, err := h.store.SaveProgram(req.Name, req.Source)
		if err != nil {
			log.Printf("⚠️ 프로그램 저장 실패: %v", err)
		} else {
			resp["id"] = rec.ID
		}
	}
	return c.JSON(resp)
}

// HandleUploadMap - v1 맵 파일 업로드
//
// 실행 중이었다면 시작 게이트 없이 다시 시작한다.
func (h *SimulationHandler) HandleUploadMap(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	m, err := services.DecodeMapFile(body)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.sched.SwapMap(m); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	resp := fiber.Map{
		"success":   true,
		"map_id":    m.ID,
		"zones":     len(m.CameraZones),
		"lamps":     len(m.Lamps),
		"obstacles": len(m.Obstacles),
		"run_state": h.sched.State(),
	}
	if h.store != nil {
		rec, err := h.store.SaveMap(c.Query("name", "map.json"), body, m)
		if err != nil {
			log.Printf("⚠️ 맵 저장 실패: %v", err)
		} else {
			resp["id"] = rec.ID
		}
	}
	return c.JSON(resp)
}

// HandleGetMap - 현재 맵을 v1 파일로
func (h *SimulationHandler) HandleGetMap(c *fiber.Ctx) error {
	data, err := services.EncodeMapFile(h.sim.Map())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(data)
}

// HandleStart - 실행 시작 (?skip_start_gate=true)
func (h *SimulationHandler) HandleStart(c *fiber.Ctx) error {
	skip := c.QueryBool("skip_start_gate", false)
	if err := h.sched.Start(skip); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(h.sched.Status())
}

// HandleStop - 실행 정지
func (h *SimulationHandler) HandleStop(c *fiber.Ctx) error {
	h.sched.Stop()
	return c.JSON(h.sched.Status())
}

// HandlePause - 일시정지 전환
func (h *SimulationHandler) HandlePause(c *fiber.Ctx) error {
	paused := h.sched.TogglePause()
	status := h.sched.Status()
	status["paused"] = paused
	return c.JSON(status)
}

// HandleReset - 시작 위치로 복귀
func (h *SimulationHandler) HandleReset(c *fiber.Ctx) error {
	h.sim.Reset()
	return c.JSON(h.sim.GetStatus())
}

// HandleButtonPress - 버튼 누름 (시작 게이트 해제)
func (h *SimulationHandler) HandleButtonPress(c *fiber.Ctx) error {
	h.sim.Robot().PressButton()
	return c.JSON(fiber.Map{
		"button":    true,
		"run_state": h.sched.State(),
	})
}

// HandleButtonRelease - 버튼 뗌
func (h *SimulationHandler) HandleButtonRelease(c *fiber.Ctx) error {
	h.sim.Robot().ReleaseButton()
	return c.JSON(fiber.Map{
		"button":    false,
		"run_state": h.sched.State(),
	})
}

// HandleButtonClick - 시작 버튼 클릭 (누르고 뗌)
func (h *SimulationHandler) HandleButtonClick(c *fiber.Ctx) error {
	h.sched.PressStartButton()
	return c.JSON(fiber.Map{
		"button":    false,
		"run_state": h.sched.State(),
	})
}

// HandleGetState - 현재 상태
func (h *SimulationHandler) HandleGetState(c *fiber.Ctx) error {
	status := h.sim.GetStatus()
	for k, v := range h.sched.Status() {
		status[k] = v
	}
	return c.JSON(status)
}

// HandleCommand - WebSocket 명령 처리
func (h *SimulationHandler) HandleCommand(cmd models.CommandData) error {
	switch cmd.Action {
	case models.ActionStart:
		return h.sched.Start(cmd.SkipStartGate)
	case models.ActionStop:
		h.sched.Stop()
	case models.ActionPause:
		h.sched.TogglePause()
	case models.ActionReset:
		h.sim.Reset()
	case models.ActionButtonPress:
		h.sim.Robot().PressButton()
	case models.ActionButtonRelease:
		h.sim.Robot().ReleaseButton()
	case models.ActionButtonClick:
		h.sched.PressStartButton()
	default:
		return fmt.Errorf("알 수 없는 명령: %q", cmd.Action)
	}
	return nil
}

// statusForError - 서비스 오류 → HTTP 상태 코드
func statusForError(err error) int {
	var loadErr *services.ProgramLoadError
	switch {
	case errors.Is(err, services.ErrNoProgram):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrAssetNotFound):
		return fiber.StatusNotFound
	case errors.As(err, &loadErr),
		errors.Is(err, services.ErrMalformedMapFile),
		errors.Is(err, services.ErrUnsupportedMapVersion),
		errors.Is(err, services.ErrMapDimensions),
		errors.Is(err, services.ErrMissingMapImage),
		errors.Is(err, services.ErrMalformedMapImage):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
