package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"robosim-backend/services"
)

// parseLimit - ?limit 파싱 (기본 100)
func parseLimit(c *fiber.Ctx) int {
	limit, err := strconv.Atoi(c.Query("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	return limit
}

func (h *SimulationHandler) storeUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "Asset store is not configured",
	})
}

// HandleListMaps - 저장된 맵 목록
func (h *SimulationHandler) HandleListMaps(c *fiber.Ctx) error {
	if h.store == nil {
		return h.storeUnavailable(c)
	}

	maps, err := h.store.ListMaps(parseLimit(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch maps",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(maps),
		"maps":    maps,
	})
}

// HandleListPrograms - 저장된 프로그램 목록
func (h *SimulationHandler) HandleListPrograms(c *fiber.Ctx) error {
	if h.store == nil {
		return h.storeUnavailable(c)
	}

	programs, err := h.store.ListPrograms(parseLimit(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch programs",
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"count":    len(programs),
		"programs": programs,
	})
}

// HandleLoadStoredMap - 저장된 맵을 시뮬레이터에 설치
func (h *SimulationHandler) HandleLoadStoredMap(c *fiber.Ctx) error {
	if h.store == nil {
		return h.storeUnavailable(c)
	}

	rec, err := h.store.GetMap(c.Params("id"))
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	m, err := services.DecodeMapFile(rec.Payload)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := h.sched.SwapMap(m); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"id":        rec.ID,
		"name":      rec.Name,
		"map_id":    m.ID,
		"run_state": h.sched.State(),
	})
}

// HandleLoadStoredProgram - 저장된 프로그램을 다음 실행용으로 로드
func (h *SimulationHandler) HandleLoadStoredProgram(c *fiber.Ctx) error {
	if h.store == nil {
		return h.storeUnavailable(c)
	}

	rec, err := h.store.GetProgram(c.Params("id"))
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.sched.LoadProgram(rec.Name, rec.Source); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"id":      rec.ID,
		"name":    rec.Name,
		"size":    rec.Size,
	})
}
