package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/cortado/internal/live/instructions"
	"github.com/xpanvictor/cortado/pkg/Logger"
)

type InstructionHandler struct {
	source instructions.Source
	logger *Logger.Logger
}

func NewInstructionHandler(source instructions.Source, logger *Logger.Logger) *InstructionHandler {
	return &InstructionHandler{
		source: source,
		logger: Logger.OrNop(logger).Named("instructions"),
	}
}

// GetInstructions serves the system-instruction document for a page
// @Summary Fetch a system-instruction document
// @Tags Instructions
// @Produce plain
// @Param page path string true "Page identifier"
// @Success 200 {string} string "YAML document"
// @Failure 400 {object} ErrorResponse "Invalid page id"
// @Failure 404 {object} ErrorResponse "No document for page"
// @Router /api/system-instructions/{page} [get]
func (h *InstructionHandler) GetInstructions(c *gin.Context) {
	page := c.Param("page")
	text, err := h.source.Get(page)
	if err != nil {
		switch {
		case errors.Is(err, instructions.ErrInvalidPage):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid page id", Details: err.Error()})
		case errors.Is(err, instructions.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Instructions not found", Details: page})
		default:
			h.logger.Errorf("load instructions %s: %v", page, err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		}
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}
