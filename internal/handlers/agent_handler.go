package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/cortado/internal/metrics"
	"github.com/xpanvictor/cortado/pkg/Logger"
)

const (
	maxAgentBody = 1 << 20
	relayChunk   = 32 * 1024
)

// AgentHandler relays analytics requests to the upstream data agent and
// streams its NDJSON answer back unchanged.
type AgentHandler struct {
	upstreamURL string
	client      *http.Client
	metrics     *metrics.Relay
	logger      *Logger.Logger
}

func NewAgentHandler(upstreamURL string, client *http.Client, m *metrics.Relay, logger *Logger.Logger) *AgentHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &AgentHandler{
		upstreamURL: upstreamURL,
		client:      client,
		metrics:     m,
		logger:      Logger.OrNop(logger).Named("agent-relay"),
	}
}

// Stream forwards the request body upstream
// @Summary Relay a question to the analytics agent
// @Tags Agent
// @Accept json
// @Produce application/x-ndjson
// @Success 200 {string} string "NDJSON stream of agent messages"
// @Failure 400 {object} ErrorResponse "Unreadable body"
// @Failure 502 {object} ErrorResponse "Upstream unavailable"
// @Failure 503 {object} ErrorResponse "No upstream configured"
// @Router /api/data-agent/stream [post]
func (h *AgentHandler) Stream(c *gin.Context) {
	if h.upstreamURL == "" {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "No analytics upstream configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAgentBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request data", Details: err.Error()})
		return
	}
	if len(body) > maxAgentBody {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large"})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, h.upstreamURL, bytes.NewReader(body))
	if err != nil {
		h.logger.Errorf("build upstream request: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warnf("upstream analytics call failed: %v", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Analytics upstream unavailable"})
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/x-ndjson"
	}
	c.Header("Content-Type", contentType)
	c.Status(resp.StatusCode)

	buf := make([]byte, relayChunk)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				h.logger.Debugf("client went away mid-stream: %v", werr)
				return
			}
			c.Writer.Flush()
			h.metrics.Streamed(n)
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) && c.Request.Context().Err() == nil {
				h.logger.Warnf("upstream stream broke: %v", rerr)
			}
			return
		}
	}
}
