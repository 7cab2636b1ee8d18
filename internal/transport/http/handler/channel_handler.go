package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tiendabot/internal/app"
	"tiendabot/internal/channel"
	"tiendabot/internal/transport/http/response"
)

type ChannelHandler struct {
	channels *channel.Manager
	chat     *app.ChatService
	logger   zerolog.Logger
}

func NewChannelHandler(channels *channel.Manager, chat *app.ChatService, logger zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{
		channels: channels,
		chat:     chat,
		logger:   logger.With().Str("component", "channel_handler").Logger(),
	}
}

func (h *ChannelHandler) Statuses(c *gin.Context) {
	response.OK(c, h.channels.Statuses(c.Request.Context()))
}

func (h *ChannelHandler) Connect(c *gin.Context) {
	ch, ok := h.channels.Get(channel.Type(c.Param("type")))
	if !ok {
		response.Fail(c, http.StatusNotFound, "channel not configured")
		return
	}

	result, err := ch.Connect(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusBadGateway, err.Error())
		return
	}
	response.OK(c, result)
}

func (h *ChannelHandler) Disconnect(c *gin.Context) {
	ch, ok := h.channels.Get(channel.Type(c.Param("type")))
	if !ok {
		response.Fail(c, http.StatusNotFound, "channel not configured")
		return
	}
	if err := ch.Disconnect(c.Request.Context()); err != nil {
		response.Fail(c, http.StatusBadGateway, err.Error())
		return
	}
	response.OK(c, nil)
}

// EvolutionWebhook receives gateway pushes. It always answers 200 so the
// gateway never retries; failures are logged and dropped.
func (h *ChannelHandler) EvolutionWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusOK)
		return
	}

	ch, ok := h.channels.Get(channel.TypeWhatsApp)
	if !ok {
		c.Status(http.StatusOK)
		return
	}

	incoming, err := ch.ParseInbound(body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("unparseable webhook payload")
		c.Status(http.StatusOK)
		return
	}

	for _, in := range incoming {
		if err := h.chat.HandleChannelInbound(c.Request.Context(), in); err != nil {
			h.logger.Error().Err(err).Str("phone", in.PhoneNumber).Msg("inbound message handling failed")
		}
	}
	c.Status(http.StatusOK)
}
