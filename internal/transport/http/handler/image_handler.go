package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tiendabot/internal/images"
	"tiendabot/internal/transport/http/response"
)

type ImageHandler struct {
	registry *images.Registry
}

func NewImageHandler(registry *images.Registry) *ImageHandler {
	return &ImageHandler{registry: registry}
}

func (h *ImageHandler) Upload(c *gin.Context) {
	data, filename, ok := readUpload(c)
	if !ok {
		return
	}

	title := c.PostForm("title")
	if title == "" {
		response.Fail(c, http.StatusBadRequest, "missing title field")
		return
	}

	entry, err := h.registry.Add(data, filename, title, c.PostForm("description"), c.PostForm("tags"))
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, "store image failed")
		return
	}
	response.Created(c, gin.H{"entry": entry, "url": h.registry.URL(entry)})
}

func (h *ImageHandler) List(c *gin.Context) {
	entries, err := h.registry.List()
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, "list images failed")
		return
	}

	type listItem struct {
		images.Entry
		URL string `json:"url"`
	}
	items := make([]listItem, len(entries))
	for i, e := range entries {
		items[i] = listItem{Entry: e, URL: h.registry.URL(&entries[i])}
	}
	response.OK(c, items)
}

func (h *ImageHandler) Delete(c *gin.Context) {
	entry, err := h.registry.Delete(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, "delete image failed")
		return
	}
	if entry == nil {
		response.Fail(c, http.StatusNotFound, "image not found")
		return
	}
	response.OK(c, entry)
}
