package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/api"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleGetLink(c *gin.Context) {
	code, err := links.NewCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidCode})
		return
	}
	link, err := h.links.FindActive(c.Request.Context(), code, h.now())
	if err != nil {
		h.respondStorageError(c, "link lookup failed", err)
		return
	}
	if link == nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: api.ReasonNotFound})
		return
	}
	c.JSON(http.StatusOK, api.NewLinkPayload(*link))
}

func (h *httpHandler) handleListLinks(c *gin.Context) {
	creatorID, ok := creatorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: api.ReasonUnauthorized})
		return
	}
	owned, err := h.links.ListActiveByCreator(c.Request.Context(), creatorID, h.now())
	if err != nil {
		h.respondStorageError(c, "link listing failed", err)
		return
	}
	response := api.LinkListResponse{Links: make([]api.LinkPayload, 0, len(owned))}
	for _, link := range owned {
		response.Links = append(response.Links, api.NewLinkPayload(link))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateLink(c *gin.Context) {
	creatorID, ok := creatorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: api.ReasonUnauthorized})
		return
	}

	var request api.CreateLinkRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidRequest})
		return
	}
	code, err := links.NewCode(request.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidCode})
		return
	}
	content, err := links.NewContent(request.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidContent})
		return
	}
	if request.ExpiresAt != "" {
		if _, err := api.ParseTimestamp(request.ExpiresAt); err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidRequest})
			return
		}
	}

	createdAt := h.now().UTC().Truncate(time.Millisecond)
	candidate := links.Link{
		Code:      code,
		Content:   content,
		CreatedAt: createdAt,
		ExpiresAt: links.GenerateExpirationTime(createdAt),
		CreatorID: creatorID,
	}

	created, err := h.links.Insert(c.Request.Context(), candidate)
	switch {
	case errors.Is(err, links.ErrCodeTaken):
		c.JSON(http.StatusConflict, api.ErrorResponse{Error: api.ReasonCodeTaken, Code: links.ErrorCode(err)})
		return
	case errors.Is(err, links.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, api.ErrorResponse{Error: api.ReasonCapacityExceeded, Code: links.ErrorCode(err)})
		return
	case err != nil:
		h.respondStorageError(c, "link insert failed", err)
		return
	}

	h.publish(api.EventLinkCreated, created)
	h.logger.Info("link created",
		zap.String("code", created.Code.String()),
		zap.String("creator_id", creatorID.String()))
	c.JSON(http.StatusCreated, api.NewLinkPayload(created))
}

func (h *httpHandler) handleUpdateLink(c *gin.Context) {
	creatorID, ok := creatorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: api.ReasonUnauthorized})
		return
	}
	code, err := links.NewCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidCode})
		return
	}
	var request api.UpdateLinkRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidRequest})
		return
	}
	content, err := links.NewContent(request.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidContent})
		return
	}

	updated, err := h.links.UpdateContent(c.Request.Context(), code, creatorID, content, h.now())
	if errors.Is(err, links.ErrNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: api.ReasonNotFound})
		return
	}
	if err != nil {
		h.respondStorageError(c, "link update failed", err)
		return
	}

	h.publish(api.EventLinkUpdated, updated)
	c.JSON(http.StatusOK, api.NewLinkPayload(updated))
}

func (h *httpHandler) handleDeleteLink(c *gin.Context) {
	creatorID, ok := creatorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: api.ReasonUnauthorized})
		return
	}
	code, err := links.NewCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: api.ReasonInvalidCode})
		return
	}

	err = h.links.Delete(c.Request.Context(), code, creatorID)
	if errors.Is(err, links.ErrNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: api.ReasonNotFound})
		return
	}
	if err != nil {
		h.respondStorageError(c, "link delete failed", err)
		return
	}

	h.publish(api.EventLinkDeleted, links.Link{Code: code, CreatorID: creatorID})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondStorageError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: api.ReasonStorageFailed, Code: links.ErrorCode(err)})
}

func (h *httpHandler) publish(eventType string, link links.Link) {
	h.realtime.Publish(RealtimeMessage{
		CreatorID: link.CreatorID,
		EventType: eventType,
		Code:      link.Code,
		ExpiresAt: link.ExpiresAt,
		Timestamp: h.now().UTC(),
	})
}
