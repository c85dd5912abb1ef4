package handler

import (
	"context"
	"net/http"

	"squadlink/internal/domain/conversation"
	"squadlink/internal/services"
	"squadlink/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// ConversationLister reads a viewer's conversation list.
type ConversationLister interface {
	FetchConversations(ctx context.Context, viewerID string) ([]conversation.Summary, error)
}

type ConversationHandler struct {
	store ConversationLister
}

func NewConversationHandler(store ConversationLister) *ConversationHandler {
	return &ConversationHandler{store: store}
}

// List returns the viewer's conversations, most recent first. Clients use it
// to render the list before a websocket is up.
func (h *ConversationHandler) List(c *gin.Context) {
	viewerID, ok := services.ViewerIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	rows, err := h.store.FetchConversations(c.Request.Context(), viewerID)
	if err != nil {
		c.Error(err)
		c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse("failed to load conversations", "REQUEST_FAILED"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ToConversationDTOs(rows)))
}
