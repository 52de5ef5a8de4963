package controllers

import (
	"net/http"

	"github.com/qbitworks/simq/internal/services"
	"github.com/qbitworks/simq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type getTaskController struct{ svc services.StatusService }

func NewGetTaskController(svc services.StatusService) *getTaskController {
	return &getTaskController{svc}
}

func (h *getTaskController) Handle(c *gin.Context) {
	view, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		// Store unreachable: degrade to a terminal-looking error rather than
		// hanging or leaking internals.
		c.JSON(http.StatusServiceUnavailable, domain.TaskStatusResponse{Status: "error", Message: "Status temporarily unavailable."})
		return
	}
	c.JSON(view.HTTPStatus, view.Body)
}
