package controllers

import (
	"errors"
	"net/http"

	"github.com/qbitworks/simq/internal/services"
	"github.com/qbitworks/simq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type submitTaskController struct{ svc services.SubmissionService }

func NewSubmitTaskController(svc services.SubmissionService) *submitTaskController {
	return &submitTaskController{svc}
}

func (h *submitTaskController) Handle(c *gin.Context) {
	var req domain.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.TaskStatusResponse{Status: "error", Message: "Invalid request body."})
		return
	}

	task, err := h.svc.Submit(c.Request.Context(), req.QC, req.Shots)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPayload) {
			c.JSON(http.StatusBadRequest, domain.TaskStatusResponse{Status: "error", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, domain.TaskStatusResponse{Status: "error", Message: "Submission failed."})
		return
	}
	c.JSON(http.StatusAccepted, domain.SubmitTaskResponse{
		TaskID:  task.ID,
		Message: "Task submitted successfully.",
	})
}
