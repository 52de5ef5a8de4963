package controllers

import (
	"net/http"

	"github.com/qbitworks/simq/internal/queue"
	"github.com/qbitworks/simq/internal/repository"

	"github.com/gin-gonic/gin"
)

type queueStatsController struct {
	queue queue.JobQueue
	repo  repository.TaskRepository
}

func NewQueueStatsController(q queue.JobQueue, repo repository.TaskRepository) *queueStatsController {
	return &queueStatsController{queue: q, repo: repo}
}

func (h *queueStatsController) Handle(c *gin.Context) {
	depths, err := h.queue.Depths(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	counts, err := h.repo.StatusCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": depths, "tasks": counts})
}
