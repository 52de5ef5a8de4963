package controllers

import (
	"net/http"

	"github.com/qbitworks/simq/internal/services"

	"github.com/gin-gonic/gin"
)

type reconcileController struct{ svc services.ReconcilerService }

func NewReconcileController(svc services.ReconcilerService) *reconcileController {
	return &reconcileController{svc}
}

// Handle triggers one reconciliation sweep on demand, the same repair the
// background loop performs on its interval.
func (h *reconcileController) Handle(c *gin.Context) {
	n, err := h.svc.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}
