package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/buscafornecedor/profiler/pkg/queue"
)

// enqueueHandler handles POST /api/v1/queue.
// Returns 202 when the job was enqueued and 200 when an active job for the
// same CNPJ already exists.
func (s *Server) enqueueHandler(c *gin.Context) {
	var req queue.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, inserted, err := s.store.Enqueue(c.Request.Context(), req)
	if err != nil {
		slog.Error("Failed to enqueue job", "cnpj", req.CNPJ, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	if !inserted {
		c.JSON(http.StatusOK, gin.H{
			"enqueued": false,
			"message":  "an active job already exists for this cnpj",
		})
		return
	}

	slog.Info("Job enqueued", "job_id", id, "cnpj", req.CNPJ)
	c.JSON(http.StatusAccepted, gin.H{"enqueued": true, "id": id})
}

// batchRequest is the body of POST /api/v1/queue/batch.
type batchRequest struct {
	Jobs []queue.EnqueueRequest `json:"jobs" binding:"required,min=1,dive"`
}

// enqueueBatchHandler handles POST /api/v1/queue/batch. Jobs with an active
// entry for the same CNPJ are counted as skipped, not errors.
func (s *Server) enqueueBatchHandler(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enqueued := 0
	skipped := 0
	for _, job := range req.Jobs {
		_, inserted, err := s.store.Enqueue(c.Request.Context(), job)
		if err != nil {
			slog.Error("Failed to enqueue batch job", "cnpj", job.CNPJ, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":    "failed to enqueue job",
				"cnpj":     job.CNPJ,
				"enqueued": enqueued,
				"skipped":  skipped,
			})
			return
		}
		if inserted {
			enqueued++
		} else {
			skipped++
		}
	}

	slog.Info("Batch enqueued", "enqueued", enqueued, "skipped", skipped)
	c.JSON(http.StatusAccepted, gin.H{"enqueued": enqueued, "skipped": skipped})
}

// queueMetricsHandler handles GET /api/v1/queue/metrics.
func (s *Server) queueMetricsHandler(c *gin.Context) {
	metrics, err := s.store.Metrics(c.Request.Context())
	if err != nil {
		slog.Error("Failed to query queue metrics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query queue metrics"})
		return
	}
	c.JSON(http.StatusOK, metrics)
}
