package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/buscafornecedor/profiler/pkg/llm"
)

// providersHealthHandler handles GET /api/v1/providers/health. It returns the
// dispatcher's per-provider scoring snapshot.
func (s *Server) providersHealthHandler(c *gin.Context) {
	providers := []llm.ProviderHealth{}
	if s.providers != nil {
		providers = s.providers.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}
