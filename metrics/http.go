package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler builds a gin engine serving the registry:
//
//	GET /metrics
//	{ "client_channels_open": 3 }
//
// Values are sampled per request.
func Handler(reg *Registry) *gin.Engine {
	// no logger
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Snapshot())
	})
	return r
}

// ListenAndServe serves the registry on addr. Blocks.
func ListenAndServe(addr string, reg *Registry) error {
	return Handler(reg).Run(addr)
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
