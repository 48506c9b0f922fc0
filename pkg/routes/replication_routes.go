package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ShapeForwarder proxies shape subscriptions to the replication service
type ShapeForwarder interface {
	Forward(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// RegisterReplicationRoutes registers the authenticated shape proxy
func RegisterReplicationRoutes(router gin.IRouter, proxy ShapeForwarder) {
	router.GET("/v1/shape", forwardShape(proxy))
}

func forwardShape(proxy ShapeForwarder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := proxy.Forward(c.Request.Context(), c.Writer, c.Request); err != nil {
			respondError(c, err)
		}
	}
}
