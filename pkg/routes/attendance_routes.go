package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jgirmay/pulse/pkg/http/middleware"
	"github.com/jgirmay/pulse/pkg/models"
	"github.com/jgirmay/pulse/pkg/services/attendance"
)

// RegisterAttendanceRoutes registers punch and break mutations. Every mutation
// response carries the txid clients wait for on the replication stream.
func RegisterAttendanceRoutes(router gin.IRouter, svc attendance.Service) {
	group := router.Group("/api/attendance/:orgId")
	{
		group.POST("/punch-in", recordAttendance(svc, models.AttendancePunchIn))
		group.POST("/punch-out", recordAttendance(svc, models.AttendancePunchOut))
		group.POST("/break-start", recordAttendance(svc, models.AttendanceBreakStart))
		group.POST("/break-end", recordAttendance(svc, models.AttendanceBreakEnd))
		group.GET("/me", getAttendanceState(svc))
	}
}

func recordAttendance(svc attendance.Service, kind models.AttendanceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		mutation, err := svc.Record(c.Request.Context(), middleware.UserID(c), c.Param("orgId"), kind)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, mutation)
	}
}

func getAttendanceState(svc attendance.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := svc.State(c.Request.Context(), middleware.UserID(c), c.Param("orgId"))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, state)
	}
}
