package routes

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/jgirmay/pulse/pkg/errors"
	"github.com/jgirmay/pulse/pkg/http/middleware"
	"github.com/jgirmay/pulse/pkg/models"
	"github.com/jgirmay/pulse/pkg/services/presence"
)

// Watcher serves the realtime presence feed for one organization
type Watcher interface {
	Serve(w http.ResponseWriter, r *http.Request, userID, orgID string) error
}

// HeartbeatRequest is the full signal snapshot. Every signal is required so a
// missing field is never read as false.
type HeartbeatRequest struct {
	PunchedIn    *bool   `json:"punchedIn" binding:"required"`
	OnBreak      *bool   `json:"onBreak" binding:"required"`
	InCall       *bool   `json:"inCall" binding:"required"`
	InMeeting    *bool   `json:"inMeeting" binding:"required"`
	IsTabFocused *bool   `json:"isTabFocused" binding:"required"`
	IsIdle       *bool   `json:"isIdle" binding:"required"`
	ManualStatus *string `json:"manualStatus" binding:"omitempty,presence_status"`
}

// Signals converts the request into the stored signal set
func (r HeartbeatRequest) Signals() models.Signals {
	return models.Signals{
		PunchedIn:    *r.PunchedIn,
		OnBreak:      *r.OnBreak,
		InCall:       *r.InCall,
		InMeeting:    *r.InMeeting,
		IsTabFocused: *r.IsTabFocused,
		IsIdle:       *r.IsIdle,
	}
}

// ManualStatusRequest sets or clears (empty string) the override
type ManualStatusRequest struct {
	Status *string `json:"status" binding:"required,presence_status"`
}

// BulkStatusRequest asks for the status of up to 1000 users at once
type BulkStatusRequest struct {
	UserIDs []string `json:"userIds" binding:"required,max=1000"`
}

var registerValidators sync.Once

// RegisterPresenceRoutes registers the presence API and the watch feed
func RegisterPresenceRoutes(router gin.IRouter, svc presence.Service, watcher Watcher) {
	registerValidators.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("presence_status", validatePresenceStatus)
		}
	})

	group := router.Group("/api/presence/:orgId")
	{
		group.POST("/heartbeat", recordHeartbeat(svc))
		group.PUT("/manual-status", setManualStatus(svc))
		group.GET("", getOrgPresence(svc))
		group.GET("/users/:userId", getUserStatus(svc))
		group.POST("/bulk", getBulkStatus(svc))
		if watcher != nil {
			group.GET("/watch", watchPresence(watcher))
		}
	}
}

func validatePresenceStatus(fl validator.FieldLevel) bool {
	return models.ManualStatus(fl.Field().String()).Valid()
}

func recordHeartbeat(svc presence.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req HeartbeatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}

		var manual *models.ManualStatus
		if req.ManualStatus != nil {
			m := models.ManualStatus(*req.ManualStatus)
			manual = &m
		}

		record, err := svc.RecordHeartbeat(c.Request.Context(), middleware.UserID(c), c.Param("orgId"), req.Signals(), manual)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": record.Status,
			"record": record,
		})
	}
}

func setManualStatus(svc presence.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ManualStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}

		ok, err := svc.SetManualOverride(c.Request.Context(), middleware.UserID(c), c.Param("orgId"), models.ManualStatus(*req.Status))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": ok})
	}
}

func getOrgPresence(svc presence.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := svc.GetOrgPresence(c.Request.Context(), c.Param("orgId"))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"presence": records})
	}
}

func getUserStatus(svc presence.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		status, err := svc.GetStatus(c.Request.Context(), userID, c.Param("orgId"))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"userId": userID,
			"status": status,
		})
	}
}

func getBulkStatus(svc presence.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BulkStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}

		statuses, err := svc.GetBulkStatus(c.Request.Context(), c.Param("orgId"), req.UserIDs)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"statuses": statuses})
	}
}

func watchPresence(watcher Watcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := watcher.Serve(c.Writer, c.Request, middleware.UserID(c), c.Param("orgId"))
		switch {
		case err == nil:
		case errors.Is(err, presence.ErrInvalidInput), errors.Is(err, presence.ErrStoreUnavailable):
			respondError(c, err)
		default:
			respondAppError(c, apperrors.Unavailable("presence feed", ""), err)
		}
	}
}
