package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DutyRequest starts or ends a shift.
type DutyRequest struct {
	OnDuty *bool `json:"on_duty" binding:"required" example:"true"`
}

// DutyResponse reports the new shift state.
type DutyResponse struct {
	StaffID  string `json:"staff_id"`
	OnDuty   bool   `json:"on_duty"`
	Sessions int64  `json:"sessions"`
}

// SetDuty godoc
// @ID          setDuty
// @Summary     Start or end a shift
// @Description Applies to every chat session linked to the staff member. Only on-duty sessions receive new-order messages.
// @Tags        Staff
// @Accept      json
// @Produce     json
// @Param       X-Staff-ID  header  string  true  "Acting staff member, must equal id"
// @Param       id          path    string  true  "Staff ID"  format(uuid)
// @Param       body        body    handlers.DutyRequest  true  "Shift state"
// @Success     200  {object} handlers.DutyResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing staff header"
// @Failure     403  {object} handlers.ErrorResponse "Another staff member, or inactive"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /staff/{id}/duty [put]
func (hs *Handlers) SetDuty(c *gin.Context) {
	sid := staffID(c)
	if sid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Staff-ID header required")
		return
	}
	if sid != c.Param("id") {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "staff may only change their own shift")
		return
	}
	var req DutyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OnDuty == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "on_duty required")
		return
	}
	n, err := hs.staff.SetDuty(c.Request.Context(), sid, *req.OnDuty)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, DutyResponse{StaffID: sid, OnDuty: *req.OnDuty, Sessions: n})
}
