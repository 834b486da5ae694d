package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	commonerrors "github.com/IA-Academy-Team/checkout-service/common/errors"
	"github.com/IA-Academy-Team/checkout-service/middleware"
	"github.com/IA-Academy-Team/checkout-service/models"
	"github.com/IA-Academy-Team/checkout-service/services"
)

// CheckoutController handles HTTP requests for checkout sessions.
// Session routes run behind middleware.SessionAuth, which resolves the session id.
type CheckoutController struct {
	sessionService services.SessionService
}

// NewCheckoutController creates a new CheckoutController.
func NewCheckoutController(svc services.SessionService) *CheckoutController {
	return &CheckoutController{sessionService: svc}
}

// respondError hands the failure to commonerrors.ErrorMiddleware for rendering.
func respondError(ctx *gin.Context, svcErr *services.ServiceError) {
	_ = ctx.Error(commonerrors.New(svcErr.StatusCode, svcErr.Message, svcErr))
	ctx.Abort()
}

func badRequest(ctx *gin.Context, err error) {
	_ = ctx.Error(commonerrors.New(http.StatusBadRequest, commonerrors.ErrBadRequest.Message, err))
	ctx.Abort()
}

// CreateSession handles POST /checkout/sessions
func (cc *CheckoutController) CreateSession(ctx *gin.Context) {
	resp, svcErr := cc.sessionService.Create(ctx.Request.Context())
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusCreated, resp)
}

// GetSession handles GET /checkout/sessions/:id
func (cc *CheckoutController) GetSession(ctx *gin.Context) {
	snap, svcErr := cc.sessionService.Get(ctx.Request.Context(), middleware.GetSessionID(ctx))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// Pay handles POST /checkout/sessions/:id/pay
func (cc *CheckoutController) Pay(ctx *gin.Context) {
	var req models.PayRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	resp, svcErr := cc.sessionService.Pay(ctx.Request.Context(), middleware.GetSessionID(ctx), &req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// SubmitResult handles POST /checkout/sessions/:id/result
func (cc *CheckoutController) SubmitResult(ctx *gin.Context) {
	var req models.ResultRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	snap, svcErr := cc.sessionService.SubmitResult(ctx.Request.Context(), middleware.GetSessionID(ctx), &req)
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// Close handles POST /checkout/sessions/:id/close
func (cc *CheckoutController) Close(ctx *gin.Context) {
	snap, svcErr := cc.sessionService.Close(ctx.Request.Context(), middleware.GetSessionID(ctx))
	if svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// DeleteSession handles DELETE /checkout/sessions/:id
func (cc *CheckoutController) DeleteSession(ctx *gin.Context) {
	if svcErr := cc.sessionService.Delete(ctx.Request.Context(), middleware.GetSessionID(ctx)); svcErr != nil {
		respondError(ctx, svcErr)
		return
	}
	ctx.Status(http.StatusNoContent)
}
