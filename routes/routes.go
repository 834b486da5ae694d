package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/IA-Academy-Team/checkout-service/controllers"
	"github.com/IA-Academy-Team/checkout-service/middleware"
)

// RegisterCheckoutRoutes sets up all checkout session routes.
func RegisterCheckoutRoutes(r *gin.Engine, cc *controllers.CheckoutController, tokens middleware.SessionValidator) {
	checkout := r.Group("/checkout/sessions")

	// Public: mounting a checkout issues the session token
	checkout.POST("", cc.CreateSession)

	// Protected: the token must belong to the session in the path
	session := checkout.Group("/:id")
	session.Use(middleware.SessionAuth(tokens))
	session.GET("", cc.GetSession)
	session.POST("/pay", cc.Pay)
	session.POST("/result", cc.SubmitResult)
	session.POST("/close", cc.Close)
	session.DELETE("", cc.DeleteSession)
}
