package router

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"

	"taskdeck/internal/auth"
	"taskdeck/internal/errors"
	"taskdeck/internal/handler"
)

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	jwtService *auth.JWTService,
	authHandler *handler.AuthHandler,
	taskHandler *handler.TaskHandler,
) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Validator = &CustomValidator{validator: validator.New()}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// Public routes
	e.POST("/auth/register", authHandler.Register)
	e.POST("/auth/login", authHandler.Login)
	e.POST("/auth/refresh", authHandler.Refresh)

	guard := AccessGuard(jwtService)

	// Secured routes (require a valid access token)
	e.POST("/auth/logout", authHandler.Logout, guard)

	tasks := e.Group("/tasks", guard)
	tasks.POST("", taskHandler.Create)
	tasks.GET("", taskHandler.List)
	tasks.GET("/:id", taskHandler.Get)
	tasks.PATCH("/:id", taskHandler.Update)
	tasks.PATCH("/:id/toggle", taskHandler.Toggle)
	tasks.DELETE("/:id", taskHandler.Delete)
}

// AccessGuard verifies the bearer access token and threads the authenticated
// user id into the request context. A missing Authorization header yields
// 401; a token that fails verification yields 403 without distinguishing
// expiry from a bad signature.
func AccessGuard(jwtService *auth.JWTService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ParseTokenFunc: func(c echo.Context, tokenString string) (interface{}, error) {
			return jwtService.VerifyAccessToken(tokenString)
		},
		SuccessHandler: func(c echo.Context) {
			if claims, ok := c.Get("user").(*auth.Claims); ok {
				c.Set(handler.ContextKeyUserID, claims.UserID)
			}
		},
		ErrorHandler: func(c echo.Context, err error) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
					Error: "access token required",
					Code:  "UNAUTHENTICATED",
				})
			}
			return echo.NewHTTPError(http.StatusForbidden, errors.ErrorResponse{
				Error: "invalid or expired access token",
				Code:  "FORBIDDEN",
			})
		},
	})
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
