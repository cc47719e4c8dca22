package main

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "taskdeck/docs" // swagger docs

	"taskdeck/internal/auth"
	"taskdeck/internal/cache"
	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/handler"
	"taskdeck/internal/model"
	"taskdeck/internal/repository"
	"taskdeck/internal/router"
	"taskdeck/internal/service"
)

// @title TaskDeck API
// @version 1.0
// @description Task management API with JWT authentication and owner-scoped task CRUD.
// @host localhost:5000
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg := config.Load()

	e := echo.New()
	e.Use(middleware.RequestID())

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("database init: %v", err)
	}

	if err := gormDB.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	userRepo := repository.NewUserRepository(gormDB)
	taskRepo := repository.NewTaskRepository(gormDB)

	jwtService := auth.NewJWTService(
		cfg.AccessTokenSecret,
		cfg.RefreshTokenSecret,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
	)

	authService := service.NewAuthService(userRepo, jwtService)
	taskService := service.NewTaskService(taskRepo, cacheClient)

	authHandler := handler.NewAuthHandler(authService)
	taskHandler := handler.NewTaskHandler(taskService)

	router.Register(e, jwtService, authHandler, taskHandler)

	addr := ":" + cfg.ServerPort
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server start: %v", err)
	}
}
