package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/model"
	"taskdeck/internal/repository"
)

// SeedTask is one entry of the seed file.
type SeedTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      bool   `json:"status"`
}

// SeedFile describes the demo user and their tasks.
type SeedFile struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Tasks    []SeedTask `json:"tasks"`
}

func main() {
	file := flag.String("file", "seed.json", "path to the seed file")
	flag.Parse()

	log.Println("Starting seed script...")

	cfg := config.Load()

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to database")

	if err := gormDB.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	seed, err := readSeedFile(*file)
	if err != nil {
		log.Fatalf("Failed to read seed file: %v", err)
	}
	log.Printf("Loaded %d tasks for %s from %s", len(seed.Tasks), seed.Email, *file)

	ctx := context.Background()
	userRepo := repository.NewUserRepository(gormDB)
	taskRepo := repository.NewTaskRepository(gormDB)

	user, err := userRepo.FindByEmail(ctx, seed.Email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Fatalf("Failed to look up user: %v", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), 10)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		user = &model.User{Email: seed.Email, PasswordHash: string(hash)}
		if err := userRepo.Create(ctx, user); err != nil {
			log.Fatalf("Failed to create user: %v", err)
		}
		log.Printf("Created user %s", user.Email)
	} else {
		log.Printf("User %s already exists, reusing", user.Email)
	}

	created := 0
	for _, t := range seed.Tasks {
		task := &model.Task{
			UserID:      user.ID,
			Title:       t.Title,
			Description: t.Description,
			Status:      t.Status,
		}
		if err := taskRepo.Create(ctx, task); err != nil {
			log.Fatalf("Failed to create task %q: %v", t.Title, err)
		}
		created++
	}

	log.Printf("Seed complete: %d tasks created", created)
}

func readSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed SeedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, err
	}
	return &seed, nil
}
