// Package main seeds task definitions into the configured store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Elevate-App/progression_layer/internal/app/domain/task"
	"github.com/Elevate-App/progression_layer/internal/app/storage"
	"github.com/Elevate-App/progression_layer/internal/app/storage/postgres"
	"github.com/Elevate-App/progression_layer/internal/app/storage/supabase"
	"github.com/Elevate-App/progression_layer/internal/config"
)

// seedFile is the on-disk format for task definitions.
type seedFile struct {
	Tasks []struct {
		TaskNumber int               `yaml:"task_number"`
		Title      string            `yaml:"title"`
		Kind       string            `yaml:"kind"`
		Reward     string            `yaml:"reward"`
		Condition  map[string]string `yaml:"condition"`
	} `yaml:"tasks"`
}

func main() {
	configPath := flag.String("config", "config/progression.yaml", "path to configuration file")
	tasksPath := flag.String("tasks", "config/tasks.yaml", "path to task definitions file")
	envFile := flag.String("env", "", "optional .env file with credentials")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env (%s): %v", *envFile, err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	store, cleanup, err := openTaskStore(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer cleanup()

	defs, err := readSeedFile(*tasksPath)
	if err != nil {
		log.Fatalf("read task definitions: %v", err)
	}

	ctx := context.Background()
	for _, def := range defs {
		if _, err := store.CreateDefinition(ctx, def); err != nil {
			log.Printf("task %d (%s): %v", def.TaskNumber, def.Title, err)
			continue
		}
		log.Printf("seeded task %d: %s (%s, reward %s)", def.TaskNumber, def.Title, def.Kind, def.Reward)
	}
}

func readSeedFile(path string) ([]task.Definition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	defs := make([]task.Definition, 0, len(file.Tasks))
	for _, entry := range file.Tasks {
		reward, err := decimal.NewFromString(entry.Reward)
		if err != nil {
			return nil, fmt.Errorf("task %d: invalid reward %q", entry.TaskNumber, entry.Reward)
		}
		defs = append(defs, task.Definition{
			TaskNumber: entry.TaskNumber,
			Title:      entry.Title,
			Kind:       entry.Kind,
			Reward:     reward,
			Condition:  entry.Condition,
		})
	}
	return defs, nil
}

func openTaskStore(cfg config.Config) (storage.TaskStore, func(), error) {
	noop := func() {}

	switch cfg.Store.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("migrate: %w", err)
		}
		return postgres.New(db), func() { db.Close() }, nil

	case "supabase":
		client, err := supabase.NewClient(supabase.Config{
			URL:        cfg.Supabase.URL,
			ServiceKey: cfg.Supabase.ServiceKey,
			Timeout:    cfg.Supabase.Timeout,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("supabase client: %w", err)
		}
		return supabase.NewStore(client), noop, nil

	default:
		return nil, noop, fmt.Errorf("seeding requires a persistent backend, got %q", cfg.Store.Backend)
	}
}
