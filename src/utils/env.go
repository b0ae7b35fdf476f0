package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const DEV_ENV_FILENAME = ".env.development"
const PROD_ENV_FILENAME = ".env.production"

// InitEnvironmentVariables loads the .env file for the current GO_ENV from dir.
// An empty dir falls back to $PROJECTS_DIR/broker-bridge.
func InitEnvironmentVariables(dir string) error {
	if os.Getenv("ENV") == "production" {
		log.Info("Running in production environment")
		return nil
	}

	if dir == "" {
		projectsDir := os.Getenv("PROJECTS_DIR")
		if projectsDir == "" {
			return fmt.Errorf("PROJECTS_DIR environment variable not set")
		}

		dir = filepath.Join(projectsDir, "broker-bridge")
	}

	envFile := filepath.Join(dir, DEV_ENV_FILENAME)
	if os.Getenv("GO_ENV") == "production" {
		envFile = filepath.Join(dir, PROD_ENV_FILENAME)
	}

	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load %s file: %v", envFile, err)
	}

	log.Debugf("loaded environment from %s", envFile)
	return nil
}

// GetEnv returns the value of key, or fallback when it is unset.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}

	return fallback
}
