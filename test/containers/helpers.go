package testcontainers

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/testcontainers/testcontainers-go"
)

const (
	DEFAULT_MARIADB_PORT = "3306"

	MARIADB = "mariadb"
)

//go:embed test_schemas/mariadb_schema.sql
var mariadbInitSchemaFile []byte

func printContainerLogs(container testcontainers.Container) {
	if container == nil {
		log.Printf("Cannot fetch logs: container is nil")
		return
	}

	containerID := container.GetContainerID()
	logs, err := container.Logs(context.Background())
	if err != nil {
		log.Printf("Error fetching logs for container %s: %v", containerID, err)
		return
	}
	defer logs.Close()

	// Read the logs
	logData, err := io.ReadAll(logs)
	if err != nil {
		log.Printf("Error reading logs for container %s: %v", containerID, err)
		return
	}

	fmt.Printf("=== Logs for container %s ===\n%s\n=== End of Logs for container %s ===\n", containerID, string(logData), containerID)
}

// pingDatabase waits until the database behind the connection string accepts
// connections. The container wait strategy only covers the listening port,
// MariaDB completes its init scripts after that.
func pingDatabase(driver string, connectionString string) error {
	db, err := sql.Open(driver, connectionString)
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	defer db.Close()

	var pingErr error
	for attempt := 0; attempt < 24; attempt++ {
		if pingErr = db.Ping(); pingErr == nil {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
	return fmt.Errorf("failed to ping the database: %w", pingErr)
}
