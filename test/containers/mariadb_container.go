package testcontainers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	log "github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/svws-tools/svws-anonym/src/utils"
)

type MariaDBContainer struct {
	mutex sync.Mutex
	ContainerConfig
	container testcontainers.Container
}

func (mc *MariaDBContainer) Start(ctx context.Context) (err error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if mc.container != nil && mc.container.IsRunning() {
		utils.PrintAndLog("MariaDB-%s container already running", mc.DBVersion)
		return nil
	}

	// since Start() can be called from any package there is no stable relative
	// path to the schema file, so write the embedded copy to a temp file
	tmpFile, err := os.CreateTemp(os.TempDir(), "mariadb_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to create temp schema file: %w", err)
	}
	defer tmpFile.Close()

	if _, err := tmpFile.Write(mariadbInitSchemaFile); err != nil {
		return fmt.Errorf("failed to write to temp schema file: %w", err)
	}

	req := testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("mariadb:%s", mc.DBVersion),
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_ROOT_PASSWORD": mc.Password,
			"MARIADB_USER":          mc.User,
			"MARIADB_PASSWORD":      mc.Password,
			"MARIADB_DATABASE":      mc.DBName,
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(2 * time.Minute).WithPollInterval(5 * time.Second),
		Files: []testcontainers.ContainerFile{
			{
				HostFilePath:      tmpFile.Name(),
				ContainerFilePath: "docker-entrypoint-initdb.d/mariadb_schema.sql",
				FileMode:          0755,
			},
		},
	}

	mc.container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	printContainerLogs(mc.container)

	if err != nil {
		return fmt.Errorf("failed to start mariadb container: %w", err)
	}

	err = pingDatabase("mysql", mc.GetConnectionString())
	if err != nil {
		return fmt.Errorf("failed to ping mariadb container: %w", err)
	}
	return nil
}

func (mc *MariaDBContainer) Terminate(ctx context.Context) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if mc.container == nil {
		return
	}

	err := mc.container.Terminate(ctx)
	if err != nil {
		log.Errorf("failed to terminate mariadb container: %v", err)
	}
}

func (mc *MariaDBContainer) GetHostPort() (string, int, error) {
	if mc.container == nil {
		return "", -1, fmt.Errorf("mariadb container is not started: nil")
	}

	ctx := context.Background()
	host, err := mc.container.Host(ctx)
	if err != nil {
		return "", -1, fmt.Errorf("failed to fetch host for mariadb container: %w", err)
	}

	port, err := mc.container.MappedPort(ctx, nat.Port(DEFAULT_MARIADB_PORT))
	if err != nil {
		return "", -1, fmt.Errorf("failed to fetch mapped port for mariadb container: %w", err)
	}

	return host, port.Int(), nil
}

func (mc *MariaDBContainer) GetConfig() ContainerConfig {
	return mc.ContainerConfig
}

func (mc *MariaDBContainer) GetConnectionString() string {
	host, port, err := mc.GetHostPort()
	if err != nil {
		utils.ErrExit("failed to get host port for mariadb connection string: %v", err)
	}

	// DSN format: user:password@tcp(host:port)/dbname
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		mc.User, mc.Password, host, port, mc.DBName)
}

func (mc *MariaDBContainer) GetConnection() (*sql.DB, error) {
	if mc.container == nil {
		return nil, fmt.Errorf("mariadb container is not started: nil")
	}

	db, err := sql.Open("mysql", mc.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mariadb: %w", err)
	}

	return db, nil
}

func (mc *MariaDBContainer) ExecuteSqls(sqls ...string) {
	if mc == nil {
		utils.ErrExit("mariadb container is not started: nil")
	}

	db, err := sql.Open("mysql", mc.GetConnectionString())
	if err != nil {
		utils.ErrExit("failed to connect to mariadb for executing sqls: %v", err)
	}
	defer db.Close()

	for _, sqlStmt := range sqls {
		_, err := db.Exec(sqlStmt)
		if err != nil {
			utils.ErrExit("failed to execute sql '%s': %v", sqlStmt, err)
		}
	}
}

func (mc *MariaDBContainer) Query(sql string, args ...interface{}) (*sql.Rows, error) {
	db, err := mc.GetConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection for query: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	return rows, nil
}
