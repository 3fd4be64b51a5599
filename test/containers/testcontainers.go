package testcontainers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// containerRegistry to ensure one container per database(dbtype+version) [Singleton Pattern]
// Limitation - go test spawns different process for running tests of each package, hence the containers won't be shared across packages.
var (
	containerRegistry = make(map[string]TestContainer)
	registryMutex     sync.Mutex
)

type TestContainer interface {
	// lifecycle
	Start(ctx context.Context) error
	Terminate(ctx context.Context)

	// connectivity and config
	GetHostPort() (string, int, error)
	GetConfig() ContainerConfig
	GetConnectionString() string
	GetConnection() (*sql.DB, error)

	// SQL helpers
	Query(sql string, args ...interface{}) (*sql.Rows, error)
	ExecuteSqls(sqls ...string)
}

type ContainerConfig struct {
	DBType    string
	DBVersion string
	User      string
	Password  string
	DBName    string
}

func (config *ContainerConfig) buildContainerName(dbType string) string {
	return fmt.Sprintf("%s-%s", dbType, config.DBVersion)
}

func NewTestContainer(dbType string, containerConfig *ContainerConfig) TestContainer {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	// initialise containerConfig struct if nothing is provided
	if containerConfig == nil {
		containerConfig = &ContainerConfig{}
	}
	setContainerConfigDefaultsIfNotProvided(dbType, containerConfig)

	// check if container is already created after fetching default configs
	containerName := containerConfig.buildContainerName(dbType)
	if container, exists := containerRegistry[containerName]; exists {
		log.Infof("container '%s' already exists in the registry", containerName)
		return container
	}

	var testContainer TestContainer
	switch dbType {
	case MARIADB:
		testContainer = &MariaDBContainer{
			ContainerConfig: *containerConfig,
		}
	default:
		panic(fmt.Sprintf("unsupported db type '%q' for creating test container\n", dbType))
	}

	containerRegistry[containerName] = testContainer
	return testContainer
}

// TerminateAllContainers terminates every container in the registry. The
// testcontainers reaper (ryuk) cleans up anyway once the test process exits,
// this is for tests that want a deterministic teardown.
func TerminateAllContainers() {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	ctx := context.Background()
	for name, container := range containerRegistry {
		log.Infof("terminating the container '%s'", name)
		container.Terminate(ctx)
	}
}

func setContainerConfigDefaultsIfNotProvided(dbType string, config *ContainerConfig) {
	mariadbVersion := os.Getenv("MARIADB_VERSION")
	if mariadbVersion == "" {
		mariadbVersion = "10.6"
	}

	config.DBType = dbType
	switch dbType {
	case MARIADB:
		config.User = lo.Ternary(config.User == "", "svwsadmin", config.User)
		config.Password = lo.Ternary(config.Password == "", "password", config.Password)
		config.DBVersion = lo.Ternary(config.DBVersion == "", mariadbVersion, config.DBVersion)
		config.DBName = lo.Ternary(config.DBName == "", "svws", config.DBName)
	default:
		panic(fmt.Sprintf("unsupported db type '%q' for creating test container\n", dbType))
	}
}
