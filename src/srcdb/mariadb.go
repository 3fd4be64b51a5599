package srcdb

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"

	"github.com/go-sql-driver/mysql"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/svws-tools/svws-anonym/src/utils"
)

// systemSchemas are never offered for anonymization.
var systemSchemas = []string{"information_schema", "performance_schema", "mysql", "sys"}

type MariaDB struct {
	source *Source

	db *sql.DB
}

func newMariaDB(s *Source) *MariaDB {
	return &MariaDB{source: s}
}

func (m *MariaDB) Connect() error {
	db, err := sql.Open("mysql", m.getConnectionUri())
	m.db = db
	return err
}

func (m *MariaDB) Disconnect() {
	if m.db == nil {
		return
	}
	if err := m.db.Close(); err != nil {
		log.Errorf("failed to close connection to the source database: %s", err)
	}
}

func (m *MariaDB) Ping() error {
	return m.db.Ping()
}

func (m *MariaDB) getConnectionUri() string {
	source := m.source
	if source.Uri != "" {
		return source.Uri
	}

	var tlsString string
	switch source.SSLMode {
	case "disable":
		tlsString = "tls=false"
	case "prefer":
		tlsString = "tls=preferred"
	case "require":
		tlsString = "tls=skip-verify"
	case "verify-ca", "verify-full":
		tlsConf := createTLSConf(source)
		err := mysql.RegisterTLSConfig("custom", &tlsConf)
		if err != nil {
			utils.ErrExit("Failed to register TLS config: %s", err)
		}
		tlsString = "tls=custom"
	default:
		errMsg := "Incorrect SSL Mode Provided. Please enter a valid sslmode."
		panic(errMsg)
	}

	source.Uri = fmt.Sprintf("%s:%s@(%s:%d)/%s?%s&charset=utf8mb4", source.User, source.Password,
		source.Host, source.Port, source.DBName, tlsString)
	return source.Uri
}

func createTLSConf(source *Source) tls.Config {
	rootCertPool := x509.NewCertPool()
	if source.SSLRootCert != "" {
		pem, err := os.ReadFile(source.SSLRootCert)
		if err != nil {
			utils.ErrExit("error in reading SSL Root Certificate: %v", err)
		}
		if ok := rootCertPool.AppendCertsFromPEM(pem); !ok {
			utils.ErrExit("Failed to append PEM.")
		}
	} else {
		utils.ErrExit("Root Certificate Needed for verify-ca and verify-full SSL Modes")
	}
	clientCert := make([]tls.Certificate, 0, 1)

	if source.SSLCertPath != "" && source.SSLKey != "" {
		certs, err := tls.LoadX509KeyPair(source.SSLCertPath, source.SSLKey)
		if err != nil {
			utils.ErrExit("error in reading and parsing SSL KeyPair: %v", err)
		}
		clientCert = append(clientCert, certs)
	}

	if source.SSLMode == "verify-ca" {
		return tls.Config{
			RootCAs:            rootCertPool,
			Certificates:       clientCert,
			InsecureSkipVerify: true,
		}
	}
	// verify-full
	return tls.Config{
		RootCAs:            rootCertPool,
		Certificates:       clientCert,
		InsecureSkipVerify: false,
		ServerName:         source.Host,
	}
}

func (m *MariaDB) GetServerVersion() (string, error) {
	var version string
	query := "SELECT VERSION()"
	err := m.db.QueryRow(query).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("run query %q on source: %w", query, err)
	}
	m.source.DBVersion = version
	return version, nil
}

// ListSchemas returns every schema except the server's own, the candidates
// for anonymization.
func (m *MariaDB) ListSchemas() ([]string, error) {
	rows, err := m.db.Query("SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("query schema names: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return nil, fmt.Errorf("scan schema name: %w", err)
		}
		if !lo.Contains(systemSchemas, schema) {
			schemas = append(schemas, schema)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query schema names: %w", err)
	}
	return schemas, nil
}

func (m *MariaDB) GetAllTableNames() ([]string, error) {
	query := "SELECT table_name FROM information_schema.tables " +
		"WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name"
	rows, err := m.db.Query(query, m.source.DBName)
	if err != nil {
		return nil, fmt.Errorf("query table names of schema %s: %w", m.source.DBName, err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query table names of schema %s: %w", m.source.DBName, err)
	}
	log.Infof("GetAllTableNames(): %s", tableNames)
	return tableNames, nil
}

func (m *MariaDB) DescribeColumns(tableName string) ([]ColumnInfo, error) {
	query := "SELECT column_name, data_type FROM information_schema.columns " +
		"WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position"
	rows, err := m.db.Query(query, m.source.DBName, tableName)
	if err != nil {
		return nil, fmt.Errorf("describe columns of table %s: %w", tableName, err)
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.DataType); err != nil {
			return nil, fmt.Errorf("scan column of table %s: %w", tableName, err)
		}
		col.DataType = normalizeDataType(col.DataType)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe columns of table %s: %w", tableName, err)
	}
	return columns, nil
}

func (m *MariaDB) GetPrimaryKeyColumns(tableName string) ([]string, error) {
	query := "SELECT column_name FROM information_schema.key_column_usage " +
		"WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY' " +
		"ORDER BY ordinal_position"
	rows, err := m.db.Query(query, m.source.DBName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query primary key of table %s: %w", tableName, err)
	}
	defer rows.Close()

	var pkColumns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan primary key column of table %s: %w", tableName, err)
		}
		pkColumns = append(pkColumns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query primary key of table %s: %w", tableName, err)
	}
	return pkColumns, nil
}

func (m *MariaDB) CountRows(tableName string) (int64, error) {
	return countRows(m.db, tableName)
}

func (m *MariaDB) ColumnValues(tableName string, columnName string) ([]string, error) {
	return columnValues(m.db, tableName, columnName)
}

func (m *MariaDB) ReadRows(tableName string, pkColumns []string, columns []string) ([]Row, error) {
	return readRows(m.db, tableName, pkColumns, columns)
}

func (m *MariaDB) Begin() (*sql.Tx, error) {
	return m.db.Begin()
}
