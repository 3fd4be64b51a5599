/*
Copyright (c) SVWS Tools contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
	"golang.org/x/term"

	"github.com/svws-tools/svws-anonym/src/anonymize"
	"github.com/svws-tools/svws-anonym/src/srcdb"
	"github.com/svws-tools/svws-anonym/src/utils"
)

const MARIADB_DEFAULT_PORT = 3306

var supportedSourceDBTypes = []string{srcdb.MARIADB, srcdb.SQLITE}

var validSSLModes = []string{"disable", "prefer", "require", "verify-ca", "verify-full"}

var source srcdb.Source

var (
	dryRun    bool
	disablePb bool

	dienstEmailDomain   string
	privateEmailDomain  string
	schuelerEmailDomain string
	guardianEmailDomain string
)

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize",
	Short: "Anonymize the personal data in an SVWS database copy.",
	Long: `Anonymize the personal data in an SVWS database copy. Students, guardians, teachers and
credentials receive substituted identities, photos are wiped, and the remaining tables are swept
for columns whose names indicate personal data. Each table is committed as one transaction.`,

	PreRun: func(cmd *cobra.Command, args []string) {
		validateAnonymizeFlags()
	},

	Run: func(cmd *cobra.Command, args []string) {
		anonymizeCommandFn()
	},
}

func init() {
	rootCmd.AddCommand(anonymizeCmd)
	registerCommonGlobalFlags(anonymizeCmd)
	registerSourceDBConnFlags(anonymizeCmd)

	anonymizeCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"only report the changes the run would make, write nothing to the database")

	anonymizeCmd.Flags().BoolVar(&disablePb, "disable-pb", false,
		"disable progress bars during the run (default false)")

	anonymizeCmd.Flags().StringVar(&source.TableList, "table-list", "",
		"comma-separated list of tables the generic sweep is restricted to")

	anonymizeCmd.Flags().StringVar(&source.ExcludeTableList, "exclude-table-list", "",
		"comma-separated list of tables the generic sweep skips")

	anonymizeCmd.Flags().StringVar(&dienstEmailDomain, "dienst-email-domain", "",
		"domain suffix for substituted work email addresses (default \"dienst.schule-nrw.de\")")

	anonymizeCmd.Flags().StringVar(&privateEmailDomain, "private-email-domain", "",
		"domain suffix for substituted private email addresses (default \"example-mail.de\")")

	anonymizeCmd.Flags().StringVar(&schuelerEmailDomain, "schueler-email-domain", "",
		"domain suffix for substituted student school email addresses (default \"schueler.schule-nrw.de\")")

	anonymizeCmd.Flags().StringVar(&guardianEmailDomain, "guardian-email-domain", "",
		"domain suffix for derived guardian email addresses (default \"mail-beispiel.de\")")
}

func registerSourceDBConnFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&source.DBType, "db-type", "",
		fmt.Sprintf("source database type: (%s)", strings.Join(supportedSourceDBTypes, ", ")))

	cmd.Flags().StringVar(&source.Host, "db-host", "localhost",
		"source database server host")

	cmd.Flags().IntVar(&source.Port, "db-port", -1,
		"source database server port number (default: mariadb=3306)")

	cmd.Flags().StringVar(&source.User, "db-user", "",
		"connect to the source database as the specified user")

	cmd.Flags().StringVar(&source.Password, "db-password", "",
		"password to connect as the specified user. Alternatively, you can also specify the password by setting the environment variable SVWS_ANONYM_DB_PASSWORD. If you don't provide a password via the CLI or environment variable, you will be prompted at runtime")

	cmd.Flags().StringVar(&source.DBName, "db-name", "",
		"source schema name to anonymize. When omitted on mariadb, the non-system schemas on the server are listed for selection")

	cmd.Flags().StringVar(&source.DBFile, "db-file", "",
		"path to the SQLite snapshot file (sqlite only)")

	cmd.Flags().StringVar(&source.SSLMode, "db-ssl-mode", "prefer",
		fmt.Sprintf("SSL mode for the source database connection: (%s)", strings.Join(validSSLModes, ", ")))

	cmd.Flags().StringVar(&source.SSLCertPath, "db-ssl-cert", "",
		"source SSL certificate path")

	cmd.Flags().StringVar(&source.SSLKey, "db-ssl-key", "",
		"source SSL key path")

	cmd.Flags().StringVar(&source.SSLRootCert, "db-ssl-root-cert", "",
		"source SSL root certificate path")
}

func validateAnonymizeFlags() {
	validateSourceDBType()
	switch source.DBType {
	case srcdb.MARIADB:
		setSourceDefaultPort()
		validatePortRange()
		validateSSLMode()
		if source.User == "" {
			utils.ErrExit(`Error: required flag "db-user" not set for the mariadb db type`)
		}
	case srcdb.SQLITE:
		if source.DBFile == "" {
			utils.ErrExit(`Error: required flag "db-file" not set for the sqlite db type`)
		}
		if !utils.FileOrFolderExists(source.DBFile) {
			utils.ErrExit("Error: db-file %q does not exist", source.DBFile)
		}
	}
}

func validateSourceDBType() {
	if source.DBType == "" {
		utils.ErrExit(`Error: required flag "db-type" not set`)
	}

	source.DBType = strings.ToLower(source.DBType)
	if !slices.Contains(supportedSourceDBTypes, source.DBType) {
		utils.ErrExit("Error: Invalid db-type: %q. Supported source db types are: %s", source.DBType, supportedSourceDBTypes)
	}
}

func setSourceDefaultPort() {
	if source.Port != -1 {
		return
	}
	source.Port = MARIADB_DEFAULT_PORT
}

func validatePortRange() {
	if source.Port < 0 || source.Port > 65535 {
		utils.ErrExit("Error: Invalid port number %d. Valid range is 0-65535", source.Port)
	}
}

func validateSSLMode() {
	if !slices.Contains(validSSLModes, source.SSLMode) {
		utils.ErrExit("Error: Invalid sslmode: %q. Valid SSL modes are %v", source.SSLMode, validSSLModes)
	}
}

func anonymizeCommandFn() {
	if source.DBType == srcdb.MARIADB && source.Password == "" {
		password, err := askPassword("source DB", source.User, "SVWS_ANONYM_DB_PASSWORD")
		if err != nil {
			utils.ErrExit("Error while getting source DB password: %v", err)
		}
		source.Password = password
	}

	db := source.DB()
	if err := db.Connect(); err != nil {
		utils.ErrExit("Failed to connect to the source database: %v", err)
	}
	defer db.Disconnect()
	if err := db.Ping(); err != nil {
		utils.ErrExit("Failed to ping the source database: %v", err)
	}

	if source.DBType == srcdb.MARIADB && source.DBName == "" {
		schemaName, err := selectSchemaInteractively(db)
		if err != nil {
			utils.ErrExit("Error selecting the schema: %v", err)
		}
		db.Disconnect()
		source.DBName = schemaName
		source.Uri = "" // force a fresh DSN with the chosen schema
		if err := db.Connect(); err != nil {
			utils.ErrExit("Failed to connect to schema %q: %v", schemaName, err)
		}
	}

	if !dryRun {
		fmt.Println(color.RedString("WARNING: this run overwrites the personal data in %q irreversibly. Only ever run it against a copy of the database.", sourceLabel()))
		if !utils.AskPrompt("Do you want to continue") {
			utils.ErrExit("Aborting the run.")
		}
	}

	opts := anonymize.Options{
		DryRun:              dryRun,
		DisablePb:           disablePb,
		ReportDir:           filepath.Join(outputDir, "reports"),
		DienstEmailDomain:   dienstEmailDomain,
		PrivateEmailDomain:  privateEmailDomain,
		SchuelerEmailDomain: schuelerEmailDomain,
		GuardianEmailDomain: guardianEmailDomain,
	}
	if source.TableList != "" {
		opts.TableList = utils.CsvStringToSlice(source.TableList)
	}
	if source.ExcludeTableList != "" {
		opts.ExcludeTableList = utils.CsvStringToSlice(source.ExcludeTableList)
	}

	p := anonymize.NewPipeline(db, &source, opts)
	log.Infof("starting anonymization run %s against %s", p.RunID(), sourceLabel())
	if err := p.Run(); err != nil {
		utils.ErrExit("anonymize: %v", err)
	}
}

func sourceLabel() string {
	if source.DBType == srcdb.SQLITE {
		return source.DBFile
	}
	return source.DBName
}

// selectSchemaInteractively lists the candidate schemas on the server and asks
// the user to pick one by number. Mirrors the workflow of connecting without a
// schema and choosing interactively.
func selectSchemaInteractively(db srcdb.SourceDB) (string, error) {
	schemas, err := db.ListSchemas()
	if err != nil {
		return "", fmt.Errorf("listing schemas: %w", err)
	}
	if len(schemas) == 0 {
		return "", fmt.Errorf("no candidate schemas found on the server")
	}
	fmt.Println("Available schemas:")
	for i, schema := range schemas {
		fmt.Printf("  %d. %s\n", i+1, schema)
	}
	fmt.Printf("Enter the number of the schema to anonymize [1-%d]: ", len(schemas))
	reader := bufio.NewReader(os.Stdin)
	line, err := utils.Readline(reader)
	if err != nil {
		return "", fmt.Errorf("reading the schema selection: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(schemas) {
		return "", fmt.Errorf("invalid schema selection %q", strings.TrimSpace(line))
	}
	return schemas[n-1], nil
}

func askPassword(destination string, user string, envVar string) (string, error) {
	if os.Getenv(envVar) != "" {
		return os.Getenv(envVar), nil
	}

	if user == "" {
		fmt.Printf("Password to connect to %s (In addition, you can also set the password using the environment variable '%s'): ",
			destination, envVar)
	} else {
		fmt.Printf("Password to connect to '%s' user of %s (In addition, you can also set the password using the environment variable '%s'): ",
			user, destination, envVar)
	}
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Print("\n")
	return string(bytePassword), nil
}
