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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/svws-tools/svws-anonym/src/srcdb"
	"github.com/svws-tools/svws-anonym/src/utils"
)

var listSchemasCmd = &cobra.Command{
	Use:   "list-schemas",
	Short: "List the non-system schemas on a MariaDB server.",

	PreRun: func(cmd *cobra.Command, args []string) {
		if source.DBType == "" {
			source.DBType = srcdb.MARIADB
		}
		validateSourceDBType()
		if source.DBType != srcdb.MARIADB {
			utils.ErrExit("Error: list-schemas is only valid for the 'mariadb' db type")
		}
		setSourceDefaultPort()
		validatePortRange()
		validateSSLMode()
		if source.User == "" {
			utils.ErrExit(`Error: required flag "db-user" not set`)
		}
	},

	Run: func(cmd *cobra.Command, args []string) {
		listSchemasCommandFn()
	},
}

func init() {
	rootCmd.AddCommand(listSchemasCmd)
	registerCommonGlobalFlags(listSchemasCmd)
	registerSourceDBConnFlags(listSchemasCmd)
}

func listSchemasCommandFn() {
	if source.Password == "" {
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

	schemas, err := db.ListSchemas()
	if err != nil {
		utils.ErrExit("Failed to list the schemas: %v", err)
	}
	if len(schemas) == 0 {
		fmt.Println("No candidate schemas found on the server.")
		return
	}
	fmt.Println("Schemas:")
	for _, schema := range schemas {
		fmt.Printf("  %s\n", schema)
	}
}
