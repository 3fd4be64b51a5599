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
	"os"
	"path/filepath"
	"strings"

	"github.com/nightlyone/lockfile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/svws-tools/svws-anonym/src/config"
	"github.com/svws-tools/svws-anonym/src/utils"
)

var (
	cfgFile   string
	outputDir string
	lockFile  lockfile.Lockfile
)

var rootCmd = &cobra.Command{
	Use:   "svws-anonym",
	Short: "A CLI tool to replace the personal data in an SVWS database copy with plausible substitutes",
	Long: `A CLI tool that rewrites the personally identifiable fields of an SVWS ("Schulverwaltungssoftware NRW")
database copy with synthetic but plausible German substitutes. It connects to a MariaDB server or opens a
SQLite snapshot, anonymizes students, guardians, teachers and credentials, wipes photos, and sweeps the
remaining tables for personal columns. Never point it at a production database.`,

	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd == cmd.Root() || cmd.Use == "version" {
			return
		}
		overrides, err := initConfig(cmd)
		if err != nil {
			utils.ErrExit("Error initializing config: %v", err)
		}
		if err := config.ValidateLogLevel(); err != nil {
			utils.ErrExit("Error: %v", err)
		}
		if cmd.Use == "list-schemas" {
			// No workspace for read-only commands; keep the console clean.
			InitLogging("", true, cmd.Use)
			return
		}
		validateOutputDirFlag()
		lockOutputDir()
		InitLogging(outputDir, false, cmd.Use)
		logConfigOverrides(overrides)
	},

	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			os.Exit(0)
		}
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if outputDir != "" && utils.FileOrFolderExists(outputDir) && cmd.Use != "version" && cmd.Use != "list-schemas" {
			unlockOutputDir()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func registerCommonGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", "",
		"output directory is the workspace used to keep the logs, reports and the lockfile (created if missing)")

	cmd.PersistentFlags().StringVarP(&config.LogLevel, "log-level", "l", "info",
		"log level for the run. Accepted values: (trace, debug, info, warn, error, fatal, panic)")

	cmd.PersistentFlags().BoolVarP(&utils.DoNotPrompt, "yes", "y", false,
		"assume answer as yes for all questions during the run (default false)")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"path to the config file (default is $HOME/.svws-anonym.yaml)")
}

func logConfigOverrides(overrides []ConfigFlagOverride) {
	for _, o := range overrides {
		value := o.Value
		if strings.Contains(o.FlagName, "password") {
			value = "XXX"
		}
		log.Infof("flag --%s set from config key %q = %s", o.FlagName, o.ConfigKey, value)
	}
}

func validateOutputDirFlag() {
	if outputDir == "" {
		utils.ErrExit(`ERROR: required flag "output-dir" not set`)
	}
	if outputDir == "." {
		fmt.Println("Note: Using current working directory as output directory")
	}
	outputDir = strings.TrimRight(outputDir, "/")
	if !utils.FileOrFolderExists(outputDir) {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			utils.ErrExit("creating output-dir %q: %v", outputDir, err)
		}
	}
}

func lockOutputDir() {
	lockFilePath, err := filepath.Abs(filepath.Join(outputDir, ".lockfile.lck"))
	if err != nil {
		utils.ErrExit("Failed to get absolute path for lockfile: %v\n", err)
	}
	createLock(lockFilePath)
}

func createLock(lockFileName string) {
	var err error
	lockFile, err = lockfile.New(lockFileName)
	if err != nil {
		utils.ErrExit("Failed to create lockfile %q: %v\n", lockFileName, err)
	}

	err = lockFile.TryLock()
	if err == nil {
		return
	} else if err == lockfile.ErrBusy {
		utils.ErrExit("Another instance of svws-anonym is running in the output-dir = %s\n", outputDir)
	} else {
		utils.ErrExit("Unable to lock the output-dir: %v\n", err)
	}
}

func unlockOutputDir() {
	err := lockFile.Unlock()
	if err != nil {
		utils.ErrExit("Unable to unlock %q: %v\n", lockFile, err)
	}
}
