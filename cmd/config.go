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
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Flag name prefix of the source database connection flags (used in CLI flags).
	SourceDBFlagPrefix = "db-"

	// Config key prefix the connection flags live under in the config file.
	SourceDBConfigPrefix = "source."
)

var allowedGlobalConfigKeys = mapset.NewThreadUnsafeSet[string](
	"output-dir", "log-level",
)

var allowedSourceConfigKeys = mapset.NewThreadUnsafeSet[string](
	"db-type", "db-host", "db-port", "db-user", "db-password", "db-name",
	"db-file", "db-ssl-mode", "db-ssl-cert", "db-ssl-key", "db-ssl-root-cert",
)

var allowedAnonymizeConfigKeys = mapset.NewThreadUnsafeSet[string](
	"dry-run", "disable-pb", "table-list", "exclude-table-list",
	"dienst-email-domain", "private-email-domain", "schueler-email-domain",
	"guardian-email-domain",
)

// Define allowed nested sections
var allowedConfigSections = map[string]mapset.Set[string]{
	"source":    allowedSourceConfigKeys,
	"anonymize": allowedAnonymizeConfigKeys,
}

// ConfigFlagOverride represents a CLI flag whose value was set from the config file.
// It captures the flag name, the corresponding config key that supplied the value,
// and the final value that was applied. This is useful for logging and debugging
type ConfigFlagOverride struct {
	FlagName  string
	ConfigKey string
	Value     string
}

/*
initConfig initializes the configuration for the given Cobra command.

	It performs the following steps:
	 1. Creates a new Viper instance to isolate config handling for the command.
	 2. Loads the config file if explicitly provided via --config, or defaults to ~/.svws-anonym.yaml.
	 3. Reads and validates the configuration file for allowed global keys, sections, and section keys.
	 4. Binds Viper config values to Cobra flags, giving priority to command-line flags over config values.
	 5. Returns a slice of ConfigFlagOverride structs, which represent the flags that were set from the config file.
	 6. If any error occurs during the process, it returns the error.

	This setup ensures CLI > Config precedence
*/
func initConfig(cmd *cobra.Command) ([]ConfigFlagOverride, error) {
	v := viper.New()

	// Precedence of which config file to use:
	// CLI Flag > ENV Variable > Default config file in home directory
	if cfgFile != "" {
		// Use config file from the flag.
		v.SetConfigFile(cfgFile)
	} else if os.Getenv("SVWS_ANONYM_CONFIG_FILE") != "" {
		// passed as an ENV variable by the name SVWS_ANONYM_CONFIG_FILE
		v.SetConfigFile(os.Getenv("SVWS_ANONYM_CONFIG_FILE"))
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		// Search config in home directory with name ".svws-anonym" (without extension).
		v.AddConfigPath(home)
		v.SetConfigName(".svws-anonym")
		v.SetConfigType("yaml")
	}

	// If a config file is found, read it in.
	if err := v.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", v.ConfigFileUsed())
	} else {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Validate the config file for allowed keys and sections
	err := validateConfigFile(v)
	if err != nil {
		return nil, err
	}

	// Bind the config values to the Cobra command flags
	overrides, err := bindCobraFlagsToViper(cmd, v)
	if err != nil {
		return nil, fmt.Errorf("failed to bind cobra flags to viper: %w", err)
	}

	return overrides, nil
}

/*
validateConfigFile checks the loaded configuration for correctness.

	It performs the following validations:
	1. Ensures that all global-level keys (non-nested) are in the allowed list.
	2. Ensures that all section names (e.g., anonymize) are known and valid.
	3. Ensures that all nested keys inside each section are valid for that section.

	Any invalid global keys, unknown sections, or invalid section keys are collected and printed.
	If any validation error is found, an error is returned.

	This helps catch misconfigurations early and provides comprehensive feedback to the user.
*/
func validateConfigFile(v *viper.Viper) error {

	invalidGlobalKeys := mapset.NewThreadUnsafeSet[string]()
	invalidSectionKeys := make(map[string]mapset.Set[string])
	invalidSections := mapset.NewThreadUnsafeSet[string]()

	for _, key := range v.AllKeys() {
		parts := strings.Split(key, ".")
		if len(parts) == 1 {
			// Check global level keys
			if !allowedGlobalConfigKeys.Contains(key) {
				invalidGlobalKeys.Add(key)
			}
		} else {
			// Validate section-based keys
			// The section is the first part of the key, the rest of the parts combined using "." are the nested key
			// For example: "a.b.c" -> section: "a", nestedKey: "b.c"
			section := parts[0]
			nestedKey := strings.Join(parts[1:], ".")

			allowedKeys, ok := allowedConfigSections[section]
			if !ok {
				// Unknown section
				invalidSections.Add(section)
				continue
			}

			if !allowedKeys.Contains(nestedKey) {
				// Invalid key inside a known section
				if _, exists := invalidSectionKeys[section]; !exists {
					invalidSectionKeys[section] = mapset.NewThreadUnsafeSet[string]()
				}
				invalidSectionKeys[section].Add(nestedKey)
			}
		}
	}

	// If invalid configurations exist, print them
	if invalidGlobalKeys.Cardinality() > 0 || len(invalidSectionKeys) > 0 || invalidSections.Cardinality() > 0 {
		if invalidGlobalKeys.Cardinality() > 0 {
			fmt.Printf("%s [%s]\n", color.RedString("Invalid global config keys:"), strings.Join(invalidGlobalKeys.ToSlice(), ", "))
		}
		for section, keys := range invalidSectionKeys {
			fmt.Printf("%s [%s]\n", color.RedString(fmt.Sprintf("Invalid keys in section '%s':", section)), strings.Join(keys.ToSlice(), ", "))
		}
		if invalidSections.Cardinality() > 0 {
			fmt.Printf("%s [%s]\n", color.RedString("Invalid sections:"), strings.Join(invalidSections.ToSlice(), ", "))
		}

		// Return a general error message
		return fmt.Errorf("found invalid configurations in config file: %s", v.ConfigFileUsed())
	}

	return nil
}

/*
bindCobraFlagsToViper binds configuration values from a Viper instance to the flags of a given Cobra command.

	It performs the following actions:
	 1. Derives a config key prefix based on the command path (replacing spaces with hyphens).
	 2. For each flag in the command:
	    - If the flag is not already set by the user:
	    - Checks for a matching value in Viper using the full prefixed key.
	    - Falls back to checking the global (non-prefixed) key.
	    - Flags starting with "db-" → looks under "source.<flag-name>"
	 3. If a value is found in Viper, the corresponding flag is set with that value.
	 4. If any error occurs during binding, it stops further processing and returns the error.
	 5. Also returns a slice of ConfigFlagOverride structs, which represent the flags that were
	    set from the config file. Should only be used if there are no errors.

	This function allows users to configure flags through the config file,
	while still letting command-line input take precedence.
*/
func bindCobraFlagsToViper(cmd *cobra.Command, v *viper.Viper) ([]ConfigFlagOverride, error) {
	var bindErr error
	var overrides []ConfigFlagOverride

	subCmdPath := strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name())
	subCmdPath = strings.TrimSpace(subCmdPath) // remove leading space if any
	// Replace spaces with hyphens
	configKeyPrefix := strings.ReplaceAll(subCmdPath, " ", "-")

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Changed {
			return // Skip already-set flags or if an error occurred
		}

		// Check for <command_path>.<flagname>
		if v.IsSet(configKeyPrefix + "." + f.Name) {
			val := v.GetString(configKeyPrefix + "." + f.Name)
			err := cmd.Flags().Set(f.Name, val)
			if err != nil {
				// In case of an error while setting the flag from viper, return the error
				bindErr = err
				return
			}
			overrides = append(overrides, ConfigFlagOverride{
				FlagName:  f.Name,
				ConfigKey: configKeyPrefix + "." + f.Name,
				Value:     val,
			})
		} else if v.IsSet(f.Name) {
			// Bind the global flag from viper to cmd
			val := v.GetString(f.Name)
			err := cmd.Flags().Set(f.Name, val)
			if err != nil {
				bindErr = err
				return
			}
			overrides = append(overrides, ConfigFlagOverride{
				FlagName:  f.Name,
				ConfigKey: f.Name,
				Value:     val,
			})
		} else if strings.HasPrefix(f.Name, SourceDBFlagPrefix) && v.IsSet(SourceDBConfigPrefix+f.Name) {
			// Handle source db connection flags: they keep their full flag name
			// inside the "source" section of the config file.
			val := v.GetString(SourceDBConfigPrefix + f.Name)
			err := cmd.Flags().Set(f.Name, val)
			if err != nil {
				bindErr = err
				return
			}
			overrides = append(overrides, ConfigFlagOverride{
				FlagName:  f.Name,
				ConfigKey: SourceDBConfigPrefix + f.Name,
				Value:     val,
			})
		}
		// If the flag is not set in viper, do nothing and leave it as is
		// This allows the flag to retain its default value or the value set by the user in the command line
	})

	return overrides, bindErr
}
