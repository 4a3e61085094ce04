package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/grillmaster/grillmaster/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing grillmaster configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format, with
credentials redacted.

You can redirect this output to a file to create a configuration template:

  grillmaster config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/grillmaster, $HOME/.grillmaster)
  - Environment variables (GRILLMASTER_SERVER_PORT, GEMINI_API_KEY, etc.)
  - Command-line flags (for some options)

Nested keys use the GRILLMASTER_ prefix and underscores:
server.port -> GRILLMASTER_SERVER_PORT. Provider credentials also accept
their flat legacy names (DASHSCOPE_API_KEY, OSS_ACCESS_KEY_ID, ...).`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map, formatting durations and byte
// sizes with their human-readable forms instead of raw integers.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case config.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		case time.Duration:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	redacted := appConfig.Redacted()

	yamlData, err := yaml.Marshal(toMap(&redacted))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# grillmaster Configuration File")
	fmt.Println("# ==============================")
	fmt.Println("#")
	fmt.Println("# Values reflect the current environment; credentials are redacted.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
