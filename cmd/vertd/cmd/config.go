package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// secretKeys are config keys whose values are never printed.
var secretKeys = map[string]bool{
	"password":   true,
	"secret_key": true,
	"access_key": true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing vertd configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration vertd would run with, in YAML format.

Values are merged from defaults, the config file and environment variables.
Passwords and keys are redacted. The output can seed a config file:

  vertd config show > config.yaml

Environment variables use the VERTD_ prefix and underscores for nesting.
Example: server.port -> VERTD_SERVER_PORT`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

// toMap converts a struct to a map keyed by mapstructure tags, formatting
// durations and sizes for human readability and redacting secrets.
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
		if !fieldType.IsExported() {
			continue
		}

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case fmt.Stringer:
			result[key] = v.String()
		case string:
			if secretKeys[key] && v != "" {
				result[key] = redacted
			} else {
				result[key] = v
			}
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

func runConfigShow(cmd *cobra.Command, _ []string) error {
	yamlData, err := yaml.Marshal(toMap(appConfig))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# vertd configuration")
	fmt.Fprintln(out, "# Duration format: 30s, 15m, 1h, 7d")
	fmt.Fprintln(out, "# Size format: 512MiB, 10GiB")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(yamlData))
	return nil
}
