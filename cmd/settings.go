package cmd

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/given/internal/formatting"
	"github.com/giantswarm/given/pkg/auth"
	"github.com/giantswarm/given/pkg/settings"
	pkgstrings "github.com/giantswarm/given/pkg/strings"
)

// maxValueLen bounds values shown in the settings table.
const maxValueLen = 80

func newSettingsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the resolved test settings",
		Long: `Show the settings a test run in the current directory would use, after
discovery, ${ENV:NAME} substitution and defaults. Secrets are masked.

Examples:
  given settings
  given settings --output yaml
  GIVEN_SETTINGS=ci.settings.yaml given settings`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := settingsSource()
			path, err := src.Path()
			if err != nil {
				return err
			}
			st, err := src.Load()
			if err != nil {
				return err
			}
			return printSettings(cmd.OutOrStdout(), path, st.Redacted(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, yaml)")
	return cmd
}

func printSettings(w io.Writer, path string, st *settings.Settings, output string) error {
	format, err := formatting.ParseFormat(output)
	if err != nil {
		return err
	}
	if format == formatting.FormatYAML {
		return formatting.YAML(w, st)
	}

	if path == "" {
		path = formatting.Muted("(none, defaults)")
	}
	t := formatting.NewTable(w, "KEY", "VALUE")
	t.AppendRow([]any{"file", path})
	for _, row := range settingsRows(st) {
		t.AppendRow([]any{row[0], pkgstrings.Truncate(row[1], maxValueLen)})
	}
	t.Render()
	return nil
}

// settingsRows flattens st into key/value pairs in display order.
func settingsRows(st *settings.Settings) [][2]string {
	rows := [][2]string{
		{"http.baseUrl", st.HTTP.BaseURL},
		{"http.timeout", st.HTTP.Timeout.String()},
	}
	for _, k := range sortedKeys(st.HTTP.Headers) {
		rows = append(rows, [2]string{"http.headers." + k, st.HTTP.Headers[k]})
	}
	rows = append(rows,
		[2]string{"http.auth", string(st.HTTP.Auth.AuthType())},
		[2]string{"kafka.bootstrapServers", strings.Join(st.Kafka.BootstrapServers, ",")},
		[2]string{"kafka.groupId", st.Kafka.GroupID},
		[2]string{"kafka.clientId", st.Kafka.ClientID},
		[2]string{"kafka.consumeTimeout", st.Kafka.ConsumeTimeout.String()},
		[2]string{"kafka.autoCreateTopics", strconv.FormatBool(st.Kafka.AutoCreate())},
		[2]string{"kafka.partitions", strconv.Itoa(st.Kafka.Partitions)},
		[2]string{"kafka.auth", kafkaAuthLabel(st.Kafka.Auth)},
		[2]string{"logging.level", st.Logging.Level},
	)
	return rows
}

func kafkaAuthLabel(cfg *auth.KafkaConfig) string {
	label := string(cfg.AuthType())
	if cfg != nil && cfg.SASL != nil && cfg.SASL.Username != "" {
		label += " (" + cfg.SASL.Username + ")"
	}
	return label
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
