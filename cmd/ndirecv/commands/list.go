package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/function-store/RpiSimpleNDI/internal/config"
	"github.com/function-store/RpiSimpleNDI/internal/logger"
	"github.com/function-store/RpiSimpleNDI/internal/source"
	"github.com/function-store/RpiSimpleNDI/internal/transport/ndi"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List NDI sources on the network",
	Long: `Scan the local network for NDI sources and print them.

Each source is shown with its logical name and whether it matches the
configured pattern.`,
	Example: `  # List sources in table format (default)
  ndirecv list

  # List sources in JSON format
  ndirecv list --format json

  # Scan for longer on a slow network
  ndirecv list --timeout 5s`,
	RunE: runList,
}

var (
	listFormat  string
	listTimeout time.Duration
)

type listedSource struct {
	Name        string `json:"name"`
	LogicalName string `json:"logicalName"`
	Matched     bool   `json:"matched"`
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().DurationVarP(&listTimeout, "timeout", "t", 3*time.Second, "discovery scan timeout")
}

func runList(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	logger.Init("warn", true)

	if viper.IsSet("source_pattern") {
		if pattern := viper.GetString("source_pattern"); pattern != "" {
			cfg.SourcePattern = pattern
		}
	}

	matcher, err := source.Compile(source.Policy{
		Pattern:        cfg.SourcePattern,
		CaseSensitive:  cfg.CaseSensitive,
		PluralHandling: cfg.PluralHandling,
	})
	if err != nil {
		return fmt.Errorf("invalid source pattern %q: %w", cfg.SourcePattern, err)
	}

	tr, err := ndi.New(ndi.Config{
		ShowLocalSources: cfg.NDI.ShowLocalSources,
		Groups:           cfg.NDI.Groups,
		ExtraIPs:         cfg.NDI.ExtraIPs,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize NDI transport: %w", err)
	}
	defer tr.Close()

	names, err := tr.ListSources(context.Background(), listTimeout)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	sources := make([]listedSource, 0, len(names))
	for _, name := range names {
		sources = append(sources, listedSource{
			Name:        name,
			LogicalName: source.ExtractLogicalName(name),
			Matched:     matcher.Matches(name),
		})
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(sources)
	case "table":
		return printSourcesTable(sources)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func printSourcesTable(sources []listedSource) error {
	if len(sources) == 0 {
		fmt.Println("No NDI sources found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "NAME\tLOGICAL NAME\tMATCHED")
	fmt.Fprintln(w, "----\t------------\t-------")

	for _, src := range sources {
		matched := "No"
		if src.Matched {
			matched = "Yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", src.Name, src.LogicalName, matched)
	}

	return nil
}
