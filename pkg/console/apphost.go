package console

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mostefaiamine-25/aspire-functions/pkg/apphost"
	"github.com/mostefaiamine-25/aspire-functions/pkg/config"
	"github.com/mostefaiamine-25/aspire-functions/pkg/functions"
	"github.com/mostefaiamine-25/aspire-functions/pkg/root"
)

var (
	minimal    bool
	describe   bool
	clientPort int
)

var apphostCmd = &cobra.Command{
	Use:   "apphost:run",
	Short: "Start the storage emulator, the functions host and the client together",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		app, err := buildApp(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid application")
		}

		if describe {
			printDescription(os.Stdout, app)
			return
		}

		ctx, cancel := signalContext()
		defer cancel()

		log.Info().Strs("resources", app.Names()).Bool("minimal", minimal).Msg("Starting application host...")
		if err := app.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("Application host stopped")
		}
		log.Info().Msg("Application host stopped.")
	},
}

func buildApp(cfg *config.Config) (*apphost.App, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}

	topology := apphost.Topology{
		Executable:    exe,
		StoragePort:   cfg.Emulator.Port,
		FunctionsPort: cfg.HTTP.Port,
		ClientPort:    clientPort,
		QueueName:     functions.EmailQueue,
	}

	b := apphost.NewBuilder(log.Logger)
	if minimal {
		apphost.Minimal(b, topology)
	} else {
		apphost.Full(b, topology)
	}
	return b.Build()
}

func printDescription(w io.Writer, app *apphost.App) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tENDPOINT\tWAITS FOR\tREFERENCES")
	for _, d := range app.Describe() {
		endpoint := "-"
		if d.Endpoint != nil {
			endpoint = d.Endpoint.Address()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, endpoint, list(d.WaitFor), list(d.References))
	}
	tw.Flush()

	for _, d := range app.Describe() {
		if len(d.Env) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s environment:\n", d.Name)
		keys := make([]string, 0, len(d.Env))
		for k := range d.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s=%s\n", k, d.Env[k])
		}
	}
}

func list(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ",")
}

func init() {
	apphostCmd.Flags().BoolVar(&minimal, "minimal", false, "Run the functions host alone")
	apphostCmd.Flags().BoolVar(&describe, "describe", false, "Print the resources and exit")
	apphostCmd.Flags().IntVar(&clientPort, "client-port", 5080, "HTTP port of the client project (0 allocates one)")

	root.GetRoot().AddCommand(apphostCmd)
}
