package console

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mostefaiamine-25/aspire-functions/pkg/client"
	"github.com/mostefaiamine-25/aspire-functions/pkg/connection"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
	"github.com/mostefaiamine-25/aspire-functions/pkg/root"
)

var clientCmd = &cobra.Command{
	Use:   "client:serve",
	Short: "Serve the HTTP API that publishes emails to the queue",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		encoding, err := queue.ParseEncoding(cfg.Queue.Encoding)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid message encoding")
		}

		ctx, cancel := signalContext()
		defer cancel()

		conn, err := connection.NewDriver(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Str("driver", cfg.Queue.Driver).Msg("Failed to open queue connection")
		}
		defer conn.Close()

		srv := client.NewServer(queue.NewPublisher(conn.Driver, encoding), cfg.Queue.Name, log.Logger)
		if err := srv.ListenAndServe(ctx, httpAddress(cfg.HTTP)); err != nil {
			log.Error().Err(err).Msg("Client stopped")
			return
		}
		log.Info().Msg("Client stopped.")
	},
}

func init() {
	root.GetRoot().AddCommand(clientCmd)
}
