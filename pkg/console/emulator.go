package console

import (
	"net"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mostefaiamine-25/aspire-functions/pkg/emulator"
	"github.com/mostefaiamine-25/aspire-functions/pkg/root"
)

var emulatorQueues []string

var emulatorCmd = &cobra.Command{
	Use:   "emulator:start",
	Short: "Run the storage emulator queue endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		store := emulator.NewStore()
		for _, name := range emulatorQueues {
			if err := store.CreateQueue(name); err != nil {
				log.Fatal().Err(err).Str("queue", name).Msg("Failed to create queue")
			}
		}

		ctx, cancel := signalContext()
		defer cancel()

		addr := net.JoinHostPort(cfg.Emulator.Host, strconv.Itoa(cfg.Emulator.Port))
		if err := emulator.NewServer(store, log.Logger).ListenAndServe(ctx, addr); err != nil {
			log.Fatal().Err(err).Msg("Storage emulator stopped")
		}
		log.Info().Msg("Storage emulator stopped.")
	},
}

func init() {
	emulatorCmd.Flags().StringSliceVar(&emulatorQueues, "queue", []string{"emails"}, "Queues to create at startup")

	root.GetRoot().AddCommand(emulatorCmd)
}
