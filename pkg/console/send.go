package console

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mostefaiamine-25/aspire-functions/pkg/connection"
	"github.com/mostefaiamine-25/aspire-functions/pkg/contracts"
	"github.com/mostefaiamine-25/aspire-functions/pkg/queue"
	"github.com/mostefaiamine-25/aspire-functions/pkg/root"
)

var (
	sendTo    string
	sendBody  string
	sendQueue string
	sendCount int
)

var sendCmd = &cobra.Command{
	Use:   "queue:send",
	Short: "Publish an email message to the queue",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if sendQueue == "" {
			sendQueue = cfg.Queue.Name
		}

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

		msg := contracts.EmailMessage{To: sendTo, Body: sendBody}
		if err := send(ctx, queue.NewPublisher(conn.Driver, encoding), sendQueue, msg, sendCount); err != nil {
			log.Fatal().Err(err).Msg("Failed to publish message")
		}
		log.Info().Str("queue", sendQueue).Int("count", sendCount).Str("to", sendTo).Msg("Message published")
	},
}

func send(ctx context.Context, publisher *queue.Publisher, queueName string, msg contracts.EmailMessage, count int) error {
	for i := 0; i < count; i++ {
		if err := publisher.Publish(ctx, queueName, msg); err != nil {
			return fmt.Errorf("publishing message %d of %d: %w", i+1, count, err)
		}
	}
	return nil
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Recipient address")
	sendCmd.Flags().StringVar(&sendBody, "body", "", "Message body")
	sendCmd.Flags().StringVar(&sendQueue, "queue", "", "Queue to publish to (defaults to QUEUE_NAME)")
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "Number of copies to publish")
	_ = sendCmd.MarkFlagRequired("to")

	root.GetRoot().AddCommand(sendCmd)
}
