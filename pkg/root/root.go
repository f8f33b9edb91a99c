package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aspire-functions",
	Short: "Queue triggered functions host and local application host",
	Long: `Runs queue triggered functions, the local storage emulator, the client API
and the application host that starts them together.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// SetInfo customises the root command
func SetInfo(use, short, long string) {
	rootCmd.Use = use
	rootCmd.Short = short
	rootCmd.Long = long
}

func GetRoot() *cobra.Command {
	return rootCmd
}
