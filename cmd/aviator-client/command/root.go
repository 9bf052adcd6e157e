package command

// root.go defines the aviator-client command and its flags.

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	c "aviatorhub/cmd/aviator-client/command/client"
)

var (
	nickname      string
	retryInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "aviator-client <server-ip> <port>",
	Short: "aviator-client - play aviator from the terminal",
	Long: `aviator-client connects to an aviator server and plays rounds.

While betting is open, type a positive amount to bet.
During the flight, type C to cash out.
Type Q (or press Ctrl+C) to leave.`,
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := c.ValidateNickname(nickname); err != nil {
			return err
		}
		if retryInterval <= 0 {
			return fmt.Errorf("invalid --retry %s", retryInterval)
		}
		return play(cmd.Context(), args[0], args[1])
	},
}

// Execute is called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&nickname, "nick", "n", "", "Nickname shown in local messages (max 13 characters)")
	rootCmd.Flags().DurationVar(&retryInterval, "retry", time.Second, "Delay between connection attempts")
	rootCmd.MarkFlagRequired("nick")
}
