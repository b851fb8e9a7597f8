package main

import (
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join an existing room by its code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPeer(peerOptions{
			serverURL: flagServerURL,
			nickname:  flagNickname,
			roomID:    args[0],
		})
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
