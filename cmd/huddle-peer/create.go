package main

import (
	"github.com/spf13/cobra"
)

var flagRoomName string

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new room and join it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPeer(peerOptions{
			serverURL: flagServerURL,
			nickname:  flagNickname,
			roomName:  flagRoomName,
			create:    true,
		})
	},
}

func init() {
	createCmd.Flags().StringVar(&flagRoomName, "name", "", "Room name (defaults server-side to \"<nickname>'s room\")")
	rootCmd.AddCommand(createCmd)
}
