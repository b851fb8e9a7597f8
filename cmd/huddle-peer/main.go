package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagServerURL string
	flagNickname  string
)

var rootCmd = &cobra.Command{
	Use:   "huddle-peer",
	Short: "Terminal participant for huddle rooms",
	Long: `huddle-peer joins a huddle room from the terminal. It negotiates a
connection with every other member, logs their connection quality, and
bridges chat between stdin and the room.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "ws://127.0.0.1:3001/ws", "Relay signaling WebSocket URL")
	rootCmd.PersistentFlags().StringVarP(&flagNickname, "nickname", "n", "", "Display name shown to other members")
}
