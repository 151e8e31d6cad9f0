package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/malonaz/chatsync/chat"
	"github.com/malonaz/chatsync/internal/configuration"
	"github.com/malonaz/chatsync/internal/logging"
	"github.com/malonaz/chatsync/server"
	"github.com/malonaz/chatsync/store"
)

const configFilepath = "~/.config/chatsync/config.json"

var rootCmd = &cobra.Command{
	Use:     "chatsync",
	Short:   "A local-first chat client with remote sync",
	Version: "1.0",
}

func main() {
	config, err := configuration.Parse(configFilepath)
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(os.Getenv("CHATSYNC_DEBUG") != "")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Create store
	store, err := store.New(config.Database)
	if err != nil {
		panic(err)
	}
	// Ensure store is closed when the program exits normally
	defer store.Close()

	rootCmd.AddCommand(server.NewServeCmd(config, logger))
	rootCmd.AddCommand(chat.NewCmd(config, store, logger))
	rootCmd.AddCommand(chat.NewListChatsCmd(config, store, logger))
	rootCmd.AddCommand(chat.NewSearchCmd(config, store, logger))
	rootCmd.AddCommand(chat.NewDeleteChatCmd(config, store, logger))
	rootCmd.AddCommand(chat.NewSyncCmd(config, store, logger))
	rootCmd.Execute()
}
