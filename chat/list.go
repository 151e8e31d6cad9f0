package chat

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/malonaz/chatsync/internal/cli"
	"github.com/malonaz/chatsync/internal/configuration"
	"github.com/malonaz/chatsync/store"
)

// NewListChatsCmd instantiates and returns the chat list command.
func NewListChatsCmd(config *configuration.Config, s *store.Store, logger *zap.Logger) *cobra.Command {
	var opts struct {
		PageSize  int
		ShowStats bool
	}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all chats",
		Long:  "List all chats",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			email := config.Remote.Email
			if email == "" {
				email = localEmail
			}
			user, err := s.GetOrCreateUser(email)
			cobra.CheckErr(err)

			// Headers.
			cli.Title("CHATSYNC LIST")

			chats, err := s.ListChats(user.ID, opts.PageSize)
			cobra.CheckErr(err)
			for _, chat := range chats {
				cli.AIOutput("chat (#%d) %s - %s\n", chat.ID, chat.Title, time.UnixMicro(chat.UpdateTimestamp).String())
				if !chat.Synced {
					cli.SyncInfo("  pending sync\n")
				}
			}

			if opts.ShowStats {
				stats, err := s.GetChatStats(user.ID)
				cobra.CheckErr(err)
				cli.CostInfo("%d chats, %d messages, %d tokens\n", stats.TotalChats, stats.TotalMessages, stats.TotalTokens)
			}
		},
	}

	cmd.Flags().IntVarP(&opts.PageSize, "page-size", "p", 50, "Page size")
	cmd.Flags().BoolVar(&opts.ShowStats, "stats", false, "Show aggregate usage")
	return cmd
}

// NewSearchCmd instantiates and returns the chat search command.
func NewSearchCmd(config *configuration.Config, s *store.Store, logger *zap.Logger) *cobra.Command {
	var opts struct {
		Limit int
	}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search message content",
		Long:  "Search message content",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			email := config.Remote.Email
			if email == "" {
				email = localEmail
			}
			user, err := s.GetOrCreateUser(email)
			cobra.CheckErr(err)

			// Headers.
			cli.Title("CHATSYNC SEARCH")

			messages, err := s.SearchMessages(user.ID, args[0], opts.Limit)
			cobra.CheckErr(err)
			for _, message := range messages {
				cli.UserInput("chat #%d [%s]\n", message.ChatID, message.Role)
				cli.AIOutput("%s\n", message.Content)
				cli.Separator()
			}
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 20, "Maximum results")
	return cmd
}

// NewDeleteChatCmd instantiates and returns the chat delete command.
func NewDeleteChatCmd(config *configuration.Config, s *store.Store, logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat and its messages",
		Long:  "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			chatID, err := parseChatID(args[0])
			cobra.CheckErr(err)

			chat, err := s.GetChat(chatID)
			cobra.CheckErr(err)
			if !cli.QueryUser("Delete chat '" + chat.Title + "'?") {
				return
			}

			_, coordinator, err := Connect(ctx, config, s, logger)
			cobra.CheckErr(err)
			if coordinator != nil {
				cobra.CheckErr(coordinator.DeleteChat(ctx, chatID))
			} else {
				cobra.CheckErr(s.DeleteChatCascade(chatID))
			}
			cli.UserCommand("deleted chat #%d\n", chatID)
		},
	}
	return cmd
}
