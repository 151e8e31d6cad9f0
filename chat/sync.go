package chat

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/malonaz/chatsync/internal/cli"
	"github.com/malonaz/chatsync/internal/configuration"
	"github.com/malonaz/chatsync/remote"
	"github.com/malonaz/chatsync/store"
)

// NewSyncCmd instantiates and returns the sync command. It pushes every
// unsynced local record to the remote store, then pulls down whatever the
// remote has that this machine does not.
func NewSyncCmd(config *configuration.Config, s *store.Store, logger *zap.Logger) *cobra.Command {
	var opts struct {
		PushOnly bool
	}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local store with the remote store",
		Long:  "Synchronize the local store with the remote store",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			if config.Remote.DSN == "" {
				cobra.CheckErr(errors.New("no remote configured"))
			}

			_, coordinator, err := Connect(ctx, config, s, logger)
			cobra.CheckErr(err)
			if coordinator == nil {
				cobra.CheckErr(errors.New("remote store unreachable"))
			}

			// Headers.
			cli.Title("CHATSYNC SYNC")

			// SetOnline already ran a drain; run another so this command
			// reports errors instead of logging them.
			cobra.CheckErr(coordinator.Drain(ctx))
			cli.UserCommand("push complete\n")

			if !opts.PushOnly {
				if err := coordinator.Refresh(ctx); err != nil {
					if remote.IsNetwork(err) {
						cobra.CheckErr(errors.New("lost the remote store mid-pull, local records remain queued"))
					}
					cobra.CheckErr(err)
				}
				cli.UserCommand("pull complete\n")
			}
		},
	}

	cmd.Flags().BoolVar(&opts.PushOnly, "push-only", false, "Skip pulling remote records")
	return cmd
}

func parseChatID(raw string) (int64, error) {
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parsing chat id")
	}
	return chatID, nil
}
