// Package chat holds the interactive chat commands.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/malonaz/chatsync/bus"
	"github.com/malonaz/chatsync/internal/cli"
	"github.com/malonaz/chatsync/internal/configuration"
	"github.com/malonaz/chatsync/model"
	"github.com/malonaz/chatsync/provider"
	"github.com/malonaz/chatsync/remote"
	"github.com/malonaz/chatsync/session"
	"github.com/malonaz/chatsync/store"
	"github.com/malonaz/chatsync/syncer"
)

// localEmail identifies the implicit user of an offline-only installation.
const localEmail = "local@chatsync"

// NewCmd instantiates and returns the chat command.
func NewCmd(config *configuration.Config, s *store.Store, logger *zap.Logger) *cobra.Command {
	var opts struct {
		ChatID   int64
		Model    string
		ShowCost bool
	}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Back and forth chat",
		Long:  "Back and forth chat",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			client := provider.NewOpenAIClient(config.OpenaiAPIKey, config.OpenaiAPIHost)

			user, coordinator, err := Connect(ctx, config, s, logger)
			cobra.CheckErr(err)

			broadcastBus := bus.New()
			defer broadcastBus.Close()
			sess := session.New(s, broadcastBus, coordinator, logger)
			defer sess.Close()
			cobra.CheckErr(sess.LoadChats(user.ID))

			// Open the requested chat or start a fresh one.
			var chat *model.Chat
			if opts.ChatID != 0 {
				chat, err = s.GetChat(opts.ChatID)
				cobra.CheckErr(err)
			} else {
				chat, err = sess.CreateChat(ctx, user.ID, opts.Model)
				cobra.CheckErr(err)
			}
			cobra.CheckErr(sess.LoadMessages(chat.ID))

			// Headers.
			cli.Title("CHATSYNC [%s](#%d)", chat.Model, chat.ID)

			// Print history.
			for _, message := range sess.Messages() {
				if message.Role == model.RoleUser {
					cli.UserInput("> %s\n", message.Content)
				}
				if message.Role == model.RoleAssistant {
					cli.AIOutput(message.Content + "\n")
				}
			}

			// Print tokens as they stream over the bus.
			printer := &streamPrinter{printed: map[int64]int{}}
			envelopes := broadcastBus.Subscribe()
			defer broadcastBus.Unsubscribe(envelopes)
			go func() {
				for envelope := range envelopes {
					if chunk, ok := envelope.Payload.(*bus.StreamingChunk); ok {
						cli.AIOutput(printer.delta(chunk.MessageID, chunk.FullContent))
					}
				}
			}()

			for {
				// Query user for prompt.
				text, err := cli.PromptUser()
				cobra.CheckErr(err)
				if strings.TrimSpace(text) == "" {
					continue
				}
				// Quick feedback so user knows the prompt has been submitted.
				cli.AIOutput("AI: ")

				requestCtx, cancel := context.WithTimeout(ctx, time.Duration(config.RequestTimeout)*time.Second)
				message, err := sess.SendMessage(requestCtx, client, chat.ID, text, nil)
				cancel()
				cobra.CheckErr(err)

				// Flush whatever the printer has not caught up with.
				cli.AIOutput(printer.delta(message.ID, message.Content))
				cli.AIOutput("\n")

				if opts.ShowCost && message.Tokens > 0 {
					cli.CostInfo("Response contains %d tokens costing $%.6f\n", message.Tokens, message.Cost)
				}
				if coordinator != nil && !message.Synced {
					cli.SyncInfo("pending sync\n")
				}
			}
		},
	}

	cmd.Flags().Int64Var(&opts.ChatID, "id", 0, "specify a chat id. Defaults to a new chat")
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "override the default model")
	cmd.Flags().BoolVarP(&opts.ShowCost, "show-cost", "c", false, "Show cost")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if opts.Model == "" {
			opts.Model = config.DefaultModel
		}
	}
	return cmd
}

// streamPrinter turns accumulated-content chunks back into printable deltas.
type streamPrinter struct {
	mu      sync.Mutex
	printed map[int64]int
}

func (p *streamPrinter) delta(messageID int64, fullContent string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	printed := p.printed[messageID]
	if printed >= len(fullContent) {
		return ""
	}
	p.printed[messageID] = len(fullContent)
	return fullContent[printed:]
}

// Connect resolves the local user and, when a remote is configured, brings
// up an online sync coordinator for it. The coordinator is nil when the
// installation is offline-only.
func Connect(ctx context.Context, config *configuration.Config, s *store.Store, logger *zap.Logger) (*model.User, *syncer.Coordinator, error) {
	email := config.Remote.Email
	if email == "" {
		email = localEmail
	}
	user, err := s.GetOrCreateUser(email)
	if err != nil {
		return nil, nil, err
	}
	if config.Remote.DSN == "" {
		return user, nil, nil
	}

	remoteStore, err := remote.New(ctx, config.Remote.DSN)
	if err != nil {
		// A dead remote never blocks local chatting.
		logger.Warn("connecting to remote store", zap.Error(err))
		return user, nil, nil
	}
	remoteID, err := remoteStore.UpsertUser(ctx, user)
	if err != nil {
		logger.Warn("registering user on remote store", zap.Error(err))
		return user, nil, nil
	}
	if user.RemoteID != remoteID {
		if err := s.LinkUser(user.ID, remoteID); err != nil {
			return nil, nil, err
		}
		user.RemoteID = remoteID
	}

	coordinator, err := syncer.New(s, remoteStore, logger)
	if err != nil {
		return nil, nil, err
	}
	coordinator.SetAuthenticated(user.ID, remoteID)
	coordinator.SetOnline(ctx, true)
	return user, coordinator, nil
}
