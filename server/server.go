// Package server exposes the streaming relay over HTTP: clients post a chat
// request and read the response back as server-sent events, one JSON chunk
// per event.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/malonaz/chatsync/internal/configuration"
	"github.com/malonaz/chatsync/provider"
)

// NewServeCmd creates a new serve command.
func NewServeCmd(config *configuration.Config, logger *zap.Logger) *cobra.Command {
	var opts struct {
		Port int
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat streaming relay",
		Long:  "Serve the chat streaming relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			server := &Server{
				client: provider.NewOpenAIClient(config.OpenaiAPIKey, config.OpenaiAPIHost),
				logger: logger,
			}
			return server.Start(opts.Port)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", config.Server.Port, "Port to serve on")
	return cmd
}

// Server relays chat requests to the model backend.
type Server struct {
	client provider.Client
	logger *zap.Logger
}

func (s *Server) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/models", s.handleModels)

	addr := fmt.Sprintf(":%d", port)
	s.logger.Info("server starting", zap.String("addr", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(provider.Models()); err != nil {
		s.logger.Warn("encoding models", zap.Error(err))
	}
}
