package server

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/malonaz/chatsync/provider"
)

// handleChat relays one chat completion. The response is a stream of
// server-sent events; once streaming has begun, failures are reported as a
// terminal error chunk rather than an HTTP status.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	request := &provider.Request{}
	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(request.Messages) == 0 {
		http.Error(w, "messages are required", http.StatusBadRequest)
		return
	}
	if _, err := provider.GetModel(request.Model); err != nil {
		http.Error(w, "unknown model", http.StatusBadRequest)
		return
	}
	request.Stream = true

	stream, err := s.client.CreateChatStream(r.Context(), request)
	if err != nil {
		s.logger.Warn("creating upstream stream", zap.Error(err))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.logger.Warn("reading upstream stream", zap.Error(err))
			s.writeChunk(w, &provider.Chunk{Error: "upstream stream failed", Finished: true})
			return
		}
		if !s.writeChunk(w, chunk) {
			return
		}
		if chunk.Finished && chunk.Usage != nil {
			return
		}
	}
}

func (s *Server) writeChunk(w http.ResponseWriter, chunk *provider.Chunk) bool {
	if err := provider.WriteChunk(w, chunk); err != nil {
		s.logger.Debug("writing chunk", zap.Error(err))
		return false
	}
	return true
}
