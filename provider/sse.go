package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// The wire format is one `data: <json>\n\n` record per chunk.
const ssePrefix = "data: "

// WriteChunk writes one chunk in the server-sent-event wire format.
func WriteChunk(w io.Writer, chunk *Chunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return errors.Wrap(err, "marshaling chunk")
	}
	if _, err := fmt.Fprintf(w, "%s%s\n\n", ssePrefix, data); err != nil {
		return errors.Wrap(err, "writing chunk")
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// sseStream decodes chunks off a server-sent-event body.
type sseStream struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewSSEStream wraps a response body carrying `data:` records.
func NewSSEStream(body io.ReadCloser) Stream {
	return &sseStream{
		scanner: bufio.NewScanner(body),
		closer:  body,
	}
}

func (s *sseStream) Recv() (*Chunk, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		chunk := &Chunk{}
		if err := json.Unmarshal([]byte(line[len(ssePrefix):]), chunk); err != nil {
			return nil, errors.Wrap(err, "unmarshaling chunk")
		}
		return chunk, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *sseStream) Close() {
	s.closer.Close()
}

// HTTPClient consumes any endpoint conforming to the streaming contract,
// such as the one the serve command exposes.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPClient instantiates a client against a conforming endpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
	}
}

// CreateChatStream posts the request and decodes the SSE response.
func (c *HTTPClient) CreateChatStream(ctx context.Context, request *Request) (Stream, error) {
	request.Stream = true
	body, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, errors.Wrap(err, "posting request")
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, errors.Errorf("unexpected status %d", response.StatusCode)
	}
	return NewSSEStream(response.Body), nil
}
