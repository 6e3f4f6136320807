package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/go-resty/resty/v2"

	"sync-engine/contract"
	apperrors "sync-engine/errors"
)

// HTTPTransport performs exactly one upload call per Transfer: a whole
// small file, or one chunk of a large one. It never retries; the
// scheduler owns that decision.
type HTTPTransport struct {
	client  *resty.Client
	baseURL string
	tokens  contract.TokenProvider
	log     *slog.Logger
}

func NewHTTPTransport(baseURL string, tokens contract.TokenProvider, log *slog.Logger) *HTTPTransport {
	client := resty.New().
		SetRetryCount(0).
		SetCloseConnection(false)

	return &HTTPTransport{
		client:  client,
		baseURL: baseURL,
		tokens:  tokens,
		log:     log,
	}
}

func (t *HTTPTransport) Transfer(ctx context.Context, req contract.TransferRequest) error {
	token, err := t.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token provider failed: %w", err)
	}

	payload := &countingReader{r: req.Payload, onProgress: req.OnProgress}
	r := t.client.R().
		SetContext(ctx).
		SetAuthToken(token)

	var resp *resty.Response
	if req.Chunk != nil {
		resp, err = r.
			SetMultipartFormData(map[string]string{
				"chunkIndex":  strconv.Itoa(req.Chunk.Index),
				"totalChunks": strconv.Itoa(req.Chunk.Total),
				"fileName":    req.FileName,
				"fileSize":    strconv.FormatInt(req.TotalBytes, 10),
				"uploadId":    req.Chunk.UploadID,
			}).
			SetMultipartField("chunk", req.FileName, req.ContentType, payload).
			Post(t.baseURL + "/upload-chunk" + req.Destination)
	} else {
		resp, err = r.
			SetMultipartField("file", req.FileName, req.ContentType, payload).
			Post(t.baseURL + "/upload" + req.Destination)
	}

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s", apperrors.ErrCancelled, req.FileName)
		}
		return &apperrors.NetworkError{Err: err}
	}
	if resp.IsError() {
		t.log.Debug("Upload rejected by server",
			"file", req.FileName, "status", resp.StatusCode())
		return &apperrors.ServerError{Status: resp.StatusCode()}
	}
	return nil
}

// countingReader reports the cumulative bytes handed to the HTTP client.
type countingReader struct {
	r          io.Reader
	sent       int64
	onProgress func(sent int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.onProgress != nil {
			c.onProgress(c.sent)
		}
	}
	return n, err
}
