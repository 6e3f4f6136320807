package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sync-engine/contract"
	apperrors "sync-engine/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPTransport_WholeFileUpload(t *testing.T) {
	req := require.New(t)

	var gotPath, gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		req.NoError(r.ParseMultipartForm(1 << 20))
		f, _, err := r.FormFile("file")
		req.NoError(err)
		body, err := io.ReadAll(f)
		req.NoError(err)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, NewStaticTokenProvider("secret"), testLogger())

	err := tr.Transfer(context.Background(), contract.TransferRequest{
		Destination:  "/docs/notes.txt",
		FileName:     "notes.txt",
		TotalBytes:   5,
		ContentType:  "text/plain",
		Payload:      strings.NewReader("hello"),
		PayloadBytes: 5,
	})
	req.NoError(err)
	req.Equal("/upload/docs/notes.txt", gotPath)
	req.Equal("Bearer secret", gotAuth)
	req.Equal("hello", gotBody)
}

func TestHTTPTransport_ChunkUploadFields(t *testing.T) {
	req := require.New(t)

	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.NoError(r.ParseMultipartForm(1 << 20))
		form = map[string]string{
			"chunkIndex":  r.FormValue("chunkIndex"),
			"totalChunks": r.FormValue("totalChunks"),
			"fileName":    r.FormValue("fileName"),
			"fileSize":    r.FormValue("fileSize"),
			"uploadId":    r.FormValue("uploadId"),
			"path":        r.URL.Path,
		}
		_, _, err := r.FormFile("chunk")
		req.NoError(err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, NewStaticTokenProvider(""), testLogger())

	err := tr.Transfer(context.Background(), contract.TransferRequest{
		Destination:  "/videos/clip.mp4",
		FileName:     "clip.mp4",
		TotalBytes:   200 << 20,
		ContentType:  "video/mp4",
		Payload:      strings.NewReader("chunk-data"),
		PayloadBytes: 10,
		Chunk:        &contract.ChunkMeta{Index: 3, Total: 40, UploadID: "upload-123"},
	})
	req.NoError(err)
	req.Equal("/upload-chunk/videos/clip.mp4", form["path"])
	req.Equal("3", form["chunkIndex"])
	req.Equal("40", form["totalChunks"])
	req.Equal("clip.mp4", form["fileName"])
	req.Equal("209715200", form["fileSize"])
	req.Equal("upload-123", form["uploadId"])
}

func TestHTTPTransport_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"500 is a retryable server error", http.StatusInternalServerError, true},
		{"503 is a retryable server error", http.StatusServiceUnavailable, true},
		{"400 is terminal", http.StatusBadRequest, false},
		{"403 is terminal", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			tr := NewHTTPTransport(server.URL, NewStaticTokenProvider("t"), testLogger())
			err := tr.Transfer(context.Background(), contract.TransferRequest{
				Destination: "/x",
				FileName:    "x.bin",
				TotalBytes:  1,
				Payload:     strings.NewReader("x"),
			})

			var serverErr *apperrors.ServerError
			req.ErrorAs(err, &serverErr)
			req.Equal(tt.status, serverErr.Status)
			req.Equal(tt.retryable, apperrors.Retryable(err))
		})
	}
}

func TestHTTPTransport_UnreachableHostIsNetworkError(t *testing.T) {
	req := require.New(t)

	// Reserved port on localhost, nothing listens there.
	tr := NewHTTPTransport("http://127.0.0.1:1", NewStaticTokenProvider("t"), testLogger())
	err := tr.Transfer(context.Background(), contract.TransferRequest{
		Destination: "/x",
		FileName:    "x.bin",
		TotalBytes:  1,
		Payload:     strings.NewReader("x"),
	})

	var netErr *apperrors.NetworkError
	req.ErrorAs(err, &netErr)
	req.True(apperrors.Retryable(err))
}

func TestHTTPTransport_CancelledContext(t *testing.T) {
	req := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewHTTPTransport(server.URL, NewStaticTokenProvider("t"), testLogger())
	err := tr.Transfer(ctx, contract.TransferRequest{
		Destination: "/x",
		FileName:    "x.bin",
		TotalBytes:  1,
		Payload:     strings.NewReader("x"),
	})

	req.True(errors.Is(err, apperrors.ErrCancelled))
	req.False(apperrors.Retryable(err))
}

func TestHTTPTransport_ProgressCallback(t *testing.T) {
	req := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	payload := strings.Repeat("a", 64<<10)
	var lastSent int64
	tr := NewHTTPTransport(server.URL, NewStaticTokenProvider("t"), testLogger())
	err := tr.Transfer(context.Background(), contract.TransferRequest{
		Destination:  "/big",
		FileName:     "big.bin",
		TotalBytes:   int64(len(payload)),
		Payload:      strings.NewReader(payload),
		PayloadBytes: int64(len(payload)),
		OnProgress:   func(sent int64) { lastSent = sent },
	})

	req.NoError(err)
	req.Equal(int64(len(payload)), lastSent)
}
