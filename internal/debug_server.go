package internal

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

//go:embed inspect.html
var templatesFS embed.FS

// InspectRow is one persisted queue record rendered on the debug page.
type InspectRow struct {
	Key      string
	EntryID  string
	FileName string
	State    string
	Enqueued string
	Detail   string
}

type StatsProvider func() map[string]any

type pageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// StartDebugServer exposes the raw persisted queue over HTTP for
// debugging. Only wired when the log level is debug.
func StartDebugServer(db *badger.DB, port int, endpoint string, statsProvider StatsProvider) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "transfer:entry:"
		}

		data := pageData{
			Prefix: prefix,
			Stats:  make(map[string]any),
		}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapEntryRow(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		_ = http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux)
	}()
}

func mapEntryRow(key string, val []byte) InspectRow {
	row := InspectRow{
		Key:      key,
		EntryID:  "--------",
		State:    "RAW",
		Enqueued: "--:--:--",
		Detail:   "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	// Key layout: transfer:entry:<priority>:<createdAtNanos>:<id>
	parts := strings.Split(key, ":")
	if len(parts) >= 5 {
		if tsNano, err := strconv.ParseInt(parts[3], 10, 64); err == nil {
			row.Enqueued = time.Unix(0, tsNano).Format("15:04:05")
		}
		row.EntryID = parts[4]
		if len(row.EntryID) > 8 {
			row.EntryID = row.EntryID[:8]
		}
	}

	var record struct {
		FileName         string `json:"file_name"`
		State            string `json:"state"`
		TransferredBytes int64  `json:"transferred_bytes"`
		TotalBytes       int64  `json:"total_bytes"`
	}
	if err := json.Unmarshal(val, &record); err == nil {
		row.FileName = record.FileName
		row.State = record.State
		row.Detail = fmt.Sprintf("%d / %d bytes", record.TransferredBytes, record.TotalBytes)
	}
	return row
}
