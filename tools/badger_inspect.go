package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"

	"sync-engine/domain"
)

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	prefix := flag.String("prefix", "transfer:entry:", "Prefix to scan")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "File", "State", "Priority", "Progress", "Attempts", "Enqueued", "Last Error"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()

			err := item.Value(func(v []byte) error {
				var entry domain.TransferEntry
				if err := json.Unmarshal(v, &entry); err != nil {
					// Skip the record instead of aborting the whole scan.
					fmt.Printf("Error unmarshaling key %s: %v\n", string(item.Key()), err)
					return nil
				}
				table.Append(toRow(string(item.Key()), entry))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal("Error while scanning: ", err)
	}

	table.Render()
}

func toRow(key string, entry domain.TransferEntry) []string {
	id := string(entry.ID)
	if len(id) > 8 {
		id = id[:8]
	}

	enqueued := entry.CreatedAt.Format("15:04:05")
	// Key layout: transfer:entry:<priority>:<createdAtNanos>:<id>
	if parts := strings.Split(key, ":"); len(parts) >= 5 {
		if tsNano, err := strconv.ParseInt(parts[3], 10, 64); err == nil {
			enqueued = time.Unix(0, tsNano).Format("15:04:05")
		}
	}

	progress := fmt.Sprintf("%d / %d bytes (%d%%)",
		entry.TransferredBytes, entry.TotalBytes,
		domain.Percent(entry.TransferredBytes, entry.TotalBytes))
	if entry.Chunks != nil {
		progress += fmt.Sprintf(" [chunk %d/%d]", entry.Chunks.NextChunk(), entry.Chunks.Total)
	}

	return []string{
		id,
		entry.FileName,
		string(entry.State),
		strconv.Itoa(int(entry.Priority)),
		progress,
		strconv.Itoa(entry.AttemptCount),
		enqueued,
		entry.LastError,
	}
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil).WithReadOnly(true)
	return badger.Open(opts)
}
