package main

import (
	"call-lab/domain"
	"call-lab/internal"
	"call-lab/repositories"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
)

func main() {
	// Best effort, the CLI must keep working without the daemon's env file
	_ = godotenv.Load()

	defaultPath := os.Getenv("BADGER_FILEPATH")
	if defaultPath == "" {
		defaultPath = database.DefaultPath
	}

	dbPath := flag.String("db", defaultPath, "Path to badger DB")
	prefix := flag.String("prefix", "", "Raw prefix to scan instead of the room table")
	flag.Parse()

	// 2. Open Badger in Read-Only mode
	// Note: BypassLockGuard allows opening if another process (bridged) holds the lock
	opts := badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if *prefix != "" {
		scanRaw(db, *prefix)
		return
	}

	listRooms(db, domain.UserID(os.Getenv("LOCAL_USER_ID")))
}

// listRooms renders the room directory as a table, one row per room with
// its membership and virtual back-link.
func listRooms(db *badger.DB, localUser domain.UserID) {
	directory := repositories.NewRoomDirectory(db, slog.Default(), localUser)

	rooms, err := directory.Rooms()
	if err != nil {
		log.Fatal("Error while listing rooms: ", err)
	}

	header := "  ====== 📞 Room directory ======"
	if localUser != "" {
		header = fmt.Sprintf("  ====== 📞 Room directory of %s ======", localUser)
	}
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(header))

	table := newTable()
	table.SetHeader([]string{"Room", "Direct", "Opponent", "Inviter", "Membership", "Native Link"})

	for _, room := range rooms {
		membership, err := directory.Membership(room.ID)
		if err != nil {
			log.Fatal("Error while reading membership: ", err)
		}
		attrs, err := directory.Attributes(room.ID)
		if err != nil {
			log.Fatal("Error while reading attributes: ", err)
		}

		table.Append([]string{
			string(room.ID),
			fmt.Sprintf("%t", room.Direct),
			string(room.OpponentID),
			string(room.InviterID),
			membership,
			attrs[domain.AttrVirtualRoom],
		})
	}

	table.Render()
}

// scanRaw dumps every key under the given prefix, useful to poke at the
// direct: and txn: indexes.
func scanRaw(db *badger.DB, prefix string) {
	table := newTable()
	table.SetHeader([]string{"Key", "Type", "Entity", "Detail"})

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				row := internal.DefaultMapper(string(item.Key()), v)
				table.Append([]string{row.Key, row.Type, row.EntityID, row.Detail})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
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
	return table
}
