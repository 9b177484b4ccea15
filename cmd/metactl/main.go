package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/downfa11-org/chronos/pkg/block"
	"github.com/downfa11-org/chronos/pkg/config"
	"github.com/downfa11-org/chronos/pkg/controller"
	"github.com/downfa11-org/chronos/pkg/metastore"
	"github.com/downfa11-org/chronos/pkg/wal"
)

const usage = `usage: metactl [config flags] <command> [args]

commands:
  stats                 print store statistics and per-page entry counts
  get <id>              print a record with its tags
  tags <tag>... [page]  list record ids carrying every tag (page starts at 1)
  wal-dump [from]       print logged record ids from a log position
  wal-truncate <end>    drop the log before byte position end
  shell                 read commands from stdin (type HELP)`

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Println("❌ Failed to load config:", err)
		os.Exit(1)
	}
	if len(cfg.Args) == 0 {
		fmt.Println(usage)
		os.Exit(2)
	}

	cmd, args := cfg.Args[0], cfg.Args[1:]
	switch cmd {
	case "stats":
		err = runStats(cfg)
	case "get":
		err = runGet(cfg, args)
	case "tags":
		err = runTags(cfg, args)
	case "wal-dump":
		err = runWALDump(cfg, args)
	case "wal-truncate":
		err = runWALTruncate(cfg, args)
	case "shell":
		err = runShell(cfg)
	default:
		fmt.Println(usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

func withStore(cfg *config.Config, fn func(*metastore.Store) error) error {
	s, err := metastore.Open(cfg)
	if err != nil {
		return err
	}
	err = fn(s)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

func runStats(cfg *config.Config) error {
	var pages int
	err := withStore(cfg, func(s *metastore.Store) error {
		st := s.Stats()
		pages = st.Block.Pages
		fmt.Printf("instance      : %s\n", st.InstanceID)
		fmt.Printf("records       : %d (max id %d)\n", st.Records, st.MaxRecordID)
		fmt.Printf("version       : %d\n", st.Version)
		fmt.Printf("tags          : %d (capacity %d)\n", st.Tags, st.TagCapacity)
		fmt.Printf("block file    : %d bytes, cursor %d, %d pages\n", st.Block.FileSize, st.Block.WriteCursor, st.Block.Pages)
		fmt.Printf("wal           : %d bytes\n", st.WALBytes)
		return nil
	})
	if err != nil {
		return err
	}

	blocks, err := block.Open(cfg.Path(config.BlockFile), cfg.BlockInitialPages)
	if err != nil {
		return err
	}
	defer blocks.Close()
	for i := 0; i < pages; i++ {
		n, err := blocks.PageEntryCount(i)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		fmt.Printf("page %-8d: %d entries\n", i, n)
	}
	return nil
}

func runGet(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get needs exactly one record id")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("bad record id %q: %w", args[0], err)
	}
	return withStore(cfg, func(s *metastore.Store) error {
		rec, err := s.Record(uint32(id))
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Printf("record %d not found\n", id)
			return nil
		}
		fmt.Printf("id      : %d\ntags    : %s\nupdated : %d\npayload : %s\n", rec.ID, strings.Join(rec.Tags, ","), rec.Updated, rec.Payload)
		return nil
	})
}

func runTags(cfg *config.Config, args []string) error {
	page := 1
	if n := len(args); n > 1 {
		if p, err := strconv.Atoi(args[n-1]); err == nil {
			page, args = p, args[:n-1]
		}
	}
	if len(args) == 0 {
		return fmt.Errorf("tags needs at least one tag")
	}
	return withStore(cfg, func(s *metastore.Store) error {
		ids, err := s.ListByTags(page, controller.DefaultPageSize, args...)
		if err != nil {
			return err
		}
		total, err := s.CountByTags(args...)
		if err != nil {
			return err
		}
		fmt.Printf("%d records match, page %d:\n", total, page)
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	})
}

// The log commands open the log file alone, so they work on a store whose other files are damaged.

func runWALDump(cfg *config.Config, args []string) error {
	var from int64
	if len(args) > 0 {
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad position %q: %w", args[0], err)
		}
		from = n
	}

	log, err := wal.Open(cfg.Path(config.WALFile), cfg.WALBufferSize)
	if err != nil {
		return err
	}
	defer log.Close()

	pos := from
	for {
		ids, err := log.Records(pos, cfg.WALBufferSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			fmt.Printf("%10d  %d\n", pos, id)
			pos += wal.RecordSize
		}
	}
	fmt.Printf("end of log at %d\n", pos)
	return nil
}

func runWALTruncate(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("wal-truncate needs the byte position to cut at")
	}
	end, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad position %q: %w", args[0], err)
	}

	log, err := wal.Open(cfg.Path(config.WALFile), cfg.WALBufferSize)
	if err != nil {
		return err
	}
	defer log.Close()

	if err := log.TruncateTo(end); err != nil {
		return err
	}
	fmt.Printf("✅ log truncated at %d, %d bytes kept\n", end, log.Size())
	return nil
}

func runShell(cfg *config.Config) error {
	return withStore(cfg, func(s *metastore.Store) error {
		ch := controller.NewCommandHandler(s)

		fmt.Println("🔹 Store ready. Type HELP for commands.")
		fmt.Println("")

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.EqualFold(strings.TrimSpace(line), "EXIT") {
				break
			}
			fmt.Println(ch.HandleCommand(line))
		}
		return scanner.Err()
	})
}
