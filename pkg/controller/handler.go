package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/downfa11-org/chronos/pkg/metastore"
	"github.com/downfa11-org/chronos/util"
)

const (
	DefaultPageSize  = 20
	DefaultReplayMax = 100
)

// CommandHandler answers text commands of the form VERB key=value ... against a store.
type CommandHandler struct {
	Store *metastore.Store
}

func NewCommandHandler(s *metastore.Store) *CommandHandler {
	return &CommandHandler{Store: s}
}

var errReplayLimit = errors.New("replay limit reached")

const helpText = `Available commands:
SAVE id=<N> [tags=<a,b,...>] payload=<text> - save a record (payload takes the rest of the line)
GET id=<N> - print a record payload
RECORD id=<N> - print a record with its tags
DELETE id=<N> - delete a record
LIST tags=<a,b,...> [page=<N>] [size=<N>] - list record ids carrying every tag (page starts at 1)
COUNT tags=<a,b,...> - count records carrying every tag
REPLAY [from=<pos>] [max=<N>] - print logged record ids from a log position
STATS - show store statistics
HELP - show this help
EXIT - exit`

func (ch *CommandHandler) logCommandResult(cmd, response string) {
	status := "SUCCESS"
	if strings.HasPrefix(response, "ERROR:") {
		status = "FAILURE"
	}
	cleanResponse := strings.ReplaceAll(response, "\n", " ")
	util.Debug("status: '%s', command: '%s' to Response '%s'", status, cmd, cleanResponse)
}

// HandleCommand runs one command line and returns its response.
func (ch *CommandHandler) HandleCommand(rawCmd string) string {
	cmd := strings.TrimSpace(rawCmd)
	if cmd == "" {
		resp := "ERROR: empty command"
		ch.logCommandResult(rawCmd, resp)
		return resp
	}

	verb, rest, _ := strings.Cut(cmd, " ")
	args := parseKeyValueArgs(rest)

	var resp string
	switch strings.ToUpper(verb) {
	case "HELP":
		resp = helpText
	case "SAVE":
		resp = ch.handleSave(args)
	case "GET":
		resp = ch.handleGet(args)
	case "RECORD":
		resp = ch.handleRecord(args)
	case "DELETE":
		resp = ch.handleDelete(args)
	case "LIST":
		resp = ch.handleList(args)
	case "COUNT":
		resp = ch.handleCount(args)
	case "REPLAY":
		resp = ch.handleReplay(args)
	case "STATS":
		resp = ch.handleStats()
	default:
		resp = fmt.Sprintf("ERROR: unknown command %q. Type HELP for commands.", verb)
	}

	ch.logCommandResult(rawCmd, resp)
	return resp
}

func (ch *CommandHandler) handleSave(args map[string]string) string {
	id, err := parseID(args)
	if err != nil {
		return "ERROR: " + err.Error() + ". Expected: SAVE id=<N> [tags=<a,b>] payload=<text>"
	}
	payload, ok := args["payload"]
	if !ok || payload == "" {
		return "ERROR: missing payload parameter. Expected: SAVE id=<N> [tags=<a,b>] payload=<text>"
	}
	if err := ch.Store.Save(id, []byte(payload), splitTags(args["tags"])); err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return fmt.Sprintf("✅ Record %d saved (version %d)", id, ch.Store.Version())
}

func (ch *CommandHandler) handleGet(args map[string]string) string {
	id, err := parseID(args)
	if err != nil {
		return "ERROR: " + err.Error() + ". Expected: GET id=<N>"
	}
	payload, err := ch.Store.Get(id)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	if payload == nil {
		return fmt.Sprintf("record %d not found", id)
	}
	return string(payload)
}

func (ch *CommandHandler) handleRecord(args map[string]string) string {
	id, err := parseID(args)
	if err != nil {
		return "ERROR: " + err.Error() + ". Expected: RECORD id=<N>"
	}
	rec, err := ch.Store.Record(id)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	if rec == nil {
		return fmt.Sprintf("record %d not found", id)
	}
	return fmt.Sprintf("id=%d tags=%s updated=%d payload=%s", rec.ID, strings.Join(rec.Tags, ","), rec.Updated, rec.Payload)
}

func (ch *CommandHandler) handleDelete(args map[string]string) string {
	id, err := parseID(args)
	if err != nil {
		return "ERROR: " + err.Error() + ". Expected: DELETE id=<N>"
	}
	if err := ch.Store.Delete(id); err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return fmt.Sprintf("🗑️ Record %d deleted", id)
}

func (ch *CommandHandler) handleList(args map[string]string) string {
	tags := splitTags(args["tags"])
	if len(tags) == 0 {
		return "ERROR: missing tags parameter. Expected: LIST tags=<a,b> [page=<N>] [size=<N>]"
	}
	page, err := intArg(args, "page", 1)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	size, err := intArg(args, "size", DefaultPageSize)
	if err != nil {
		return "ERROR: " + err.Error()
	}

	ids, err := ch.Store.ListByTags(page, size, tags...)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	if len(ids) == 0 {
		return "(no records)"
	}
	return joinIDs(ids)
}

func (ch *CommandHandler) handleCount(args map[string]string) string {
	tags := splitTags(args["tags"])
	if len(tags) == 0 {
		return "ERROR: missing tags parameter. Expected: COUNT tags=<a,b>"
	}
	n, err := ch.Store.CountByTags(tags...)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return strconv.Itoa(n)
}

func (ch *CommandHandler) handleReplay(args map[string]string) string {
	from, err := intArg(args, "from", 0)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	limit, err := intArg(args, "max", DefaultReplayMax)
	if err != nil {
		return "ERROR: " + err.Error()
	}

	var ids []uint32
	end, err := ch.Store.Replay(int64(from), func(_ int64, id uint32) error {
		if len(ids) == limit {
			return errReplayLimit
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil && !errors.Is(err, errReplayLimit) {
		return fmt.Sprintf("ERROR: %v", err)
	}
	if len(ids) == 0 {
		return fmt.Sprintf("(no records) next=%d", end)
	}
	return fmt.Sprintf("%s next=%d", joinIDs(ids), end)
}

func (ch *CommandHandler) handleStats() string {
	st := ch.Store.Stats()
	return fmt.Sprintf("instance=%s records=%d version=%d max_id=%d tags=%d tag_capacity=%d block_size=%d block_cursor=%d wal_bytes=%d",
		st.InstanceID, st.Records, st.Version, st.MaxRecordID, st.Tags, st.TagCapacity,
		st.Block.FileSize, st.Block.WriteCursor, st.WALBytes)
}

// parseKeyValueArgs splits "k=v k=v" pairs. payload= takes the rest of the line verbatim.
func parseKeyValueArgs(argsStr string) map[string]string {
	result := make(map[string]string)

	if idx := strings.Index(argsStr, "payload="); idx != -1 {
		result["payload"] = strings.TrimSpace(argsStr[idx+len("payload="):])
		argsStr = argsStr[:idx]
	}
	for _, part := range strings.Fields(argsStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			result[strings.ToLower(kv[0])] = kv[1]
		}
	}
	return result
}

func parseID(args map[string]string) (uint32, error) {
	s, ok := args["id"]
	if !ok || s == "" {
		return 0, fmt.Errorf("missing id parameter")
	}
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("id must be a positive integer")
	}
	return uint32(id), nil
}

func intArg(args map[string]string, key string, def int) (int, error) {
	s, ok := args[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinIDs(ids []uint32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ", ")
}
