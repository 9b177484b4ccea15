package metastore_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/downfa11-org/chronos/pkg/config"
	"github.com/downfa11-org/chronos/pkg/metastore"
	"github.com/downfa11-org/chronos/pkg/types"
	"github.com/google/go-cmp/cmp"
)

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.BlockInitialPages = 2
	cfg.OffsetCacheSize = 128
	return cfg
}

func setupStore(t *testing.T) (*metastore.Store, *config.Config) {
	t.Helper()
	cfg := testConfig(t.TempDir())
	s, err := metastore.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, cfg
}

func TestSaveGetDelete(t *testing.T) {
	s, _ := setupStore(t)

	if err := s.Save(1, []byte(`{"name":"orders"}`), []string{"kafka", "prod"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"name":"orders"}` {
		t.Errorf("unexpected payload %q", got)
	}

	rec, err := s.Record(1)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if diff := cmp.Diff([]string{"kafka", "prod"}, rec.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if rec.Updated == 0 {
		t.Errorf("expected an update timestamp")
	}

	if err := s.Delete(1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := s.Get(1); got != nil {
		t.Errorf("deleted record still readable: %q", got)
	}
	if n, _ := s.CountByTags("kafka"); n != 0 {
		t.Errorf("deleted record still matches its tag, count %d", n)
	}
	if s.Size() != 0 || s.Version() != 2 {
		t.Errorf("size=%d version=%d, want 0/2", s.Size(), s.Version())
	}

	if err := s.Delete(99); err != nil {
		t.Errorf("deleting an absent record should be a no-op, got %v", err)
	}
}

func TestLargePayloadSpansPages(t *testing.T) {
	s, _ := setupStore(t)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 40000) // 640000 bytes
	if err := s.Save(7, payload, []string{"big"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Get(7)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %d bytes", len(got))
	}
}

func TestTagQueries(t *testing.T) {
	s, _ := setupStore(t)

	for id := uint32(1); id <= 30; id++ {
		tags := []string{"all"}
		if id%2 == 0 {
			tags = append(tags, "even")
		}
		if id%3 == 0 {
			tags = append(tags, "three")
		}
		if err := s.Save(id, []byte(fmt.Sprintf("record-%d", id)), tags); err != nil {
			t.Fatalf("Save(%d) failed: %v", id, err)
		}
	}

	if n, _ := s.CountByTags("all"); n != 30 {
		t.Errorf("expected 30 records tagged all, got %d", n)
	}
	if n, _ := s.CountByTags("even", "three"); n != 5 {
		t.Errorf("expected 5 records tagged even and three, got %d", n)
	}
	if n, _ := s.CountByTags("missing"); n != 0 {
		t.Errorf("expected no records for an unknown tag, got %d", n)
	}

	page1, err := s.ListByTags(1, 4, "even", "three")
	if err != nil {
		t.Fatalf("ListByTags failed: %v", err)
	}
	if diff := cmp.Diff([]uint32{6, 12, 18, 24}, page1); diff != "" {
		t.Errorf("page 1 mismatch (-want +got):\n%s", diff)
	}
	page2, err := s.ListByTags(2, 4, "three", "even")
	if err != nil {
		t.Fatalf("ListByTags failed: %v", err)
	}
	if diff := cmp.Diff([]uint32{30}, page2); diff != "" {
		t.Errorf("page 2 mismatch (-want +got):\n%s", diff)
	}
	page3, _ := s.ListByTags(3, 4, "even", "three")
	if len(page3) != 0 {
		t.Errorf("expected an empty page 3, got %v", page3)
	}

	if _, err := s.ListByTags(0, 4, "even"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for page 0, got %v", err)
	}
	if _, err := s.ListByTags(1, 4); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument without tags, got %v", err)
	}
}

func TestSaveReplacesTags(t *testing.T) {
	s, _ := setupStore(t)

	if err := s.Save(5, []byte("v1"), []string{"blue", "green"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(5, []byte("v2"), []string{"green", "red", "red"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if n, _ := s.CountByTags("blue"); n != 0 {
		t.Errorf("dropped tag still matches, count %d", n)
	}
	for _, tag := range []string{"green", "red"} {
		ids, err := s.ListByTags(1, 10, tag)
		if err != nil {
			t.Fatalf("ListByTags failed: %v", err)
		}
		if diff := cmp.Diff([]uint32{5}, ids); diff != "" {
			t.Errorf("tag %s mismatch (-want +got):\n%s", tag, diff)
		}
	}
	if got, _ := s.Get(5); string(got) != "v2" {
		t.Errorf("expected v2, got %q", got)
	}
	if s.Size() != 1 {
		t.Errorf("update must not add a record, size %d", s.Size())
	}
	if s.Stats().Tags != 2 {
		t.Errorf("expected the emptied tag to leave the index, %d tags", s.Stats().Tags)
	}
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	s, _ := setupStore(t)

	tests := []struct {
		name    string
		id      uint32
		payload []byte
		tags    []string
	}{
		{"zero id", 0, []byte("x"), nil},
		{"empty payload", 1, nil, nil},
		{"empty tag", 1, []byte("x"), []string{""}},
		{"long tag", 1, []byte("x"), []string{"this_tag_is_far_too_long"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Save(tt.id, tt.payload, tt.tags); !errors.Is(err, types.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
	if s.Version() != 0 {
		t.Errorf("rejected saves must not write, version %d", s.Version())
	}
}

func TestReopenAndReplay(t *testing.T) {
	cfg := testConfig(t.TempDir())
	s, err := metastore.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	instance := s.InstanceID()

	for id := uint32(1); id <= 5; id++ {
		if err := s.Save(id, []byte{byte(id)}, []string{"t"}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := s.Delete(2); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = metastore.Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	if s.InstanceID() != instance {
		t.Errorf("instance id changed across reopen: %s -> %s", instance, s.InstanceID())
	}
	ids, err := s.ListByTags(1, 10, "t")
	if err != nil {
		t.Fatalf("ListByTags failed: %v", err)
	}
	if diff := cmp.Diff([]uint32{1, 3, 4, 5}, ids); diff != "" {
		t.Errorf("tag postings after reopen (-want +got):\n%s", diff)
	}

	var replayed []uint32
	end, err := s.Replay(0, func(_ int64, id uint32) error {
		replayed = append(replayed, id)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if diff := cmp.Diff([]uint32{1, 2, 3, 4, 5, 2}, replayed); diff != "" {
		t.Errorf("replayed ids (-want +got):\n%s", diff)
	}
	if end != 24 {
		t.Errorf("replay should end at 24, got %d", end)
	}

	replayed = nil
	if _, err := s.Replay(12, func(_ int64, id uint32) error {
		replayed = append(replayed, id)
		return nil
	}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if diff := cmp.Diff([]uint32{4, 5, 2}, replayed); diff != "" {
		t.Errorf("replay from 12 (-want +got):\n%s", diff)
	}
}

func TestInstanceIDFile(t *testing.T) {
	s, cfg := setupStore(t)

	data, err := os.ReadFile(filepath.Join(cfg.DataDir, config.IDFile))
	if err != nil {
		t.Fatalf("read id file: %v", err)
	}
	if string(bytes.TrimSpace(data)) != s.InstanceID() {
		t.Errorf("id file %q does not match %s", data, s.InstanceID())
	}
}

func TestCorruptInstanceID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.IDFile), []byte("not-a-uuid"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := metastore.Open(testConfig(dir)); !errors.Is(err, types.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
}

func TestWithoutCache(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.OffsetCacheEnabled = false
	s, err := metastore.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Save(1, []byte("plain"), nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if got, _ := s.Get(1); string(got) != "plain" {
		t.Errorf("unexpected payload %q", got)
	}
}

func TestClosedStore(t *testing.T) {
	s, _ := setupStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Save(1, []byte("x"), nil); !errors.Is(err, types.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := s.Get(1); !errors.Is(err, types.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestStats(t *testing.T) {
	s, _ := setupStore(t)

	for id := uint32(1); id <= 3; id++ {
		if err := s.Save(id, []byte("payload"), []string{"a", "b"}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	st := s.Stats()
	if st.Records != 3 || st.MaxRecordID != 3 || st.Tags != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.WALBytes != 12 {
		t.Errorf("expected 12 wal bytes, got %d", st.WALBytes)
	}
	if st.TagCapacity < 10000 || st.Block.WriteCursor <= 32 {
		t.Errorf("unexpected storage stats %+v", st)
	}
}

func TestSaveAll(t *testing.T) {
	s, _ := setupStore(t)

	batch := []metastore.Record{
		{ID: 7, Tags: []string{"a"}, Payload: []byte("seven")},
		{ID: 3, Tags: []string{"a", "b"}, Payload: []byte("three")},
		{ID: 7, Tags: []string{"b"}, Payload: []byte("seven again")},
	}
	if err := s.SaveAll(batch); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	got, err := s.Get(7)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "seven again" {
		t.Errorf("later entry should win, got %q", got)
	}
	ids, err := s.ListByTags(1, 10, "b")
	if err != nil {
		t.Fatalf("ListByTags failed: %v", err)
	}
	if diff := cmp.Diff([]uint32{3, 7}, ids); diff != "" {
		t.Errorf("tag b postings (-want +got):\n%s", diff)
	}
	if n, _ := s.CountByTags("a"); n != 1 {
		t.Errorf("record 7 should have left tag a, count %d", n)
	}

	var replayed []uint32
	end, err := s.Replay(0, func(_ int64, id uint32) error {
		replayed = append(replayed, id)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if diff := cmp.Diff([]uint32{7, 3, 7}, replayed); diff != "" {
		t.Errorf("replayed ids (-want +got):\n%s", diff)
	}
	if end != 12 || s.Stats().WALBytes != 12 {
		t.Errorf("expected 12 wal bytes, end %d stats %d", end, s.Stats().WALBytes)
	}
}

func TestSaveAllRejectsWholeBatch(t *testing.T) {
	s, _ := setupStore(t)

	err := s.SaveAll([]metastore.Record{
		{ID: 1, Payload: []byte("ok")},
		{ID: 2, Payload: nil},
	})
	if !errors.Is(err, types.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if s.Version() != 0 || s.Stats().WALBytes != 0 {
		t.Errorf("a rejected batch must not write, version %d wal %d", s.Version(), s.Stats().WALBytes)
	}
	if got, _ := s.Get(1); got != nil {
		t.Errorf("record 1 should not exist, got %q", got)
	}
	if err := s.SaveAll(nil); err != nil {
		t.Errorf("empty batch should be a no-op, got %v", err)
	}
}
