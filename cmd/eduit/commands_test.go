package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"eduitraya/internal/amqp"
	"eduitraya/internal/backup"
	"eduitraya/internal/cli"
	"eduitraya/internal/config"
	"eduitraya/internal/core"
)

var testNow = time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)

type harness struct {
	t      *testing.T
	app    *cli.App
	relay  *amqp.Relay
	dir    string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		StorageBackend: "file",
		DataDir:        filepath.Join(dir, "data"),
		StorageKey:     "eduitraya-recipients",
		WatchInterval:  time.Second,
		ExportDir:      filepath.Join(dir, "out"),
	}
	app, err := cli.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return &harness{t: t, app: app, dir: dir}
}

// run executes one command with input as stdin and returns its stdout.
func (h *harness) run(input string, args ...string) (string, error) {
	h.t.Helper()
	cmd, ok := lookup(args[0])
	if !ok {
		h.t.Fatalf("unknown command %q", args[0])
	}
	h.stdout.Reset()
	e := &env{
		cmd:    cmd,
		app:    h.app,
		relay:  h.relay,
		stdin:  bufio.NewReader(strings.NewReader(input)),
		stdout: &h.stdout,
		stderr: &h.stderr,
		now:    func() time.Time { return testNow },
	}
	err := e.execute(context.Background(), args[1:])
	return h.stdout.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run("", args...)
	if err != nil {
		h.t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func (h *harness) add(name, amount, note string) core.Recipient {
	h.t.Helper()
	h.mustRun("add", "--name", name, "--amount", amount, "--note", note)
	list := h.app.Store.Recipients()
	return list[len(list)-1]
}

func TestAddAndList(t *testing.T) {
	h := newHarness(t)
	h.add("Siti", "20", "Cousin")
	h.add("Aiman", "RM 10.50", "Nephew")

	out := h.mustRun("list")
	if strings.Index(out, "Aiman") > strings.Index(out, "Siti") {
		t.Errorf("list not sorted by name:\n%s", out)
	}
	if !strings.Contains(out, "RM 30.50") {
		t.Errorf("list missing total:\n%s", out)
	}

	out = h.mustRun("list", "--sort", "amount", "--order", "desc", "--json")
	var got []core.Recipient
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("list --json: %v\n%s", err, out)
	}
	if len(got) != 2 || got[0].Name != "Siti" {
		t.Errorf("unexpected json list %+v", got)
	}

	out = h.mustRun("list", "--search", "nobody")
	if !strings.Contains(out, `No recipients match "nobody"`) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestAddValidatesFormRules(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		args []string
		want error
	}{
		{[]string{"add", "--amount", "10", "--note", "x"}, core.ErrEmptyName},
		{[]string{"add", "--name", strings.Repeat("a", 51), "--amount", "10", "--note", "x"}, core.ErrNameTooLong},
		{[]string{"add", "--name", "a", "--note", "x"}, core.ErrInvalidAmount},
		{[]string{"add", "--name", "a", "--amount", "10001", "--note", "x"}, core.ErrAmountTooLarge},
		{[]string{"add", "--name", "a", "--amount", "10"}, core.ErrEmptyNote},
	}
	for _, tt := range tests {
		if _, err := h.run("", tt.args...); !errors.Is(err, tt.want) {
			t.Errorf("%v: error = %v, want %v", tt.args, err, tt.want)
		}
	}
	if _, err := h.run("", "add", "--name", "a", "--amount", "-5", "--note", "x"); err == nil {
		t.Error("negative amount should fail flag parsing")
	}
	if h.app.Store.Len() != 0 {
		t.Errorf("store changed: %d", h.app.Store.Len())
	}
}

func TestUpdate(t *testing.T) {
	h := newHarness(t)
	r := h.add("Siti", "20", "Cousin")

	out := h.mustRun("update", r.ID[:8], "--amount", "25", "--duitnow", "0123456789")
	if !strings.Contains(out, "Recipient updated.") {
		t.Errorf("unexpected output %q", out)
	}
	got, _ := h.app.Store.Find(r.ID)
	if got.Amount != core.RM(25, 0) || got.DuitnowID != "0123456789" || got.Name != "Siti" || !got.DateAdded.Equal(r.DateAdded) {
		t.Errorf("unexpected record %+v", got)
	}

	out = h.mustRun("update", "missing", "--name", "X")
	if !strings.Contains(out, "No recipient with id missing.") {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := h.run("", "update", r.ID); err == nil {
		t.Error("update without fields should fail")
	}
	if _, err := h.run("", "update", r.ID, "--note", ""); !errors.Is(err, core.ErrEmptyNote) {
		t.Errorf("error = %v, want ErrEmptyNote", err)
	}
}

func TestRemoveAsksForConfirmation(t *testing.T) {
	h := newHarness(t)
	r := h.add("Siti", "20", "Cousin")

	out, err := h.run("n\n", "remove", r.ID)
	if err != nil || !strings.Contains(out, "Cancelled.") || h.app.Store.Len() != 1 {
		t.Fatalf("declined remove: %q, %v, len %d", out, err, h.app.Store.Len())
	}

	out, err = h.run("y\n", "remove", r.ID)
	if err != nil || !strings.Contains(out, "Deleted Siti.") || h.app.Store.Len() != 0 {
		t.Fatalf("confirmed remove: %q, %v, len %d", out, err, h.app.Store.Len())
	}

	out = h.mustRun("remove", r.ID, "--yes")
	if !strings.Contains(out, "No recipient with id") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestClear(t *testing.T) {
	h := newHarness(t)
	h.add("Siti", "20", "Cousin")
	h.add("Aiman", "10", "Nephew")

	out, _ := h.run("", "clear")
	if !strings.Contains(out, "ALL 2 recipients") || h.app.Store.Len() != 2 {
		t.Fatalf("clear without answer: %q", out)
	}
	out = h.mustRun("clear", "--yes")
	if !strings.Contains(out, "All data cleared.") || h.app.Store.Len() != 0 {
		t.Fatalf("clear --yes: %q", out)
	}
	if out := h.mustRun("clear"); !strings.Contains(out, "Nothing to clear.") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.add("A", "5", "x")
	h.add("B", "15", "x")
	h.add("C", "150", "x")

	out := h.mustRun("stats")
	for _, want := range []string{"RM 170.00", "RM 56.67", "66.7%", "33.3%"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats missing %q:\n%s", want, out)
		}
	}
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	h.add("Siti", "20", "Cousin")

	out := h.mustRun("export", "--format", "csv,pdf")
	if strings.Count(out, "Wrote ") != 2 {
		t.Fatalf("unexpected output %q", out)
	}
	csvs, _ := filepath.Glob(filepath.Join(h.dir, "out", "eduit-raya-*.csv"))
	pdfs, _ := filepath.Glob(filepath.Join(h.dir, "out", "eduit-raya-*.pdf"))
	xlsx, _ := filepath.Glob(filepath.Join(h.dir, "out", "eduit-raya-*.xlsx"))
	if len(csvs) != 1 || len(pdfs) != 1 || len(xlsx) != 0 {
		t.Errorf("files: csv %v pdf %v xlsx %v", csvs, pdfs, xlsx)
	}

	if _, err := h.run("", "export", "--format", "docx"); err == nil {
		t.Error("unknown format should fail")
	}
	if _, err := h.run("", "export", "--sheets"); err == nil {
		t.Error("--sheets without configuration should fail")
	}
}

func TestBackupAndRestore(t *testing.T) {
	h := newHarness(t)
	h.add("Siti", "20", "Cousin")
	h.add("Aiman", "10.50", "Nephew")
	original := h.app.Store.Recipients()

	out := h.mustRun("backup")
	path := filepath.Join(h.dir, "out", backup.FileName(testNow))
	if !strings.Contains(out, path) || !strings.Contains(out, "2 recipients") {
		t.Fatalf("unexpected output %q", out)
	}

	h.mustRun("clear", "--yes")
	h.add("Temp", "1", "x")

	out, err := h.run("no\n", "restore", path)
	if err != nil || !strings.Contains(out, "Cancelled.") || h.app.Store.Len() != 1 {
		t.Fatalf("declined restore: %q, %v", out, err)
	}

	out, err = h.run("y\n", "restore", path)
	if err != nil || !strings.Contains(out, "Successfully restored 2 recipients!") {
		t.Fatalf("restore: %q, %v", out, err)
	}
	got := h.app.Store.Recipients()
	if len(got) != 2 {
		t.Fatalf("restored %d recipients", len(got))
	}
	for i := range got {
		if got[i].ID != original[i].ID || got[i].Amount != original[i].Amount || !got[i].DateAdded.Equal(original[i].DateAdded) {
			t.Errorf("restored[%d] = %+v, want %+v", i, got[i], original[i])
		}
	}
}

func TestRestoreRejectsBadFiles(t *testing.T) {
	h := newHarness(t)
	h.add("Keep", "5", "x")

	bad := filepath.Join(h.dir, "bad.json")
	os.WriteFile(bad, []byte(`{"recipients": "nope"}`), 0o600)
	if _, err := h.run("y\n", "restore", bad); !errors.Is(err, backup.ErrInvalidFormat) {
		t.Errorf("error = %v, want ErrInvalidFormat", err)
	}

	empty := filepath.Join(h.dir, "empty.json")
	os.WriteFile(empty, []byte(`{"recipients": [{"id": "", "name": "x", "amount": 5, "note": "y"}]}`), 0o600)
	out, err := h.run("y\n", "restore", empty)
	if !errors.Is(err, backup.ErrNoValidRecipients) {
		t.Errorf("error = %v, want ErrNoValidRecipients", err)
	}
	if !strings.Contains(out, "Skipping entry 0") {
		t.Errorf("rejections not reported: %q", out)
	}

	if got := h.app.Store.Recipients(); len(got) != 1 || got[0].Name != "Keep" {
		t.Errorf("store changed: %+v", got)
	}
}

func TestQR(t *testing.T) {
	h := newHarness(t)
	r := h.add("Siti Aminah", "20", "Cousin")

	if _, err := h.run("", "qr", r.ID); err == nil || !strings.Contains(err.Error(), "no DuitNow id") {
		t.Fatalf("qr without duitnow id: %v", err)
	}

	h.mustRun("update", r.ID, "--duitnow", "0123456789")
	out := h.mustRun("qr", r.ID, "--caption")
	want := filepath.Join(h.dir, "out", "qr-siti-aminah.png")
	if !strings.Contains(out, want) {
		t.Fatalf("unexpected output %q", out)
	}
	data, err := os.ReadFile(want)
	if err != nil || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatalf("qr file: %v", err)
	}

	custom := filepath.Join(h.dir, "dn.png")
	h.mustRun("qr", "--duitnow", "0123456789", "--amount", "50", "--name", "Siti", "--out", custom)
	if _, err := os.Stat(custom); err != nil {
		t.Errorf("duitnow qr not written: %v", err)
	}
	if _, err := h.run("", "qr", "--duitnow", "0123456789"); err == nil {
		t.Error("--duitnow without amount should fail")
	}
}

func TestQuickAndBulkAdd(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("quick-add", "Close family")
	if !strings.Contains(out, "Recipient 1") || !strings.Contains(out, "RM 50.00") {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := h.run("", "quick-add", "stranger"); err == nil {
		t.Error("unknown preset should fail")
	}

	out = h.mustRun("bulk-add", "--count", "4", "--amount", "10")
	if !strings.Contains(out, "Successfully added 4 recipients for RM 40.00") {
		t.Errorf("unexpected output %q", out)
	}
	if h.app.Store.Len() != 5 {
		t.Errorf("store has %d recipients, want 5", h.app.Store.Len())
	}
	if _, err := h.run("", "bulk-add", "--count", "0"); err == nil {
		t.Error("zero count should fail")
	}
}

func TestFileSafe(t *testing.T) {
	for in, want := range map[string]string{
		"Siti Aminah":  "siti-aminah",
		"../etc":       "etc",
		"  ":           "recipient",
		"Mak_Cik-2025": "mak_cik-2025",
	} {
		if got := fileSafe(in); got != want {
			t.Errorf("fileSafe(%q) = %q, want %q", in, got, want)
		}
	}
}
