package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.FileChecked()
	r.FileChecked()
	r.FilesHashed(2)
	r.FilesHashed(0)
	r.Retry()
	r.Download(OutcomeCorrupted, 10)
	r.Download(OutcomeOK, 1024)
	r.MembersExtracted(3)
	r.MembersExtracted(0)
	r.Reconcile("rename", "renamed")

	if got := testutil.ToFloat64(r.filesChecked); got != 2 {
		t.Errorf("files checked = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.filesHashed); got != 2 {
		t.Errorf("files hashed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.retries); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.downloadBytes); got != 1024 {
		t.Errorf("download bytes = %v, want 1024 (corrupted attempts excluded)", got)
	}
	if got := testutil.ToFloat64(r.downloads.WithLabelValues(OutcomeCorrupted)); got != 1 {
		t.Errorf("corrupted downloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.membersWritten); got != 3 {
		t.Errorf("members = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.reconcileOps.WithLabelValues("rename", "renamed")); got != 1 {
		t.Errorf("reconcile = %v, want 1", got)
	}
}

func TestRecorder_PassFinished(t *testing.T) {
	r := NewRecorder()
	states := []string{"success", "failed"}

	r.PassFinished("failed", states, time.Second)
	r.PassFinished("success", states, 2*time.Second)

	if got := testutil.ToFloat64(r.lastPassState.WithLabelValues("success")); got != 1 {
		t.Errorf("success gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.lastPassState.WithLabelValues("failed")); got != 0 {
		t.Errorf("failed gauge = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(r.passDuration); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	r.FileChecked()
	r.FilesHashed(1)
	r.Retry()
	r.Download(OutcomeOK, 1)
	r.MembersExtracted(1)
	r.Reconcile("delete", "removed")
	r.PassFinished("success", nil, time.Second)
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("WriteTextfile() on nil = %v", err)
	}
	if r.Registry() != nil {
		t.Error("Registry() on nil should be nil")
	}
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.FileChecked()

	path := filepath.Join(t.TempDir(), "textfile", "mansync.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "mansync_files_checked_total 1") {
		t.Errorf("textfile missing counter:\n%s", data)
	}
}
