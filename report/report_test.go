package report_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"blockwatch/report"
)

func sampleInfo() *report.BlockInfo {
	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)
	return &report.BlockInfo{
		Qualifier:      "1.0-release",
		UID:            "u1",
		Network:        "wifi",
		PID:            42,
		ProcessName:    "app",
		CPUCores:       8,
		FreeMemory:     1024,
		TotalMemory:    4096,
		Start:          start,
		End:            start.Add(3500 * time.Millisecond),
		ThreadTimeCost: 1200 * time.Millisecond,
		CPUBusy:        true,
		CPURateInfo:    "03-04 10:00:01.000 cpu:80% app:40% [user:50% system:30% ioWait:0% ]\n",
		Stacks: []string{
			"03-04 10:00:01.000\n\nmain.slow(/src/app/slow.go:10)\nmain.main(/src/app/main.go:5)\n",
			"03-04 10:00:02.000\n\nnet/http.(*conn).serve(/go/src/net/http/server.go:1)\nexample.com/app/db.Query(/src/app/db/db.go:30)\n",
		},
	}
}

func TestBlockInfoString(t *testing.T) {
	t.Parallel()

	info := sampleInfo()
	s := info.String()
	for _, want := range []string{
		"[basic]\n", "qua = 1.0-release\n", "process = app\n", "cpu-core = 8\n",
		"[time]\n", "time = 3500\n", "thread-time = 1200\n", "time-start = 03-04 10:00:00.000\n",
		"[cpu]\n", "cpu-busy = true\n", "cpu:80% app:40%",
		"[stack]\n", "main.slow(/src/app/slow.go:10)",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("report lacks %q:\n%s", want, s)
		}
	}
	if info.TimeCost() != 3500*time.Millisecond {
		t.Errorf("time cost = %s", info.TimeCost())
	}
}

func TestWriterSaveAndClean(t *testing.T) {
	t.Parallel()

	dir := t.TempDir() + "/reports"
	w := report.NewWriter(dir, nil)

	w.OnBlock(sampleInfo())
	path, err := w.Save("second")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	files, err := w.Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) == 0 || len(files) > 2 {
		t.Fatalf("files = %v", files)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "(write log time)") || !strings.Contains(string(body), "second") {
		t.Errorf("report body = %q", body)
	}

	if n, err := w.CleanObsolete(time.Hour); err != nil || n != 0 {
		t.Fatalf("clean fresh = %d, %v; want 0", n, err)
	}

	old := time.Now().Add(-72 * time.Hour)
	for _, f := range files {
		if err := os.Chtimes(f, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	n, err := w.CleanObsolete(0)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if n != len(files) {
		t.Errorf("removed = %d; want %d", n, len(files))
	}
}

func TestWriterDeleteAll(t *testing.T) {
	t.Parallel()

	w := report.NewWriter(t.TempDir(), nil)
	if _, err := w.Save("a"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(w.Dir()+"/unrelated.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := w.DeleteAll(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	files, _ := w.Files()
	if len(files) != 0 {
		t.Errorf("files left = %v", files)
	}
	if _, err := os.Stat(w.Dir() + "/unrelated.txt"); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestWriterFilesMissingDir(t *testing.T) {
	t.Parallel()

	w := report.NewWriter(t.TempDir()+"/absent", nil)
	files, err := w.Files()
	if err != nil || files != nil {
		t.Errorf("files = %v, %v; want nil, nil", files, err)
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	info := sampleInfo()
	tests := []struct {
		name   string
		filter *report.Filter
		want   bool
	}{
		{"nil filter", nil, true},
		{"empty filter", &report.Filter{}, true},
		{"concern touched", &report.Filter{ConcernPackages: []string{"example.com/app"}, FilterNonConcern: true}, true},
		{"concern missing", &report.Filter{ConcernPackages: []string{"example.com/other"}, FilterNonConcern: true}, false},
		{"concern missing, not filtering", &report.Filter{ConcernPackages: []string{"example.com/other"}}, true},
		{"white-listed key frame", &report.Filter{ConcernPackages: []string{"example.com/app"}, WhiteList: []string{"db.Query"}}, false},
		{"white list misses", &report.Filter{WhiteList: []string{"org.chromium"}}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.filter.Allow(info); got != tt.want {
				t.Errorf("Allow = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestKeyFrame(t *testing.T) {
	t.Parallel()

	info := sampleInfo()
	f := &report.Filter{ConcernPackages: []string{"example.com/app"}}
	if got := f.KeyFrame(info); got != "example.com/app/db.Query(/src/app/db/db.go:30)" {
		t.Errorf("key frame = %q", got)
	}
	if got := (&report.Filter{}).KeyFrame(info); !strings.HasPrefix(got, "net/http.") {
		t.Errorf("top frame = %q", got)
	}
}

func TestEnvironmentProbe(t *testing.T) {
	t.Parallel()

	p := report.NewEnvironmentProbe(nil)
	info := &report.BlockInfo{}
	p.Fill(context.Background(), info)

	if info.PID != int32(os.Getpid()) {
		t.Errorf("pid = %d; want %d", info.PID, os.Getpid())
	}
	if info.ProcessName == "" {
		t.Error("process name empty")
	}
}
