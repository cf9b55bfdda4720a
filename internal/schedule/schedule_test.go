package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/capturenode/internal/capture"
)

type recorder struct {
	mu     sync.Mutex
	writes []map[string]capture.Value
	source []string
	err    error
}

func (r *recorder) SetProperties(props map[string]capture.Value, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, props)
	r.source = append(r.source, source)
	return r.err
}

func newScheduler(target Target) *Scheduler {
	return New(target, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidate(t *testing.T) {
	s := newScheduler(&recorder{})
	photo := map[string]capture.Value{"take photo": capture.Bool(true)}

	tests := []struct {
		name    string
		entries []Entry
		wantErr bool
	}{
		{"standard", []Entry{{Spec: "*/5 * * * *", Properties: photo}}, false},
		{"descriptor", []Entry{{Spec: "@every 5m", Properties: photo}}, false},
		{"seconds field", []Entry{{Spec: "0 */5 * * * *", Properties: photo}}, true},
		{"garbage", []Entry{{Spec: "whenever", Properties: photo}}, true},
		{"no properties", []Entry{{Spec: "@hourly"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.entries)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReplaceRejectsInvalidSet(t *testing.T) {
	s := newScheduler(&recorder{})
	good := Entry{Name: "photo", Spec: "@every 5m", Properties: map[string]capture.Value{"take photo": capture.Bool(true)}}

	if err := s.Replace([]Entry{good}); err != nil {
		t.Fatal(err)
	}
	if err := s.Replace([]Entry{good, {Spec: "bad"}}); err == nil {
		t.Fatal("invalid set accepted")
	}
	if got := s.Entries(); len(got) != 1 || got[0].Name != "photo" {
		t.Errorf("entries = %v, want the previous set kept", got)
	}
}

func TestJobSubmitsProperties(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(rec)

	e := Entry{Name: "photo", Spec: "@every 5m", Properties: map[string]capture.Value{"take photo": capture.Bool(true)}}
	s.job(e)()

	if len(rec.writes) != 1 || !rec.writes[0]["take photo"].Bool() {
		t.Fatalf("writes = %v", rec.writes)
	}
	if rec.source[0] != "schedule:photo" {
		t.Errorf("source = %q", rec.source[0])
	}

	rec.err = errors.New("queue full")
	s.job(e)()
	if len(rec.writes) != 2 {
		t.Error("failing target not called")
	}
}

func TestStartRunsEntries(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(rec)

	err := s.Replace([]Entry{{Spec: "@every 1s", Properties: map[string]capture.Value{"fps": capture.Int(30)}}})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		n := len(rec.writes)
		rec.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.writes) == 0 {
		t.Fatal("entry never ran")
	}
	if got := rec.writes[0]["fps"].Int(); got != 30 {
		t.Errorf("fps = %d", got)
	}
}
