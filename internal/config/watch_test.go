package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// startWatch runs Watch on p and rewrites it with body until the first
// reload arrives. Writes are spaced wider than the debounce window, which
// restarts on every event.
func startWatch(t *testing.T, p, body string) (<-chan Config, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, p, zerolog.Nop(), func(c Config) { got <- c })
	}()
	var once sync.Once
	var werr error
	stop := func() error {
		once.Do(func() {
			cancel()
			werr = <-done
		})
		return werr
	}
	t.Cleanup(func() { _ = stop() })

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(2 * debounce)
	defer tick.Stop()
	for {
		select {
		case c := <-got:
			if c.Addr != ":2222" {
				cancel()
				t.Fatalf("unexpected reload: %+v", c)
			}
			return got, stop
		case <-tick.C:
			if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
				cancel()
				t.Fatal(err)
			}
		case <-deadline:
			cancel()
			t.Fatal("config change not observed")
		}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "proofduck.yaml", "addr: :1111\n")
	_, stop := startWatch(t, p, "addr: :2222\n")
	if err := stop(); err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestWatch_DebouncesBurst(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "proofduck.yaml", "addr: :1111\n")
	got, stop := startWatch(t, p, "addr: :2222\n")
	// Drain reloads from writes still in flight when the first one landed.
	time.Sleep(3 * debounce)
	for len(got) > 0 {
		<-got
	}

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(p, []byte("addr: :3333\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(debounce / 10)
	}
	select {
	case c := <-got:
		if c.Addr != ":3333" {
			t.Fatalf("unexpected reload: %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("burst not observed")
	}
	select {
	case c := <-got:
		t.Fatalf("burst produced a second reload: %+v", c)
	case <-time.After(3 * debounce):
	}
	if err := stop(); err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "proofduck.yaml", "addr: :1111\n")
	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()

	calls := 0
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("addr: :3\n"), 0o644)
	}()
	if err := Watch(ctx, p, zerolog.Nop(), func(Config) { calls++ }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if calls != 0 {
		t.Fatalf("unrelated file triggered %d reloads", calls)
	}
}
