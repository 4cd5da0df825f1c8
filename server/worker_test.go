package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chazu/moonshine/pkg/driver"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	d, err := driver.New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWorker(d)
	t.Cleanup(w.Stop)
	return w
}

func TestWorkerDo(t *testing.T) {
	w := newTestWorker(t)
	got, err := w.Do(context.Background(), func(d *driver.Driver) (any, error) {
		c, err := d.Compile([]byte("+++"))
		if err != nil {
			return nil, err
		}
		return c.Program.String(), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "add +3\n" {
		t.Errorf("got %q", got)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := newTestWorker(t)
	_, err := w.Do(context.Background(), func(*driver.Driver) (any, error) {
		panic("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v", err)
	}
	// The worker survives.
	if _, err := w.Do(context.Background(), func(*driver.Driver) (any, error) { return nil, nil }); err != nil {
		t.Errorf("after panic: %v", err)
	}
}

func TestWorkerSerializes(t *testing.T) {
	w := newTestWorker(t)
	var (
		wg      sync.WaitGroup
		running int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Do(context.Background(), func(*driver.Driver) (any, error) {
				running++
				if running > maxSeen {
					maxSeen = running
				}
				time.Sleep(time.Millisecond)
				running--
				return nil, nil
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("%d requests ran at once", maxSeen)
	}
}

func TestWorkerContext(t *testing.T) {
	w := newTestWorker(t)
	release := make(chan struct{})
	go w.Do(context.Background(), func(*driver.Driver) (any, error) {
		<-release
		return nil, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := w.Do(ctx, func(*driver.Driver) (any, error) { return nil, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestWorkerStopped(t *testing.T) {
	w := newTestWorker(t)
	w.Stop()
	w.Stop()
	_, err := w.Do(context.Background(), func(*driver.Driver) (any, error) { return nil, nil })
	if !errors.Is(err, errStopped) {
		t.Errorf("err = %v", err)
	}
}

func TestWorkerStopReleasesQueued(t *testing.T) {
	w := newTestWorker(t)
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	go w.Do(context.Background(), func(*driver.Driver) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	errc := make(chan error, 1)
	go func() {
		_, err := w.Do(context.Background(), func(*driver.Driver) (any, error) { return nil, nil })
		errc <- err
	}()
	// Give the second request time to be queued behind the first.
	time.Sleep(10 * time.Millisecond)
	w.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, errStopped) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued Do never returned after Stop")
	}
}
