package reconcile

import (
	"context"
	"sync"

	"github.com/30x/k8s-svc-gw-mgr/gateway"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

type fakeRenderer struct {
	rec  *recorder
	conf string
	err  error
}

func (f *fakeRenderer) Render(snapshot *gateway.Snapshot) (string, error) {
	f.rec.add("render")

	return f.conf, f.err
}

type fakeStore struct {
	rec      *recorder
	conf     string
	readErr  error
	writeErr error
}

func (f *fakeStore) Read() (string, error) {
	f.rec.add("read")

	return f.conf, f.readErr
}

func (f *fakeStore) Write(conf string) error {
	f.rec.add("write")

	if f.writeErr != nil {
		return f.writeErr
	}

	f.conf = conf

	return nil
}

type fakeReloader struct {
	rec *recorder
	err error
}

func (f *fakeReloader) Reload(ctx context.Context) error {
	f.rec.add("reload")

	return f.err
}

type fakeRegistry struct {
	services []gateway.ServiceRecord
	err      error
	// entered is signaled, when set, once a fetch has started
	entered chan struct{}
	// release, when set, blocks fetches until closed
	release chan struct{}
}

func (f *fakeRegistry) FetchServices(ctx context.Context) ([]gateway.ServiceRecord, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}

	if f.release != nil {
		<-f.release
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return f.services, f.err
}
