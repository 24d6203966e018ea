package modloader

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nfrund/modhost/internal/dynlib"
	"github.com/nfrund/modhost/internal/pubsub"
	"github.com/nfrund/modhost/internal/testutils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	testModulesDir = "/srv/modules"
	testCacheDir   = "/srv/modules/.cache"
)

var posixNaming = dynlib.NewNaming("libmod", "so")

type testEnv struct {
	fs       afero.Fs
	platform *testutils.FakePlatform
	events   *recordingPublisher
	loader   *Loader
}

func newTestEnv(t *testing.T, contexts ...string) *testEnv {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testModulesDir, 0o755))

	platform := testutils.NewFakePlatform(fs)
	events := &recordingPublisher{}
	loader := New(Options{
		ModulesDir: testModulesDir,
		CacheDir:   testCacheDir,
		Naming:     posixNaming,
		Contexts:   contexts,
	}, Dependencies{
		Platform:  platform,
		Fs:        fs,
		Publisher: events,
	})

	return &testEnv{fs: fs, platform: platform, events: events, loader: loader}
}

// writeModule drops a module binary for moduleContext into the modules dir.
func (e *testEnv) writeModule(t *testing.T, moduleContext, build string, lib *testutils.FakeLibrary) string {
	t.Helper()

	path := filepath.Join(testModulesDir, posixNaming.FileName(moduleContext))
	require.NoError(t, e.platform.WriteBuild(path, build, lib))
	return path
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []pubsub.Message
}

func (p *recordingPublisher) Publish(ctx context.Context, msg pubsub.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.Topic)
	}
	return out
}

func (p *recordingPublisher) last(topic string) (pubsub.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].Topic == topic {
			return p.messages[i], true
		}
	}
	return pubsub.Message{}, false
}
