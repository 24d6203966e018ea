package modloader

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nfrund/modhost/internal/testutils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_EndToEndReload(t *testing.T) {
	logs := testutils.CaptureLogs(t)
	env := newTestEnv(t)
	path := env.writeModule(t, "example", "build-1", testutils.NewModuleBuild("example", "rev-1", nil))

	// (1) first build becomes active
	env.loader.Notify(path)
	env.loader.Update()

	oldRef, ok := env.loader.AcquireModuleReferenceOfContext("example")
	require.True(t, ok)
	assert.Equal(t, "example", oldRef.GetScriptModule())
	assert.Equal(t, "rev-1", oldRef.GetScriptModuleRevisionHash())
	assert.True(t, strings.HasPrefix(oldRef.GetModulePath(), testCacheDir))
	oldPath := oldRef.GetModulePath()

	// (2) rebuilt binary replaces it while the old reference is held
	env.writeModule(t, "example", "build-2", testutils.NewModuleBuild("example", "rev-2", nil))
	env.loader.Notify(path)
	env.loader.Update()

	assert.Equal(t, "rev-1", oldRef.GetScriptModuleRevisionHash())

	newRef, ok := env.loader.AcquireModuleReferenceOfContext("example")
	require.True(t, ok)
	assert.Equal(t, "rev-2", newRef.GetScriptModuleRevisionHash())
	assert.NotEqual(t, oldPath, newRef.GetModulePath())
	assert.Equal(t, 2, env.platform.OpenCount())

	// (3) dropping the last old reference unloads it on the next Update only
	oldRef.Release()
	assert.Equal(t, 2, env.platform.OpenCount())
	assert.Equal(t, 1, env.loader.PendingReclaims())

	env.loader.Update()
	assert.Equal(t, 1, env.platform.OpenCount())
	assert.Equal(t, []string{oldPath}, env.platform.ClosedPaths())
	assert.Contains(t, logs.String(), "Lazy unloaded the shared library")

	exists, err := afero.Exists(env.fs, oldPath)
	require.NoError(t, err)
	assert.False(t, exists, "cached copy is removed after reclaim")

	assert.Equal(t, "rev-2", newRef.GetScriptModuleRevisionHash())
	newRef.Release()
}

func TestLoader_AcquireUnknownContext(t *testing.T) {
	env := newTestEnv(t)

	ref, ok := env.loader.AcquireModuleReferenceOfContext("nothing")
	assert.False(t, ok)
	assert.Nil(t, ref)
}

func TestLoader_ConcurrentReferencesKeepModuleAlive(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeModule(t, "combat-ai", "b1", testutils.NewModuleBuild("combat-ai", "r1", nil))
	env.loader.Notify(path)
	env.loader.Update()

	const n = 64
	refs := make([]Reference, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, ok := env.loader.AcquireModuleReferenceOfContext("combat-ai")
			if assert.True(t, ok) {
				refs[i] = ref
			}
		}(i)
	}
	wg.Wait()

	// Loader lets go of its own share.
	env.loader.Unload()
	assert.Equal(t, 1, env.platform.OpenCount())

	for i := 0; i < n-1; i++ {
		refs[i].Release()
	}
	env.loader.Update()
	assert.Equal(t, 1, env.platform.OpenCount(), "one reference still held")
	assert.Equal(t, "r1", refs[n-1].GetScriptModuleRevisionHash())

	refs[n-1].Release()
	assert.Equal(t, 1, env.platform.OpenCount(), "release never unloads synchronously")
	env.loader.Update()
	assert.Equal(t, 0, env.platform.OpenCount())
}

func TestLoader_AcquireRacesWithPublish(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeModule(t, "example", "b0", testutils.NewModuleBuild("example", "r0", nil))
	env.loader.Notify(path)
	env.loader.Update()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ref, ok := env.loader.AcquireModuleReferenceOfContext("example")
				if !assert.True(t, ok) {
					return
				}
				assert.NotEmpty(t, ref.GetScriptModuleRevisionHash())
				ref.Release()
			}
		}()
	}

	for i := 1; i <= 20; i++ {
		build := "b" + string(rune('a'+i))
		env.writeModule(t, "example", build, testutils.NewModuleBuild("example", build, nil))
		env.loader.Notify(path)
		env.loader.Update()
	}
	close(stop)
	wg.Wait()

	env.loader.Update()
	assert.Equal(t, 1, env.platform.OpenCount())
}

func TestLoader_AddScriptsRunsOncePerActivation(t *testing.T) {
	env := newTestEnv(t)
	calls := map[string]int{}
	path := env.writeModule(t, "example", "b1", testutils.NewModuleBuild("example", "r1", func() { calls["r1"]++ }))

	env.loader.Notify(path)
	env.loader.Notify(path) // coalesced
	env.loader.Update()

	for i := 0; i < 5; i++ {
		ref, ok := env.loader.AcquireModuleReferenceOfContext("example")
		require.True(t, ok)
		ref.Release()
	}
	env.loader.Update()
	assert.Equal(t, map[string]int{"r1": 1}, calls)

	env.writeModule(t, "example", "b2", testutils.NewModuleBuild("example", "r2", func() { calls["r2"]++ }))
	env.loader.Notify(path)
	env.loader.Update()
	assert.Equal(t, map[string]int{"r1": 1, "r2": 1}, calls)
}

func TestLoader_AddScriptsSeesNewModuleAsActive(t *testing.T) {
	env := newTestEnv(t)
	var seen string
	lib := testutils.NewModuleBuild("example", "r1", func() {
		ref, ok := env.loader.AcquireModuleReferenceOfContext("example")
		if ok {
			seen = ref.GetScriptModuleRevisionHash()
			ref.Release()
		}
	})
	path := env.writeModule(t, "example", "b1", lib)

	env.loader.Notify(path)
	env.loader.Update()
	assert.Equal(t, "r1", seen)
}

func TestLoader_FailedReloadKeepsActiveModule(t *testing.T) {
	logs := testutils.CaptureLogs(t)
	env := newTestEnv(t)
	path := env.writeModule(t, "example", "good", testutils.NewModuleBuild("example", "good-rev", nil))
	env.loader.Notify(path)
	env.loader.Update()

	// Missing entry points.
	env.writeModule(t, "example", "partial", testutils.NewModuleBuild("example", "bad-rev", nil).Without(SymbolAddScripts))
	env.loader.Notify(path)
	env.loader.Update()

	// Not a library at all.
	require.NoError(t, afero.WriteFile(env.fs, path, []byte("half written"), 0o644))
	env.loader.Notify(path)
	env.loader.Update()

	ref, ok := env.loader.AcquireModuleReferenceOfContext("example")
	require.True(t, ok)
	assert.Equal(t, "good-rev", ref.GetScriptModuleRevisionHash())
	ref.Release()

	assert.Equal(t, 1, env.platform.OpenCount())
	assert.Equal(t, 0, env.loader.PendingReclaims())

	entries, err := afero.ReadDir(env.fs, testCacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed candidates leave no cached copy behind")

	msg, ok := env.events.last(TopicModuleLoadFailed)
	require.True(t, ok)
	ev, err := DecodeEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, "example", ev.Context)
	assert.Equal(t, string(ErrorTypeLoad), ev.ErrorType)

	assert.Equal(t, 2, strings.Count(logs.String(), "level=ERROR"), "each failed load is logged once")
	assert.Contains(t, logs.String(), "error_type=symbol")
}

func TestLoader_FilenameGate(t *testing.T) {
	env := newTestEnv(t)
	lib := testutils.NewModuleBuild("x", "r", nil)

	for _, name := range []string{"libmod_.so", "mod_combat.so", "libmod_combat.txt", "README.md"} {
		p := filepath.Join(testModulesDir, name)
		require.NoError(t, env.platform.WriteBuild(p, "x-"+name, lib))
		env.loader.Notify(p)
	}
	env.loader.Update()

	assert.Empty(t, env.loader.Contexts())
	assert.Equal(t, 0, env.platform.LoadCount())
}

func TestLoader_ContextAllowList(t *testing.T) {
	env := newTestEnv(t, "spells")
	spells := env.writeModule(t, "spells", "s", testutils.NewModuleBuild("spells", "r", nil))
	other := env.writeModule(t, "creatures", "c", testutils.NewModuleBuild("creatures", "r", nil))

	env.loader.Notify(spells)
	env.loader.Notify(other)
	env.loader.Update()

	assert.Equal(t, []string{"spells"}, env.loader.Contexts())
}

func TestLoader_InitializeLoadsExistingModules(t *testing.T) {
	env := newTestEnv(t)
	env.writeModule(t, "spells", "s", testutils.NewModuleBuild("spells", "rs", nil))
	env.writeModule(t, "creatures", "c", testutils.NewModuleBuild("creatures", "rc", nil))
	require.NoError(t, afero.WriteFile(env.fs, filepath.Join(testModulesDir, "notes.txt"), []byte("x"), 0o644))

	// Leftover from a previous run.
	require.NoError(t, env.fs.MkdirAll(testCacheDir, 0o755))
	stale := filepath.Join(testCacheDir, "libmod_spells.deadbeef.so")
	require.NoError(t, afero.WriteFile(env.fs, stale, []byte("s"), 0o644))

	require.NoError(t, env.loader.Initialize())

	assert.Equal(t, []string{"creatures", "spells"}, env.loader.Contexts())
	exists, err := afero.Exists(env.fs, stale)
	require.NoError(t, err)
	assert.False(t, exists)

	st, ok := env.loader.Status("spells")
	require.True(t, ok)
	assert.Equal(t, "rs", st.RevisionHash)
	assert.Equal(t, "spells", st.ScriptModule)
	assert.Equal(t, filepath.Join(testModulesDir, "libmod_spells.so"), st.Source)
	assert.Equal(t, int64(0), st.References)
}

func TestLoader_InitializeWithoutModulesDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := New(Options{ModulesDir: "/nope", CacheDir: "/tmp/cache", Naming: posixNaming},
		Dependencies{Platform: testutils.NewFakePlatform(fs), Fs: fs})

	require.NoError(t, l.Initialize())
	assert.Empty(t, l.Contexts())
}

func TestLoader_UnloadDefersReferencedModules(t *testing.T) {
	env := newTestEnv(t)
	a := env.writeModule(t, "a", "a", testutils.NewModuleBuild("a", "ra", nil))
	b := env.writeModule(t, "b", "b", testutils.NewModuleBuild("b", "rb", nil))
	env.loader.Notify(a)
	env.loader.Notify(b)
	env.loader.Update()

	held, ok := env.loader.AcquireModuleReferenceOfContext("a")
	require.True(t, ok)

	env.loader.Unload()

	_, ok = env.loader.AcquireModuleReferenceOfContext("a")
	assert.False(t, ok)
	assert.Empty(t, env.loader.Contexts())
	assert.Equal(t, 1, env.platform.OpenCount(), "b is unloaded, a is still referenced")
	assert.Equal(t, "ra", held.GetScriptModuleRevisionHash())

	held.Release()
	env.loader.Update()
	assert.Equal(t, 0, env.platform.OpenCount())
	assert.Contains(t, env.events.topics(), TopicModuleUnloaded)
	assert.Contains(t, env.events.topics(), TopicModuleReclaimed)
}

func TestLoader_ReleaseFromInsideModuleCode(t *testing.T) {
	env := newTestEnv(t)
	var self Reference
	openDuringCallback := -1

	lib := testutils.NewModuleBuild("example", "r1", nil)
	lib.Symbols[SymbolScriptModule] = func() string {
		// Script code dropping the last reference to its own module.
		if self != nil {
			self.Release()
			openDuringCallback = env.platform.OpenCount()
		}
		return "example"
	}
	path := env.writeModule(t, "example", "b1", lib)
	env.loader.Notify(path)
	env.loader.Update()

	ref, ok := env.loader.AcquireModuleReferenceOfContext("example")
	require.True(t, ok)
	self = ref
	env.loader.Unload() // loader's own share gone; ref is the last one

	m := ref.(*moduleRef).m.Load()
	require.NotNil(t, m)
	assert.Equal(t, "example", m.GetScriptModule())

	assert.Equal(t, 1, openDuringCallback, "library stays mapped while its code runs")
	assert.Equal(t, 1, env.loader.PendingReclaims())

	env.loader.Update()
	assert.Equal(t, 0, env.platform.OpenCount())
}

func TestLoader_NotifyContextUsesSource(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeModule(t, "example", "b1", testutils.NewModuleBuild("example", "r1", nil))

	assert.Equal(t, path, env.loader.NotifyContext("example"), "unknown contexts map to the canonical file")
	env.loader.Update()
	assert.Equal(t, path, env.loader.NotifyContext("example"))

	env.loader.Update()
	assert.Equal(t, 2, env.platform.LoadCount())
}

func TestLoader_PublishesLifecycleEvents(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeModule(t, "example", "b1", testutils.NewModuleBuild("example", "r1", nil))
	env.loader.Notify(path)
	env.loader.Update()

	env.writeModule(t, "example", "b2", testutils.NewModuleBuild("example", "r2", nil))
	env.loader.Notify(path)
	env.loader.Update()
	env.loader.Update()

	assert.Equal(t, []string{TopicModuleLoaded, TopicModuleLoaded, TopicModuleReclaimed}, env.events.topics())

	msg, ok := env.events.last(TopicModuleLoaded)
	require.True(t, ok)
	assert.Equal(t, "example", msg.Context)
	assert.Equal(t, "r2", msg.Metadata["revision_hash"])

	ev, err := DecodeEvent(msg)
	require.NoError(t, err)
	assert.True(t, ev.Replaced)
	assert.Equal(t, "example", ev.ScriptModule)
	assert.Equal(t, path, ev.Source)
	assert.NotEmpty(t, ev.EventID)
}

func TestReference_ReleaseIsIdempotentAndUseAfterReleasePanics(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeModule(t, "example", "b1", testutils.NewModuleBuild("example", "r1", nil))
	env.loader.Notify(path)
	env.loader.Update()

	ref, ok := env.loader.AcquireModuleReferenceOfContext("example")
	require.True(t, ok)

	ref.Release()
	ref.Release()
	assert.Panics(t, func() { ref.GetScriptModule() })

	st, ok := env.loader.Status("example")
	require.True(t, ok)
	assert.Equal(t, int64(0), st.References)
}

func TestDefaultLoader(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeModule(t, "example", "b1", testutils.NewModuleBuild("example", "r1", nil))
	env.loader.Notify(path)
	env.loader.Update()

	prev := SetDefault(env.loader)
	t.Cleanup(func() { SetDefault(prev) })

	assert.Same(t, env.loader, Default())
	ref, ok := AcquireModuleReferenceOfContext("example")
	require.True(t, ok)
	assert.Equal(t, "r1", ref.GetScriptModuleRevisionHash())
	ref.Release()

	SetDefault(nil)
	_, ok = AcquireModuleReferenceOfContext("example")
	assert.False(t, ok)
}

func TestLoader_InitializeTwiceStartsOver(t *testing.T) {
	env := newTestEnv(t)
	env.writeModule(t, "spells", "s1", testutils.NewModuleBuild("spells", "r1", nil))
	require.NoError(t, env.loader.Initialize())

	env.writeModule(t, "spells", "s2", testutils.NewModuleBuild("spells", "r2", nil))
	require.NoError(t, env.loader.Initialize())

	assert.Equal(t, 1, env.platform.OpenCount())
	st, ok := env.loader.Status("spells")
	require.True(t, ok)
	assert.Equal(t, "r2", st.RevisionHash)
}
