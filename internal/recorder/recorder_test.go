package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/encoder"
	"github.com/smazurov/ptzrec/internal/events"
	"github.com/smazurov/ptzrec/internal/ffmpeg"
	"github.com/smazurov/ptzrec/internal/health"
	"github.com/smazurov/ptzrec/internal/slot"
)

func TestMain(m *testing.M) {
	// The event bus parks a consumer goroutine per subscribed type.
	goleak.VerifyTestMain(m, goleak.IgnoreAnyContainingPkg("github.com/kelindar/event"))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Fake encoders. $1 is the output path.
const (
	healthyScript = `out=$1
( while :; do printf x >> "$out"; sleep 0.01; done ) &
w=$!
read -r _
kill $w
exit 0`
	// stalledScript writes a header and never grows.
	stalledScript = `printf hdr > "$1"; read -r _; exit 0`
	crashScript   = `echo "[error] Connection refused" >&2; exit 1`
)

type fixedEndpoint struct{}

func (fixedEndpoint) ResolveStreamEndpoint(tier camera.Tier) (camera.Endpoint, error) {
	return camera.Endpoint{URL: "rtsp://admin:pw@cam:554/stream1", Tier: camera.TierPrimary}, nil
}

type brokenEndpoint struct{}

func (brokenEndpoint) ResolveStreamEndpoint(camera.Tier) (camera.Endpoint, error) {
	return camera.Endpoint{}, errors.New("camera offline")
}

// launches records every encoder command line built.
type launches struct {
	mu    sync.Mutex
	times []time.Time
	paths []string
}

func (l *launches) add(path string) {
	l.mu.Lock()
	l.times = append(l.times, time.Now())
	l.paths = append(l.paths, path)
	l.mu.Unlock()
}

func (l *launches) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.times)
}

func (l *launches) snapshot() ([]time.Time, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.times...), append([]string(nil), l.paths...)
}

// scriptEncoder runs script(segment) under /bin/sh for each launch.
func scriptEncoder(l *launches, script func(segment int) string) *encoder.Manager {
	return encoder.NewManager(encoder.Config{Path: "/bin/sh", KillTimeout: 500 * time.Millisecond}, testLogger(),
		encoder.WithArgsBuilder(func(bin string, p encoder.LaunchParams) []string {
			l.add(p.OutputPath)
			return []string{bin, "-c", script(p.Segment), "sh", p.OutputPath}
		}))
}

func always(script string) func(int) string {
	return func(int) string { return script }
}

func plentyOfDisk(string) (health.DiskStats, error) {
	return health.DiskStats{Free: 100 << 30, Total: 200 << 30}, nil
}

func fastMonitor(opts ...health.MonitorOption) *health.Monitor {
	opts = append([]health.MonitorOption{health.WithStatfs(plentyOfDisk)}, opts...)
	return health.NewMonitor(health.Config{
		PollInterval: 10 * time.Millisecond,
		StartupGrace: 150 * time.Millisecond,
		StallPolls:   5,
		MinFreeBytes: 1 << 30,
	}, testLogger(), opts...)
}

func fastConfig() Config {
	return Config{
		GracefulTimeout:        time.Second,
		MaxConsecutiveRestarts: 5,
		HealthyAfter:           time.Minute,
		RestartDelay:           time.Millisecond,
		SlotWait:               time.Second,
	}
}

func request(t *testing.T, d time.Duration) Request {
	return Request{
		Folder:          t.TempDir(),
		SegmentDuration: d,
		Overlap:         time.Second,
		Preset:          ffmpeg.PresetLow,
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartAndStop(t *testing.T) {
	var l launches
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger())

	req := request(t, time.Minute)
	id, err := o.StartRecording(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || o.JobID() != id {
		t.Errorf("job id = %q / %q", id, o.JobID())
	}
	if o.State() != StateRecording {
		t.Fatalf("state = %v", o.State())
	}

	waitFor(t, 2*time.Second, "segment to grow", func() bool { return o.Health().FileSize > 0 })
	time.Sleep(50 * time.Millisecond)

	h := o.Health()
	if !h.Recording || h.Segment != 1 || h.State != "recording" {
		t.Errorf("health = %+v", h)
	}
	if h.BitrateKbps <= 0 || h.ElapsedSeconds <= 0 {
		t.Errorf("bitrate %.1f elapsed %.3f", h.BitrateKbps, h.ElapsedSeconds)
	}
	if h.DiskFreeBytes != 100<<30 || h.LowDisk {
		t.Errorf("disk = %d low=%v", h.DiskFreeBytes, h.LowDisk)
	}
	if filepath.Dir(h.SegmentPath) != req.Folder {
		t.Errorf("segment path %q not in %q", h.SegmentPath, req.Folder)
	}

	if err := o.StopRecording(); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateStopped {
		t.Errorf("state = %v, want stopped", o.State())
	}
	info, err := os.Stat(h.SegmentPath)
	if err != nil || info.Size() == 0 {
		t.Errorf("segment file missing after stop: %v", err)
	}
	if l.count() != 1 {
		t.Errorf("launches = %d, want 1", l.count())
	}

	if err := o.StopRecording(); err != nil {
		t.Errorf("second stop: %v", err)
	}
	if l.count() != 1 {
		t.Error("second stop spawned an encoder")
	}
}

func TestStopWhenIdle(t *testing.T) {
	var l launches
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger())
	if err := o.StopRecording(); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateIdle {
		t.Errorf("state = %v", o.State())
	}
	if h := o.Health(); h.Recording || h.JobID != "" {
		t.Errorf("health = %+v", h)
	}
}

func TestRotation(t *testing.T) {
	var l launches
	// The lock file catches two encoders running at once.
	script := `out=$1; dir=$(dirname "$out")
if [ -e "$dir/.active" ]; then touch "$dir/.overlap"; fi
touch "$dir/.active"
( while :; do printf x >> "$out"; sleep 0.01; done ) &
w=$!
read -r _
kill $w
rm -f "$dir/.active"
exit 0`
	o := New(fastConfig(), scriptEncoder(&l, always(script)), fastMonitor(), fixedEndpoint{}, testLogger())

	const d = 200 * time.Millisecond
	req := request(t, d)
	if _, err := o.StartRecording(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, "three segments", func() bool { return l.count() >= 3 })
	if err := o.StopRecording(); err != nil {
		t.Fatal(err)
	}

	times, paths := l.snapshot()
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap < d {
			t.Errorf("segment %d started %v after previous, before the %v segment length", i+1, gap, d)
		}
		if gap > d+o.cfg.GracefulTimeout+300*time.Millisecond {
			t.Errorf("segment %d gap %v exceeds length + graceful timeout", i+1, gap)
		}
	}
	for i, p := range paths {
		want := "_seg00" + string(rune('1'+i)) + ".mp4"
		if filepath.Ext(p) != ".mp4" || !strings.HasSuffix(p, want) {
			t.Errorf("path %d = %q, want suffix %q", i, p, want)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("segment file %s missing: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(req.Folder, ".overlap")); err == nil {
		t.Error("two encoder invocations overlapped")
	}
	if h := o.Health(); h.Restarts != 0 || len(h.Warnings) != 0 {
		t.Errorf("healthy rotation produced warnings: %+v", h.Warnings)
	}
}

func TestStallStartsReplacementSegment(t *testing.T) {
	var l launches
	script := func(segment int) string {
		if segment == 1 {
			return stalledScript
		}
		return healthyScript
	}
	o := New(fastConfig(), scriptEncoder(&l, script), fastMonitor(), fixedEndpoint{}, testLogger())

	if _, err := o.StartRecording(context.Background(), request(t, time.Minute)); err != nil {
		t.Fatal(err)
	}
	defer o.StopRecording()

	waitFor(t, 2*time.Second, "replacement segment", func() bool { return l.count() >= 2 })
	waitFor(t, time.Second, "recording state", func() bool { return o.State() == StateRecording })

	h := o.Health()
	if h.Segment != 2 || h.Restarts != 1 {
		t.Errorf("segment %d restarts %d, want 2 and 1", h.Segment, h.Restarts)
	}
	if len(h.Warnings) == 0 || h.Warnings[0].Kind != "stall" || h.Warnings[0].Segment != 1 {
		t.Errorf("warnings = %+v", h.Warnings)
	}

	_, paths := l.snapshot()
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("stalled segment deleted: %v", err)
	}
	if string(data) != "hdr" {
		t.Errorf("stalled segment modified: %q", data)
	}
	if paths[0] == paths[1] {
		t.Error("replacement reused the stalled segment's path")
	}
}

func TestStartupFailure(t *testing.T) {
	var l launches
	script := func(segment int) string {
		if segment == 1 {
			return `read -r _; exit 0`
		}
		return healthyScript
	}
	o := New(fastConfig(), scriptEncoder(&l, script), fastMonitor(), fixedEndpoint{}, testLogger())
	if _, err := o.StartRecording(context.Background(), request(t, time.Minute)); err != nil {
		t.Fatal(err)
	}
	defer o.StopRecording()

	waitFor(t, 2*time.Second, "replacement segment", func() bool { return l.count() >= 2 })
	waitFor(t, time.Second, "warning", func() bool { return len(o.Health().Warnings) > 0 })
	if k := o.Health().Warnings[0].Kind; k != "startup_failure" {
		t.Errorf("warning kind = %q", k)
	}
}

func TestStderrErrorKeepsGrowingSegment(t *testing.T) {
	var l launches
	script := `echo "[error] Connection timed out" >&2
` + healthyScript
	o := New(fastConfig(), scriptEncoder(&l, always(script)), fastMonitor(), fixedEndpoint{}, testLogger())
	if _, err := o.StartRecording(context.Background(), request(t, time.Minute)); err != nil {
		t.Fatal(err)
	}
	defer o.StopRecording()

	waitFor(t, 2*time.Second, "diagnostic warning", func() bool { return len(o.Health().Warnings) > 0 })
	// Several polls past the startup grace with the file still growing.
	time.Sleep(300 * time.Millisecond)

	h := o.Health()
	if h.Error == "" {
		t.Error("stderr error not reported in health")
	}
	if h.Segment != 1 || h.Restarts != 0 || l.count() != 1 {
		t.Errorf("segment %d restarts %d launches %d, want 1, 0, 1", h.Segment, h.Restarts, l.count())
	}
	if o.State() != StateRecording {
		t.Errorf("state = %v, want recording", o.State())
	}
	if h.Warnings[0].Kind != "diagnostic" {
		t.Errorf("warnings = %+v", h.Warnings)
	}
}

func TestRestartDelayCappedAtPollInterval(t *testing.T) {
	var l launches
	cfg := fastConfig()
	cfg.RestartDelay = time.Second
	o := New(cfg, scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger())

	if d := o.restartDelay(1); d != 0 {
		t.Errorf("first restart delay = %v, want 0", d)
	}
	if d := o.restartDelay(4); d != 10*time.Millisecond {
		t.Errorf("delay = %v, want the 10ms poll interval", d)
	}
}

func TestExternalKillStartsNextSegment(t *testing.T) {
	var l launches
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger())
	if _, err := o.StartRecording(context.Background(), request(t, time.Minute)); err != nil {
		t.Fatal(err)
	}
	defer o.StopRecording()

	waitFor(t, 2*time.Second, "segment to grow", func() bool { return o.Health().FileSize > 0 })
	o.mu.Lock()
	pid := o.job.inv.PID()
	o.mu.Unlock()
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, "replacement segment", func() bool { return l.count() >= 2 })
	_, paths := l.snapshot()
	before, err := os.Stat(paths[0])
	if err != nil {
		t.Fatalf("killed segment removed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	after, _ := os.Stat(paths[0])
	if after.Size() != before.Size() {
		t.Errorf("killed segment changed size %d -> %d", before.Size(), after.Size())
	}

	h := o.Health()
	if h.Segment != 2 {
		t.Errorf("segment = %d, want 2", h.Segment)
	}
	if len(h.Warnings) == 0 || h.Warnings[0].Kind != "crash" {
		t.Errorf("warnings = %+v", h.Warnings)
	}
}

func TestRestartBudgetExhausted(t *testing.T) {
	var l launches
	sl := slot.New(1)
	live := &fakeSession{slot: sl}
	live.start()

	cfg := fastConfig()
	cfg.MaxConsecutiveRestarts = 2
	o := New(cfg, scriptEncoder(&l, always(crashScript)), fastMonitor(), fixedEndpoint{}, testLogger(),
		WithSlot(sl, live))

	if _, err := o.StartRecording(context.Background(), request(t, time.Minute)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, "error state", func() bool { return o.State() == StateError })

	if l.count() != cfg.MaxConsecutiveRestarts+1 {
		t.Errorf("launches = %d, want %d", l.count(), cfg.MaxConsecutiveRestarts+1)
	}
	h := o.Health()
	if h.Recording || h.Error == "" {
		t.Errorf("health = %+v", h)
	}
	if sl.Holds(SlotHolder) {
		t.Error("failed job still holds the slot")
	}
	waitFor(t, time.Second, "session resume", func() bool { return live.resumed() == 1 })

	if err := o.StopRecording(); err != nil {
		t.Errorf("stop after error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if l.count() != cfg.MaxConsecutiveRestarts+1 {
		t.Error("encoder launched after error state")
	}
}

func TestPreflightFailure(t *testing.T) {
	var l launches
	lowDisk := health.WithStatfs(func(string) (health.DiskStats, error) {
		return health.DiskStats{Free: 100 << 20}, nil
	})
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(lowDisk), fixedEndpoint{}, testLogger())

	_, err := o.StartRecording(context.Background(), request(t, time.Minute))
	if !errors.Is(err, ErrInsufficientStorage) {
		t.Fatalf("err = %v, want ErrInsufficientStorage", err)
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != CodeInsufficientStorage {
		t.Errorf("err = %#v", err)
	}
	if l.count() != 0 {
		t.Error("encoder spawned despite low disk")
	}
	if o.State() != StateIdle {
		t.Errorf("state = %v, want idle", o.State())
	}
}

func TestPreflightFailureLeavesFolderAlone(t *testing.T) {
	var l launches
	lowDisk := health.WithStatfs(func(string) (health.DiskStats, error) {
		return health.DiskStats{Free: 100 << 20}, nil
	})
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(lowDisk), fixedEndpoint{}, testLogger())

	req := request(t, time.Minute)
	parent := req.Folder
	req.Folder = filepath.Join(parent, "cam", "day1")
	if _, err := o.StartRecording(context.Background(), req); !errors.Is(err, ErrInsufficientStorage) {
		t.Fatalf("err = %v, want ErrInsufficientStorage", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "cam")); !os.IsNotExist(err) {
		t.Errorf("rejected start created the folder: %v", err)
	}
}

func TestEveryLaunchChecksDisk(t *testing.T) {
	var l launches
	var low atomic.Bool
	disk := health.WithStatfs(func(string) (health.DiskStats, error) {
		if low.Load() {
			return health.DiskStats{Free: 100 << 20, Total: 200 << 30}, nil
		}
		return health.DiskStats{Free: 100 << 30, Total: 200 << 30}, nil
	})
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(disk), fixedEndpoint{}, testLogger())

	if _, err := o.StartRecording(context.Background(), request(t, 200*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	low.Store(true)

	waitFor(t, 3*time.Second, "error state", func() bool { return o.State() == StateError })
	if l.count() != 1 {
		t.Errorf("launches = %d, want 1", l.count())
	}
	if h := o.Health(); !strings.Contains(h.Error, CodeInsufficientStorage) {
		t.Errorf("error = %q, want %s", h.Error, CodeInsufficientStorage)
	}
	_ = o.StopRecording()
}

func TestEncoderUnavailable(t *testing.T) {
	var built bool
	enc := encoder.NewManager(encoder.Config{}, testLogger(),
		encoder.WithLookPath(func(string) (string, error) { return "", errors.New("nope") }),
		encoder.WithSearchPaths(),
		encoder.WithArgsBuilder(func(string, encoder.LaunchParams) []string {
			built = true
			return nil
		}))
	sl := slot.New(1)
	live := &fakeSession{slot: sl}
	live.start()
	o := New(fastConfig(), enc, fastMonitor(), fixedEndpoint{}, testLogger(), WithSlot(sl, live))

	_, err := o.StartRecording(context.Background(), request(t, time.Minute))
	if !errors.Is(err, ErrEncoderUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if built {
		t.Error("encoder command built")
	}
	if live.suspended() != 0 {
		t.Error("live session suspended although start failed its checks")
	}
}

func TestStreamUnavailable(t *testing.T) {
	var l launches
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), brokenEndpoint{}, testLogger())
	_, err := o.StartRecording(context.Background(), request(t, time.Minute))
	if !errors.Is(err, ErrStreamUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestInvalidRequests(t *testing.T) {
	var l launches
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger())
	dir := t.TempDir()

	tests := []struct {
		name string
		req  Request
	}{
		{"no folder", Request{SegmentDuration: time.Minute}},
		{"zero duration", Request{Folder: dir}},
		{"negative duration", Request{Folder: dir, SegmentDuration: -time.Second}},
		{"negative overlap", Request{Folder: dir, SegmentDuration: time.Minute, Overlap: -time.Second}},
		{"unknown preset", Request{Folder: dir, SegmentDuration: time.Minute, Preset: "ultra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.StartRecording(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if l.count() != 0 {
		t.Error("invalid request spawned an encoder")
	}
}

func TestAlreadyRecording(t *testing.T) {
	var l launches
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger())
	if _, err := o.StartRecording(context.Background(), request(t, time.Minute)); err != nil {
		t.Fatal(err)
	}
	defer o.StopRecording()

	_, err := o.StartRecording(context.Background(), request(t, time.Minute))
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Code != CodeAlreadyRecording {
		t.Errorf("err = %v", err)
	}
	if l.count() != 1 {
		t.Errorf("launches = %d", l.count())
	}
}

func TestRestartAfterStop(t *testing.T) {
	var l launches
	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger())
	first, err := o.StartRecording(context.Background(), request(t, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	_ = o.StopRecording()
	second, err := o.StartRecording(context.Background(), request(t, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	defer o.StopRecording()
	if first == second {
		t.Error("job id reused")
	}
	if h := o.Health(); h.Segment != 1 {
		t.Errorf("new job starts at segment %d", h.Segment)
	}
}

// fakeSession holds the slot like a live preview would.
type fakeSession struct {
	slot *slot.Slot

	mu       sync.Mutex
	nSuspend int
	nResume  int
}

func (f *fakeSession) start() { f.slot.TryAcquire("session") }

func (f *fakeSession) Suspend() (bool, error) {
	f.mu.Lock()
	f.nSuspend++
	f.mu.Unlock()
	return f.slot.Release("session"), nil
}

func (f *fakeSession) Resume(context.Context) error {
	f.mu.Lock()
	f.nResume++
	f.mu.Unlock()
	f.slot.TryAcquire("session")
	return nil
}

func (f *fakeSession) suspended() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nSuspend
}

func (f *fakeSession) resumed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nResume
}

func TestSlotHandover(t *testing.T) {
	var l launches
	sl := slot.New(1)
	live := &fakeSession{slot: sl}
	live.start()

	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger(),
		WithSlot(sl, live))
	if _, err := o.StartRecording(context.Background(), request(t, time.Minute)); err != nil {
		t.Fatal(err)
	}
	if live.suspended() != 1 {
		t.Errorf("suspends = %d", live.suspended())
	}
	if got := sl.Holders(); !slices.Equal(got, []string{SlotHolder}) {
		t.Errorf("holders during recording = %v", got)
	}

	if err := o.StopRecording(); err != nil {
		t.Fatal(err)
	}
	if live.resumed() != 1 {
		t.Errorf("resumes = %d", live.resumed())
	}
	if got := sl.Holders(); !slices.Equal(got, []string{"session"}) {
		t.Errorf("holders after stop = %v", got)
	}
}

func TestSlotSharedWhenCapacityAllows(t *testing.T) {
	var l launches
	sl := slot.New(2)
	live := &fakeSession{slot: sl}
	live.start()

	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger(),
		WithSlot(sl, live))
	if _, err := o.StartRecording(context.Background(), request(t, time.Minute)); err != nil {
		t.Fatal(err)
	}
	defer o.StopRecording()
	if live.suspended() != 0 {
		t.Error("session suspended although a slot was free")
	}
}

func TestEventsPublished(t *testing.T) {
	var l launches
	bus := events.New()
	ch := make(chan any, 64)
	unsub := events.SubscribeAll(bus, ch)
	defer unsub()

	o := New(fastConfig(), scriptEncoder(&l, always(healthyScript)), fastMonitor(), fixedEndpoint{}, testLogger(),
		WithEvents(bus))
	if _, err := o.StartRecording(context.Background(), request(t, time.Minute)); err != nil {
		t.Fatal(err)
	}
	_ = o.StopRecording()

	var started, closed bool
	var states []string
	deadline := time.After(2 * time.Second)
	for !(started && closed && slices.Contains(states, "stopped")) {
		select {
		case ev := <-ch:
			switch e := ev.(type) {
			case events.SegmentStartedEvent:
				started = e.Segment == 1
			case events.SegmentClosedEvent:
				closed = e.Reason == "stop" && e.Exit == "graceful"
			case events.RecordingStateChangedEvent:
				states = append(states, e.To)
			}
		case <-deadline:
			t.Fatalf("started=%v closed=%v states=%v", started, closed, states)
		}
	}
}

func TestSegmentFileName(t *testing.T) {
	ts := time.Date(2026, 1, 27, 9, 5, 3, 0, time.UTC)
	if got := SegmentFileName(ts, 12); got != "recording_20260127_090503_seg012.mp4" {
		t.Errorf("name = %q", got)
	}
}

func TestStateActive(t *testing.T) {
	for _, s := range []State{StateStarting, StateRecording, StateRotating, StateStoppingGraceful, StateStoppingFailed} {
		if !s.Active() {
			t.Errorf("%v should be active", s)
		}
	}
	for _, s := range []State{StateIdle, StateStopped, StateError} {
		if s.Active() {
			t.Errorf("%v should not be active", s)
		}
	}
}
