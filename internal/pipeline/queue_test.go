package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/config"
)

func drain[T any](q *Queue[T]) []T {
	var out []T
	for {
		v, ok := q.TryReceive()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestQueue_DropOldest(t *testing.T) {
	var drops atomic.Int32
	q := NewQueue[int]("control:cam_01", 2, PolicyDropOldest, func(string) { drops.Add(1) })
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, q.Send(ctx, i))
	}

	assert.Equal(t, []int{3, 4}, drain(q))
	assert.EqualValues(t, 2, q.Dropped())
	assert.EqualValues(t, 2, drops.Load())
}

func TestQueue_DropNewest(t *testing.T) {
	q := NewQueue[int]("inference", 2, PolicyDropNewest, nil)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, q.Send(ctx, i))
	}

	assert.Equal(t, []int{1, 2}, drain(q))
	assert.EqualValues(t, 2, q.Dropped())
}

func TestQueue_DropOldestShedsExpendableFirst(t *testing.T) {
	q := NewQueue[int]("control:cam_01", 2, PolicyDropOldest, nil).
		WithExpendable(func(v int) bool { return v < 0 })
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, 1))
	require.NoError(t, q.Send(ctx, -1))
	require.NoError(t, q.Send(ctx, -2))
	assert.Equal(t, []int{1, -1}, drain(q))

	require.NoError(t, q.Send(ctx, -1))
	require.NoError(t, q.Send(ctx, -2))
	require.NoError(t, q.Send(ctx, 2))
	assert.Equal(t, []int{-2, 2}, drain(q))
	assert.EqualValues(t, 2, q.Dropped())
}

func TestQueue_BlockHonoursContext(t *testing.T) {
	q := NewQueue[int]("results", 1, PolicyBlock, nil)
	require.NoError(t, q.Send(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := q.Send(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, q.Dropped())
}

func TestQueue_BlockResumesWhenDrained(t *testing.T) {
	q := NewQueue[int]("results", 1, PolicyBlock, nil)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, 1))

	sent := make(chan error, 1)
	go func() { sent <- q.Send(ctx, 2) }()

	v, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, <-sent)
	v, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestQueue_CloseDrainsThenFails(t *testing.T) {
	q := NewQueue[string]("results", 4, PolicyBlock, nil)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, "a"))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Send(ctx, "b"), ErrQueueClosed)

	v, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_CloseWakesBlockedSender(t *testing.T) {
	q := NewQueue[int]("results", 1, PolicyBlock, nil)
	require.NoError(t, q.Send(context.Background(), 1))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Send(context.Background(), 2) }()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked sender was not released by Close")
	}
}

func TestQueue_ReceiveCancelled(t *testing.T) {
	q := NewQueue[int]("results", 1, PolicyBlock, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Receive(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestQueue_ConcurrentDropOldestProducers(t *testing.T) {
	q := NewQueue[int]("inference", 8, PolicyDropOldest, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = q.Send(ctx, i)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, q.Len(), q.Cap())
	assert.EqualValues(t, 2000, uint64(len(drain(q)))+q.Dropped())
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"block", "drop_oldest", "drop_newest"} {
		p, err := ParsePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, Policy(s), p)
	}
	_, err := ParsePolicy("unbounded")
	assert.Error(t, err)
}

func TestTopology(t *testing.T) {
	cfg := config.QueuesConfig{
		Inference: config.QueueConfig{Capacity: 4, Policy: "drop_oldest"},
		Results:   config.QueueConfig{Capacity: 8, Policy: "block"},
		Control:   config.QueueConfig{Capacity: 2, Policy: "drop_oldest"},
	}
	topo, err := NewTopology(cfg, []string{"cam_02", "cam_01"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"cam_01", "cam_02"}, topo.CameraIDs())
	assert.Equal(t, 4, topo.Inference.Cap())
	assert.Equal(t, PolicyBlock, topo.Results.Policy())

	ctl, ok := topo.Control("cam_01")
	require.True(t, ok)
	assert.Equal(t, "control:cam_01", ctl.Name())
	assert.Same(t, ctl, topo.AddCamera("cam_01"))

	_, ok = topo.Control("cam_99")
	assert.False(t, ok)

	require.NoError(t, ctl.Send(context.Background(), StartRecording{}))
	assert.Equal(t, 1, topo.Depths()["control:cam_01"])

	topo.Close()
	assert.ErrorIs(t, topo.Results.Send(context.Background(), Result{}), ErrQueueClosed)

	cfg.Results.Policy = "spill"
	_, err = NewTopology(cfg, nil, nil)
	assert.Error(t, err)
}

func TestTopology_ControlKeepsLatestRecordingCommand(t *testing.T) {
	cfg := config.QueuesConfig{
		Inference: config.QueueConfig{Capacity: 4, Policy: "drop_oldest"},
		Results:   config.QueueConfig{Capacity: 4, Policy: "block"},
		Control:   config.QueueConfig{Capacity: 2, Policy: "drop_oldest"},
	}
	topo, err := NewTopology(cfg, []string{"cam_01"}, nil)
	require.NoError(t, err)
	ctl, _ := topo.Control("cam_01")
	ctx := context.Background()

	require.NoError(t, ctl.Send(ctx, StartRecording{}))
	for i := 0; i < 10; i++ {
		require.NoError(t, ctl.Send(ctx, ProbabilityUpdate{Probabilities: []float64{float64(i) / 10}}))
	}
	cmds := drain(ctl)
	require.Len(t, cmds, 2)
	assert.Equal(t, StartRecording{}, cmds[0])

	for i := 0; i < 3; i++ {
		require.NoError(t, ctl.Send(ctx, ProbabilityUpdate{Probabilities: []float64{0.9}}))
	}
	require.NoError(t, ctl.Send(ctx, StopRecording{}))
	require.NoError(t, ctl.Send(ctx, ProbabilityUpdate{Probabilities: []float64{0.1}}))
	cmds = drain(ctl)
	require.NotEmpty(t, cmds)
	assert.Contains(t, cmds, Command(StopRecording{}))
}

func TestCommandsAreDistinctTypes(t *testing.T) {
	cmds := []Command{StartRecording{}, ProbabilityUpdate{Probabilities: []float64{0.7, 0.1}}, StopRecording{}}
	var kinds []string
	for _, c := range cmds {
		switch cmd := c.(type) {
		case StartRecording, StopRecording:
			kinds = append(kinds, cmd.Kind())
		case ProbabilityUpdate:
			assert.Equal(t, []float64{0.7, 0.1}, cmd.Probabilities)
			kinds = append(kinds, cmd.Kind())
		}
	}
	assert.Equal(t, []string{"start_recording", "probability_update", "stop_recording"}, kinds)
}

func TestIsAlert(t *testing.T) {
	assert.True(t, IsAlert([]float64{0.7, 0.1}, 0.6))
	assert.False(t, IsAlert([]float64{0.6, 0.1}, 0.6))
	assert.False(t, IsAlert(NeutralProbabilities(3), 0.6))
	assert.Equal(t, []float64{0, 0, 0}, NeutralProbabilities(3))
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0644))
	}
}

func TestSplitVideoFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "v1.avi", "v2.avi", "v3.mp4", "v4.mp4", "v5.mp4", "notes.txt")

	chunks, err := SplitVideoFiles(dir, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 2)
	assert.Len(t, chunks[2], 1)

	seen := map[string]bool{}
	for _, c := range chunks {
		for _, p := range c {
			assert.NotEqual(t, ".txt", filepath.Ext(p))
			seen[p] = true
		}
	}
	assert.Len(t, seen, 5)

	_, err = SplitVideoFiles(t.TempDir(), 2, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestResolveCameras(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "only.mp4")

	cams, skipped, err := ResolveCameras(config.CamerasConfig{
		VideoDir: dir,
		Sources: []config.CameraConfig{
			{ID: "cam_01", Reader: "file"},
			{ID: "cam_02", Reader: "rtsp", Paths: []string{"rtsp://cam2/stream"}},
			{ID: "cam_03", Reader: "file"},
		},
	}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	require.Len(t, cams, 2)
	assert.Equal(t, "cam_01", cams[0].ID)
	assert.Equal(t, []string{filepath.Join(dir, "only.mp4")}, cams[0].Paths)
	assert.Equal(t, "cam_02", cams[1].ID)
	assert.Equal(t, []string{"cam_03"}, skipped)
}
