package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"omr-grader/internal/alignment"
	sheetimage "omr-grader/internal/image"
	"omr-grader/internal/layout"
	"omr-grader/internal/sheet"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// fakePipeline fails sources whose ID is in fail and sleeps for those in slow.
type fakePipeline struct {
	fail    map[string]error
	slow    map[string]time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakePipeline) Process(ctx context.Context, src sheetimage.Source) (sheet.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if d, ok := f.slow[src.ID]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return sheet.Result{}, ctx.Err()
		}
	}
	if err, ok := f.fail[src.ID]; ok {
		return sheet.Result{}, err
	}
	return sheet.Result{SourceID: src.ID, Answers: []string{"A"}}, nil
}

func sources(ids ...string) []sheetimage.Source {
	out := make([]sheetimage.Source, len(ids))
	for i, id := range ids {
		out[i] = sheetimage.Source{ID: id, Path: id, Page: -1}
	}
	return out
}

func TestRunKeepsInputOrder(t *testing.T) {
	p := &fakePipeline{slow: map[string]time.Duration{"a": 30 * time.Millisecond}}
	out, err := NewCoordinator(p, Options{Workers: 3}).Run(context.Background(), sources("a", "b", "c", "d"))
	require.NoError(t, err)

	var ids []string
	for _, r := range out.Results {
		ids = append(ids, r.SourceID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	assert.Empty(t, out.Failures)
	assert.Equal(t, 4, out.Total())
	assert.NotEqual(t, out.Started, out.Finished)
}

func TestRunToleratesFailures(t *testing.T) {
	p := &fakePipeline{fail: map[string]error{
		"c": fmt.Errorf("%w: found 2 candidate markers, need 4", alignment.ErrMarkerDetection),
	}}
	out, err := NewCoordinator(p, Options{Workers: 2}).Run(context.Background(), sources("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	assert.Len(t, out.Results, 4)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "c", out.Failures[0].SourceID)
	assert.ErrorIs(t, out.Failures[0].Err, alignment.ErrMarkerDetection)
	assert.Contains(t, out.Failures[0].Message, "marker detection failed")
}

func TestRunAllFailed(t *testing.T) {
	boom := errors.New("boom")
	p := &fakePipeline{fail: map[string]error{"a": boom, "b": boom}}
	out, err := NewCoordinator(p, Options{}).Run(context.Background(), sources("a", "b"))

	require.ErrorIs(t, err, ErrNoResults)
	require.NotNil(t, out)
	assert.Empty(t, out.Results)
	assert.Len(t, out.Failures, 2)
}

func TestRunUsesGivenID(t *testing.T) {
	id := uuid.New()
	out, err := NewCoordinator(&fakePipeline{}, Options{ID: id}).Run(context.Background(), sources("a"))
	require.NoError(t, err)
	assert.Equal(t, id, out.ID)

	out, err = NewCoordinator(&fakePipeline{}, Options{}).Run(context.Background(), sources("a"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, out.ID)
	assert.NotEqual(t, id, out.ID)
}

func TestRunEmpty(t *testing.T) {
	_, err := NewCoordinator(&fakePipeline{}, Options{}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestRunBoundsWorkers(t *testing.T) {
	slow := map[string]time.Duration{}
	var ids []string
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("img%d", i)
		ids = append(ids, id)
		slow[id] = 10 * time.Millisecond
	}
	p := &fakePipeline{slow: slow}

	_, err := NewCoordinator(p, Options{Workers: 3}).Run(context.Background(), sources(ids...))
	require.NoError(t, err)
	assert.LessOrEqual(t, p.maxSeen.Load(), int32(3))
}

func TestRunTimeoutKeepsCompleted(t *testing.T) {
	p := &fakePipeline{slow: map[string]time.Duration{"stuck": time.Minute}}
	opts := Options{Workers: 2, Timeout: 50 * time.Millisecond}

	start := time.Now()
	out, err := NewCoordinator(p, opts).Run(context.Background(), sources("a", "stuck", "b"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Len(t, out.Results, 2)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "stuck", out.Failures[0].SourceID)
	assert.ErrorIs(t, out.Failures[0].Err, ErrTimeout)
}

func TestRunProgress(t *testing.T) {
	var mu sync.Mutex
	var calls [][2]int
	opts := Options{Workers: 2, Progress: func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int{done, total})
	}}

	_, err := NewCoordinator(&fakePipeline{}, opts).Run(context.Background(), sources("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, calls)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := NewCoordinator(&fakePipeline{}, Options{}).Run(ctx, sources("a", "b"))
	assert.ErrorIs(t, err, ErrNoResults)
	require.Len(t, out.Failures, 2)
	assert.ErrorIs(t, out.Failures[0].Err, context.Canceled)
}

func TestDefaultWorkers(t *testing.T) {
	w := DefaultWorkers()
	assert.GreaterOrEqual(t, w, 1)
	assert.LessOrEqual(t, w, 4)
}

// End to end over rendered sheets: one of five has a marker painted out.
func TestRunRenderedSheets(t *testing.T) {
	l := layout.Standard()
	dir := t.TempDir()

	var paths []string
	for i := 0; i < 5; i++ {
		page := sheet.Render(l, sheet.Fill{StudentID: 10 + i, ExamVariantID: 1, Answers: []string{"B", "C"}})
		if i == 2 {
			r := page.Region(image.Rect(0, 0, 2*sheet.RenderMargin+10, 2*sheet.RenderMargin+10))
			r.SetTo(gocv.NewScalar(255, 0, 0, 0))
			r.Close()
		}
		path := filepath.Join(dir, fmt.Sprintf("sheet%d.png", i))
		require.True(t, gocv.IMWrite(path, page))
		page.Close()
		paths = append(paths, path)
	}
	// A sixth file that is not an image at all
	bad := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(bad, []byte("hello"), 0644))
	paths = append(paths, bad)

	proc := sheet.NewProcessor(l, "")
	out, err := NewCoordinator(proc, Options{Workers: 2}).Run(context.Background(), sheetimage.ExpandSources(paths))
	require.NoError(t, err)

	require.Len(t, out.Results, 4)
	assert.Equal(t, []int{10, 11, 13, 14}, []int{
		out.Results[0].StudentID, out.Results[1].StudentID, out.Results[2].StudentID, out.Results[3].StudentID,
	})
	for _, r := range out.Results {
		assert.Equal(t, 1, r.ExamVariantID)
		assert.Equal(t, "B", r.Answers[0])
		assert.Equal(t, "C", r.Answers[1])
	}

	require.Len(t, out.Failures, 2)
	assert.Equal(t, "sheet2.png", out.Failures[0].SourceID)
	assert.ErrorIs(t, out.Failures[0].Err, alignment.ErrMarkerDetection)
	assert.Equal(t, "notes.png", out.Failures[1].SourceID)
	assert.ErrorIs(t, out.Failures[1].Err, sheetimage.ErrImageLoad)
}
