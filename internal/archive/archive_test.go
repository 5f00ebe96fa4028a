package archive

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/breaker"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

var t0 = time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeUploader) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func resolvedAlert(t *testing.T, id string, day int) *alert.Alert {
	t.Helper()
	obs := observation.Observation{
		Timestamp: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Metric:    observation.MetricTemperature,
		Value:     41.2,
	}
	a := alert.New(id, obs, alert.TypeHeatWave, alert.SeverityHigh, 0.7, "Uruguay", t0)
	require.NoError(t, a.Acknowledge(t0.Add(time.Hour)))
	require.NoError(t, a.Resolve("advisory lifted", t0.Add(2*time.Hour)))
	return a
}

func seed(t *testing.T, alerts ...*alert.Alert) store.AlertStore {
	t.Helper()
	st := store.NewMemoryStore()
	for _, a := range alerts {
		require.NoError(t, st.Create(context.Background(), a))
	}
	return st
}

func TestObjectKey(t *testing.T) {
	a := resolvedAlert(t, "abc", 15)
	assert.Equal(t, "climate-alerts/2024/01/abc.json.sz", ObjectKey("climate-alerts", a))

	a.Date = "not-a-date"
	assert.Equal(t, "p/unknown/abc.json.sz", ObjectKey("p", a))
}

func TestEncodeDecode(t *testing.T) {
	a := resolvedAlert(t, "abc", 15)
	data, err := Encode(a)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint, got.Fingerprint)
	notes, ok := got.ResolutionNotes()
	assert.True(t, ok)
	assert.Equal(t, "advisory lifted", notes)

	_, err = Decode([]byte("not snappy"))
	assert.Error(t, err)
}

func TestSweepArchivesResolvedAlerts(t *testing.T) {
	live := alert.New("live", observation.Observation{
		Timestamp: time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC),
		Metric:    observation.MetricTemperature,
		Value:     -3.5,
	}, alert.TypeColdSnap, alert.SeverityCritical, 0.95, "Uruguay", t0)
	st := seed(t, resolvedAlert(t, "r1", 15), resolvedAlert(t, "r2", 16), live)
	up := &fakeUploader{}

	ar, err := New(Config{Bucket: "alerts"}, st, up, nil, nil)
	require.NoError(t, err)

	n, err := ar.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, up.objects, 2)
	assert.Contains(t, up.objects, "climate-alerts/2024/01/r1.json.sz")

	got, err := Decode(up.objects["climate-alerts/2024/01/r2.json.sz"])
	require.NoError(t, err)
	assert.Equal(t, "r2", got.ID)

	n, err = ar.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepStopsOnUploadFailure(t *testing.T) {
	st := seed(t, resolvedAlert(t, "r1", 15))
	up := &fakeUploader{err: errors.New("access denied")}

	ar, err := New(Config{Bucket: "alerts", Breaker: breaker.Config{MaxFailures: 1, ResetTimeout: time.Hour}}, st, up, nil, nil)
	require.NoError(t, err)

	n, err := ar.Sweep(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)

	_, err = ar.Sweep(context.Background())
	assert.ErrorIs(t, err, breaker.ErrOpen)

	pending, err := st.ListUnarchived(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, store.NewMemoryStore(), &fakeUploader{}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Bucket: "b"}, nil, &fakeUploader{}, nil, nil)
	assert.Error(t, err)
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("@hourly"))
	assert.NoError(t, ValidateSchedule("*/15 * * * *"))
	assert.Error(t, ValidateSchedule("every tuesday"))
}

type countingSweeper struct{ runs int32 }

func (c *countingSweeper) Sweep(ctx context.Context) (int, error) {
	atomic.AddInt32(&c.runs, 1)
	return 0, nil
}

func TestSchedulerRunsSweeps(t *testing.T) {
	sw := &countingSweeper{}
	s, err := NewScheduler("@every 1s", sw, time.Second, nil)
	require.NoError(t, err)
	s.Start()
	assert.False(t, s.Next().IsZero())

	require.Eventually(t, func() bool { return atomic.LoadInt32(&sw.runs) > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler("not a schedule", &countingSweeper{}, 0, nil)
	assert.Error(t, err)
}
