package autoscale

import (
	"context"
	"errors"
	"testing"
	"time"

	"jobrelay/internal/store"
	"jobrelay/internal/store/memstore"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestPolicy_Desired(t *testing.T) {
	tests := []struct {
		name  string
		depth store.QueueDepth
		want  int
	}{
		{"backlog", store.QueueDepth{Pending: 50, Running: 2}, 10},
		{"partial worker rounds up", store.QueueDepth{Pending: 6}, 2},
		{"empty queue keeps minimum", store.QueueDepth{}, 1},
		{"running jobs are kept", store.QueueDepth{Pending: 0, Running: 7}, 7},
		{"clamped to maximum", store.QueueDepth{Pending: 1000}, 20},
	}

	p := NewPolicy(PolicyConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Desired(tt.depth); got != tt.want {
				t.Errorf("Desired() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPolicy_UncommittedActionHasNoCooldown(t *testing.T) {
	p := NewPolicy(PolicyConfig{})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if d := p.Decide(store.QueueDepth{Pending: 50}, 2, now); d.Action != ActionScaleOut {
		t.Fatalf("expected scale out, got %s", d.Action)
	}
	if d := p.Decide(store.QueueDepth{Pending: 50}, 2, now.Add(time.Second)); d.Action != ActionScaleOut {
		t.Errorf("expected scale out to be offered again, got %s", d.Action)
	}
}

func TestPolicy_Cooldowns(t *testing.T) {
	p := NewPolicy(PolicyConfig{ScaleOutCooldown: time.Minute, ScaleInCooldown: 5 * time.Minute})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d := p.Decide(store.QueueDepth{Pending: 50, Running: 2}, 2, now)
	if d.Action != ActionScaleOut || d.Desired != 10 {
		t.Fatalf("expected scale out to 10, got %s to %d", d.Action, d.Desired)
	}
	p.Commit(d)

	// More load 30s later is held back by the scale-out cooldown
	d = p.Decide(store.QueueDepth{Pending: 80}, 10, now.Add(30*time.Second))
	if d.Action != ActionCooldown {
		t.Errorf("expected cooldown, got %s", d.Action)
	}

	d = p.Decide(store.QueueDepth{Pending: 80}, 10, now.Add(61*time.Second))
	if d.Action != ActionScaleOut || d.Desired != 16 {
		t.Errorf("expected scale out to 16, got %s to %d", d.Action, d.Desired)
	}
	p.Commit(d)

	// Scale-in waits for the longer cooldown after any action
	d = p.Decide(store.QueueDepth{}, 16, now.Add(3*time.Minute))
	if d.Action != ActionCooldown {
		t.Errorf("expected cooldown, got %s", d.Action)
	}
	d = p.Decide(store.QueueDepth{}, 16, now.Add(7*time.Minute))
	if d.Action != ActionScaleIn || d.Desired != 1 {
		t.Errorf("expected scale in to 1, got %s to %d", d.Action, d.Desired)
	}
	p.Commit(d)

	d = p.Decide(store.QueueDepth{}, 1, now.Add(8*time.Minute))
	if d.Action != ActionNone {
		t.Errorf("expected no action, got %s", d.Action)
	}
}

type mockECS struct {
	desired     int32
	updateCalls []int32
	describeErr error
	updateErr   error
}

func (m *mockECS) DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
	if m.describeErr != nil {
		return nil, m.describeErr
	}
	return &ecs.DescribeServicesOutput{
		Services: []ecstypes.Service{{ServiceName: params.Services[0], DesiredCount: m.desired}},
	}, nil
}

func (m *mockECS) UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error) {
	m.updateCalls = append(m.updateCalls, aws.ToInt32(params.DesiredCount))
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.desired = aws.ToInt32(params.DesiredCount)
	return &ecs.UpdateServiceOutput{}, nil
}

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func seedQueue(t *testing.T, s *memstore.Store, pending, running int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < pending+running; i++ {
		if err := s.Create(ctx, &store.Job{OwnerID: "owner-1", Type: store.JobTypeEcho}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < running; i++ {
		if _, err := s.Claim(ctx, "worker"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPublisher_ScalesECSService(t *testing.T) {
	s := memstore.New()
	seedQueue(t, s, 50, 2)

	svc := &mockECS{desired: 2}
	cw := &mockCloudWatch{}
	pub := NewPublisher(s, NewPolicy(PolicyConfig{}),
		NewECSScaler(svc, "jobs", "jobrelay-worker", nil),
		[]Sink{NewCloudWatchSink(cw, "", "jobrelay-worker")},
		PublisherConfig{}, nil)

	d, err := pub.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if d.Desired != 10 || d.Current != 2 || d.Action != ActionScaleOut {
		t.Errorf("unexpected decision %+v", d)
	}
	if len(svc.updateCalls) != 1 || svc.updateCalls[0] != 10 {
		t.Errorf("expected UpdateService(10), got %v", svc.updateCalls)
	}

	if len(cw.inputs) != 1 {
		t.Fatalf("expected one PutMetricData call, got %d", len(cw.inputs))
	}
	in := cw.inputs[0]
	if aws.ToString(in.Namespace) != "JobRelay" {
		t.Errorf("unexpected namespace %q", aws.ToString(in.Namespace))
	}
	values := map[string]float64{}
	for _, m := range in.MetricData {
		values[aws.ToString(m.MetricName)] = aws.ToFloat64(m.Value)
	}
	if values["PendingJobs"] != 50 || values["RunningJobs"] != 2 || values["DesiredWorkers"] != 10 {
		t.Errorf("unexpected metric values %v", values)
	}

	latest, ok := pub.Latest()
	if !ok || latest.Desired != 10 {
		t.Errorf("expected latest decision to be recorded, got %+v", latest)
	}
}

func TestPublisher_RetriesFailedScaleOnNextTick(t *testing.T) {
	s := memstore.New()
	seedQueue(t, s, 50, 0)

	svc := &mockECS{desired: 2, updateErr: errors.New("throttled")}
	pub := NewPublisher(s, NewPolicy(PolicyConfig{}), NewECSScaler(svc, "jobs", "w", nil), nil, PublisherConfig{}, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if _, err := pub.Tick(context.Background(), now); err == nil {
		t.Fatal("expected scale error")
	}

	svc.updateErr = nil
	d, err := pub.Tick(context.Background(), now.Add(time.Second))
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if d.Action != ActionScaleOut {
		t.Errorf("expected scale out retry, got %s", d.Action)
	}
	if len(svc.updateCalls) != 2 || svc.desired != 10 {
		t.Errorf("expected a second UpdateService(10), got %v (desired %d)", svc.updateCalls, svc.desired)
	}

	// The successful scale starts the cooldown.
	svc.desired = 2
	if d, _ := pub.Tick(context.Background(), now.Add(2*time.Second)); d.Action != ActionCooldown {
		t.Errorf("expected cooldown after a committed scale, got %s", d.Action)
	}
}

func TestPublisher_DescribeFailureFallsBackToRunning(t *testing.T) {
	s := memstore.New()
	seedQueue(t, s, 0, 3)

	svc := &mockECS{describeErr: errors.New("throttled")}
	pub := NewPublisher(s, NewPolicy(PolicyConfig{}), NewECSScaler(svc, "jobs", "w", nil), nil, PublisherConfig{}, nil)

	d, err := pub.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if d.Current != 3 || d.Desired != 3 || d.Action != ActionNone {
		t.Errorf("unexpected decision %+v", d)
	}
	if len(svc.updateCalls) != 0 {
		t.Errorf("expected no update, got %v", svc.updateCalls)
	}
}

func TestPublisher_SinkErrorIsReturned(t *testing.T) {
	s := memstore.New()
	cw := &mockCloudWatch{err: errors.New("access denied")}
	pub := NewPublisher(s, NewPolicy(PolicyConfig{}), NewLogScaler(1, nil),
		[]Sink{NewCloudWatchSink(cw, "Custom", "w")}, PublisherConfig{}, nil)

	if _, err := pub.Tick(context.Background(), time.Now()); err == nil {
		t.Error("expected sink error")
	}
	if _, ok := pub.Latest(); !ok {
		t.Error("decision should be recorded even when a sink fails")
	}
}

func TestGaugeSink_ExposesLatestDecision(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	sink, err := NewGaugeSink(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewGaugeSink failed: %v", err)
	}
	sink.Publish(context.Background(), Decision{
		Depth:   store.QueueDepth{Pending: 50, Running: 2, FailedRecent: 1},
		Desired: 10,
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
				got[m.Name] = g.DataPoints[0].Value
			}
		}
	}
	want := map[string]int64{
		"jobrelay.queue.pending":       50,
		"jobrelay.queue.running":       2,
		"jobrelay.queue.failed_recent": 1,
		"jobrelay.workers.desired":     10,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %d, want %d", name, got[name], v)
		}
	}
}

func TestLogScaler_TracksRecommendation(t *testing.T) {
	s := NewLogScaler(1, nil)
	if err := s.Scale(context.Background(), 4); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Current(context.Background()); n != 4 {
		t.Errorf("expected 4, got %d", n)
	}
}
