package autoscale

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.opentelemetry.io/otel/metric"
)

// Sink receives every decision the publisher makes.
type Sink interface {
	Publish(ctx context.Context, d Decision) error
}

// GaugeSink exposes the latest decision as OTel observable gauges. Values are
// read when the meter provider is collected (e.g. on a Prometheus scrape).
type GaugeSink struct {
	mu   sync.RWMutex
	last Decision
	seen bool
}

// NewGaugeSink registers the queue and desired-worker gauges on meter.
func NewGaugeSink(meter metric.Meter) (*GaugeSink, error) {
	s := &GaugeSink{}

	pending, err := meter.Int64ObservableGauge("jobrelay.queue.pending",
		metric.WithDescription("Jobs waiting to be claimed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create pending gauge: %w", err)
	}
	running, err := meter.Int64ObservableGauge("jobrelay.queue.running",
		metric.WithDescription("Jobs currently executing"))
	if err != nil {
		return nil, fmt.Errorf("failed to create running gauge: %w", err)
	}
	failed, err := meter.Int64ObservableGauge("jobrelay.queue.failed_recent",
		metric.WithDescription("Jobs failed within the recent window"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failed gauge: %w", err)
	}
	desired, err := meter.Int64ObservableGauge("jobrelay.workers.desired",
		metric.WithDescription("Worker count recommended by the autoscaling policy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create desired gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		// Nothing observed before the first tick
		if !s.seen {
			return nil
		}
		o.ObserveInt64(pending, s.last.Depth.Pending)
		o.ObserveInt64(running, s.last.Depth.Running)
		o.ObserveInt64(failed, s.last.Depth.FailedRecent)
		o.ObserveInt64(desired, int64(s.last.Desired))
		return nil
	}, pending, running, failed, desired)
	if err != nil {
		return nil, fmt.Errorf("failed to register gauge callback: %w", err)
	}
	return s, nil
}

func (s *GaugeSink) Publish(ctx context.Context, d Decision) error {
	s.mu.Lock()
	s.last = d
	s.seen = true
	s.mu.Unlock()
	return nil
}

// CloudWatchAPI is the subset of the CloudWatch client used by CloudWatchSink.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink pushes queue depth for target-tracking scaling policies.
type CloudWatchSink struct {
	client    CloudWatchAPI
	namespace string
	service   string
}

// NewCloudWatchSink creates a sink writing to namespace, dimensioned by service.
func NewCloudWatchSink(client CloudWatchAPI, namespace, service string) *CloudWatchSink {
	if namespace == "" {
		namespace = "JobRelay"
	}
	return &CloudWatchSink{client: client, namespace: namespace, service: service}
}

func (s *CloudWatchSink) Publish(ctx context.Context, d Decision) error {
	dims := []cwtypes.Dimension{{Name: aws.String("Service"), Value: aws.String(s.service)}}
	datum := func(name string, v int64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: dims,
			Timestamp:  aws.Time(d.At),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(v)),
		}
	}

	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(s.namespace),
		MetricData: []cwtypes.MetricDatum{
			datum("PendingJobs", d.Depth.Pending),
			datum("RunningJobs", d.Depth.Running),
			datum("FailedRecentJobs", d.Depth.FailedRecent),
			datum("DesiredWorkers", int64(d.Desired)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put metric data: %w", err)
	}
	return nil
}
