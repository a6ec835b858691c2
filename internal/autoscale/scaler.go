package autoscale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
)

// Scaler reads and sets the worker fleet size.
type Scaler interface {
	Current(ctx context.Context) (int, error)
	Scale(ctx context.Context, desired int) error
}

// LogScaler only logs recommendations. It tracks the last recommended count
// so cooldowns still apply.
type LogScaler struct {
	mu      sync.Mutex
	current int
	logger  *slog.Logger
}

// NewLogScaler creates a LogScaler that assumes initial workers are running.
func NewLogScaler(initial int, logger *slog.Logger) *LogScaler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogScaler{current: initial, logger: logger}
}

func (s *LogScaler) Current(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *LogScaler) Scale(ctx context.Context, desired int) error {
	s.mu.Lock()
	from := s.current
	s.current = desired
	s.mu.Unlock()
	s.logger.Info("scaling recommendation", "from", from, "to", desired)
	return nil
}

// ECSAPI is the subset of the ECS client used by ECSScaler.
type ECSAPI interface {
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

// ECSScaler sets the desired count of an ECS service running workers.
type ECSScaler struct {
	client  ECSAPI
	cluster string
	service string
	logger  *slog.Logger
}

// NewECSScaler creates a scaler for cluster/service.
func NewECSScaler(client ECSAPI, cluster, service string, logger *slog.Logger) *ECSScaler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ECSScaler{client: client, cluster: cluster, service: service, logger: logger}
}

// Current returns the service's desired count as last set in ECS.
func (s *ECSScaler) Current(ctx context.Context) (int, error) {
	out, err := s.client.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(s.cluster),
		Services: []string{s.service},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to describe service %s: %w", s.service, err)
	}
	if len(out.Services) == 0 {
		if len(out.Failures) > 0 {
			return 0, fmt.Errorf("service %s: %s", s.service, aws.ToString(out.Failures[0].Reason))
		}
		return 0, errors.New("service " + s.service + " not found")
	}
	return int(out.Services[0].DesiredCount), nil
}

func (s *ECSScaler) Scale(ctx context.Context, desired int) error {
	_, err := s.client.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(s.cluster),
		Service:      aws.String(s.service),
		DesiredCount: aws.Int32(int32(desired)),
	})
	if err != nil {
		return fmt.Errorf("failed to update service %s: %w", s.service, err)
	}
	s.logger.Info("worker service scaled", "cluster", s.cluster, "service", s.service, "desired", desired)
	return nil
}
