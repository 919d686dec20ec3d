package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/compliance-cli/internal/collector"
	"github.com/sells-group/compliance-cli/internal/model"
)

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) Collect(ctx context.Context, url string) (*collector.Evidence, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*collector.Evidence), args.Error(1)
}

func (m *mockCollector) Name() string {
	return "mock"
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, html string, attempt int) (map[string]string, model.TokenUsage, error) {
	args := m.Called(ctx, html, attempt)
	var fields map[string]string
	if args.Get(0) != nil {
		fields = args.Get(0).(map[string]string)
	}
	return fields, args.Get(1).(model.TokenUsage), args.Error(2)
}
