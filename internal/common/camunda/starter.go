package camunda

import (
	"context"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
)

// ProcessStarter creates process instances of one BPMN process.
type ProcessStarter struct {
	client    *Client
	processID string
}

func NewProcessStarter(client *Client, processID string) *ProcessStarter {
	return &ProcessStarter{client: client, processID: processID}
}

// Start creates an instance of the latest deployed version and returns its key.
func (s *ProcessStarter) Start(ctx context.Context, variables map[string]interface{}) (int64, error) {
	resp, err := withRetry(ctx, s.client.config.RetryConfig, "create-instance:"+s.processID,
		func(ctx context.Context) (*pb.CreateProcessInstanceResponse, error) {
			if s.client.config.RequestTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.client.config.RequestTimeout)
				defer cancel()
			}

			cmd, err := s.client.client.NewCreateInstanceCommand().
				BPMNProcessId(s.processID).
				LatestVersion().
				VariablesFromMap(variables)
			if err != nil {
				return nil, fmt.Errorf("invalid argument: %w", err)
			}
			return cmd.Send(ctx)
		})
	if err != nil {
		return 0, err
	}
	return resp.GetProcessInstanceKey(), nil
}
