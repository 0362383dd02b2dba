package sdk

import (
	"context"
	"net/http"
)

// AgentService provides the worker-agent dispatch operations. Requests carry
// the key configured with WithAgentKey.
type AgentService struct {
	c *Client
}

type claimResponse struct {
	Job *Job `json:"job"`
}

// ClaimJob asks for one pending job. It returns (nil, nil) when nothing is
// queued; the server never holds the request open.
func (s *AgentService) ClaimJob(ctx context.Context, opts ClaimOptions) (*Job, error) {
	out, err := doRequest[claimResponse](ctx, s.c, http.MethodGet, "/agent/jobs", nil, s.options(map[string]string{
		"x-execution-mode": opts.Mode,
		"x-filter-user-id": opts.FilterUserID,
	}, false), http.StatusOK)
	if err != nil {
		return nil, err
	}
	return out.Job, nil
}

// ReportJob records the outcome of a claimed job. Large bodies are sent
// gzip-compressed. A 404 (see IsNotFound) means the job is no longer running.
func (s *AgentService) ReportJob(ctx context.Context, r JobReport) error {
	_, err := doRequest[SuccessResponse](ctx, s.c, http.MethodPost, "/agent/job-result", r, s.options(nil, true), http.StatusOK)
	return err
}

func (s *AgentService) options(headers map[string]string, compress bool) *requestOptions {
	h := map[string]string{"x-agent-key": s.c.agentKey}
	for k, v := range headers {
		h[k] = v
	}
	return &requestOptions{headers: h, compress: compress}
}
