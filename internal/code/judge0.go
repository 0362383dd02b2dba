package code

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gsarma/examrunner/internal/job"
)

// OctaveLanguageID is the Judge0 CE id for GNU Octave.
const OctaveLanguageID = 66

// Judge0 CE status ids.
const (
	judge0Accepted          = 3
	judge0TimeLimitExceeded = 5
)

// Judge0Config holds the connection settings for a Judge0 CE instance.
// URL is the base URL of the Judge0 server (e.g. "http://judge0-server:2358").
// AuthToken is optional; send it as X-Auth-Token when AUTHN_TOKEN is configured.
type Judge0Config struct {
	URL        string `json:"url"`
	AuthToken  string `json:"auth_token,omitempty"`
	LanguageID int    `json:"language_id,omitempty"`
	Timeout    time.Duration
}

// Judge0Provider runs submissions on a remote Judge0 CE instance.
type Judge0Provider struct {
	url        string
	authToken  string
	languageID int
	client     *http.Client
}

// NewJudge0Provider constructs a Judge0Provider from the given config.
func NewJudge0Provider(cfg Judge0Config) *Judge0Provider {
	if cfg.LanguageID == 0 {
		cfg.LanguageID = OctaveLanguageID
	}
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		// Leave room for queueing on the Judge0 side on top of the run itself.
		timeout = cfg.Timeout + 30*time.Second
	}
	return &Judge0Provider{
		url:        strings.TrimRight(cfg.URL, "/"),
		authToken:  cfg.AuthToken,
		languageID: cfg.LanguageID,
		client:     &http.Client{Timeout: timeout},
	}
}

func (p *Judge0Provider) Execute(ctx context.Context, t Task) (*Outcome, error) {
	sub, err := p.submit(ctx, t.Code, t.Input)
	if err != nil {
		return nil, err
	}
	return classifySubmission(sub), nil
}

func classifySubmission(sub *Submission) *Outcome {
	text := sub.Stdout + sub.Stderr
	switch sub.StatusID {
	case judge0Accepted:
		return &Outcome{Status: job.StatusCompleted, Output: text}
	case judge0TimeLimitExceeded:
		return &Outcome{Status: job.StatusFailed, Output: text + timedOutNote}
	}
	if sub.CompileOutput != "" {
		text += sub.CompileOutput
	}
	if sub.Status != "" {
		text += "\n" + sub.Status
	}
	if strings.TrimSpace(text) == "" {
		text = failedNoOutput
	}
	return &Outcome{Status: job.StatusFailed, Output: text}
}

// submit sends source code to Judge0 and waits synchronously for the result.
// Source code and stdin are base64-encoded in the request; Judge0 returns
// stdout/stderr as base64 which we decode before returning.
func (p *Judge0Provider) submit(ctx context.Context, sourceCode, stdin string) (*Submission, error) {
	reqBody := map[string]interface{}{
		"source_code": base64.StdEncoding.EncodeToString([]byte(sourceCode)),
		"language_id": p.languageID,
	}
	if stdin != "" {
		reqBody["stdin"] = base64.StdEncoding.EncodeToString([]byte(stdin))
	}

	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.url+"/submissions?base64_encoded=true&wait=true", bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authToken != "" {
		req.Header.Set("X-Auth-Token", p.authToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit to judge0: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("judge0 returned HTTP %d", resp.StatusCode)
	}

	var raw struct {
		Token         string  `json:"token"`
		Stdout        *string `json:"stdout"`
		Stderr        *string `json:"stderr"`
		CompileOutput *string `json:"compile_output"`
		Time          *string `json:"time"`
		Memory        *int    `json:"memory"`
		Status        struct {
			ID          int    `json:"id"`
			Description string `json:"description"`
		} `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode judge0 response: %w", err)
	}

	sub := &Submission{
		Token:    raw.Token,
		StatusID: raw.Status.ID,
		Status:   raw.Status.Description,
	}
	sub.Stdout = decodeField(raw.Stdout)
	sub.Stderr = decodeField(raw.Stderr)
	sub.CompileOutput = decodeField(raw.CompileOutput)
	if raw.Time != nil {
		sub.Time = *raw.Time
	}
	if raw.Memory != nil {
		sub.Memory = *raw.Memory
	}
	return sub, nil
}

func decodeField(s *string) string {
	if s == nil {
		return ""
	}
	dec, err := base64.StdEncoding.DecodeString(*s)
	if err != nil {
		return ""
	}
	return string(dec)
}
