package sdk

import (
	"context"
	"net/http"
	"net/url"
)

// ExamService provides the student-facing operations.
type ExamService struct {
	c *Client
}

// RunCode queues code for execution. A quota rejection is an *APIError with
// status 403 and RemainingAttempts 0.
func (s *ExamService) RunCode(ctx context.Context, req SubmitRequest) (*RunResponse, error) {
	return doRequest[RunResponse](ctx, s.c, http.MethodPost, "/exam/run-code", req, nil, http.StatusOK)
}

// SaveCode stores code without running it. Saves do not count against the quota.
func (s *ExamService) SaveCode(ctx context.Context, req SubmitRequest) (*SaveResponse, error) {
	return doRequest[SaveResponse](ctx, s.c, http.MethodPost, "/exam/save-code", req, nil, http.StatusOK)
}

// Result returns the current view of a job.
func (s *ExamService) Result(ctx context.Context, jobID string) (*Result, error) {
	return doRequest[Result](ctx, s.c, http.MethodGet, "/exam/result/"+url.PathEscape(jobID), nil, nil, http.StatusOK)
}

// Finish computes the final quiz, coding and total score.
func (s *ExamService) Finish(ctx context.Context, req FinishRequest) (*Totals, error) {
	return doRequest[Totals](ctx, s.c, http.MethodPost, "/exam/finish-exam", req, nil, http.StatusOK)
}

// SubmitQuiz records and grades one quiz answer.
func (s *ExamService) SubmitQuiz(ctx context.Context, req QuizRequest) (*QuizResponse, error) {
	return doRequest[QuizResponse](ctx, s.c, http.MethodPost, "/exam/submit-quiz", req, nil, http.StatusOK)
}

// SubmissionCounts returns execution attempts per question for ownerID.
func (s *ExamService) SubmissionCounts(ctx context.Context, examID, ownerID string) (map[string]int64, error) {
	out, err := doRequest[map[string]int64](ctx, s.c, http.MethodGet,
		"/exam/submission-counts/"+url.PathEscape(examID), nil,
		&requestOptions{headers: map[string]string{"x-user-id": ownerID}}, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// CheckBlocked reports whether ownerID is blocked from examID.
func (s *ExamService) CheckBlocked(ctx context.Context, examID, ownerID string) (*BlockedResponse, error) {
	return doRequest[BlockedResponse](ctx, s.c, http.MethodGet,
		"/exam/check-blocked/"+url.PathEscape(examID), nil,
		&requestOptions{headers: map[string]string{"x-user-id": ownerID}}, http.StatusOK)
}

// BlockUser adds a student to an exam's block list.
func (s *ExamService) BlockUser(ctx context.Context, req BlockRequest) error {
	_, err := doRequest[SuccessResponse](ctx, s.c, http.MethodPost, "/exam/block-user", req, nil, http.StatusOK)
	return err
}
