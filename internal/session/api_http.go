package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/examdesk/examdesk/internal/exam"
)

// HTTPAPI talks to the gateway's attempt endpoints. The bearer token is bound
// once at construction and threaded through every call.
type HTTPAPI struct {
	base   string
	token  string
	client *http.Client
}

func NewHTTPAPI(baseURL, bearerToken string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAPI{
		base:   strings.TrimSuffix(baseURL, "/"),
		token:  bearerToken,
		client: client,
	}
}

func (a *HTTPAPI) LoadSession(ctx context.Context, attemptID string) (exam.SessionView, error) {
	var view exam.SessionView
	err := a.do(ctx, http.MethodGet, "/attempts/"+attemptID+"/session", nil, &view)
	return view, err
}

func (a *HTTPAPI) SaveAnswer(ctx context.Context, attemptID, questionID, content string) error {
	body := map[string]string{"question_id": questionID, "content": content}
	return a.do(ctx, http.MethodPost, "/attempts/"+attemptID+"/answers", body, nil)
}

func (a *HTTPAPI) RemainingSeconds(ctx context.Context, attemptID string) (int, error) {
	var out struct {
		RemainingSeconds int `json:"remaining_seconds"`
	}
	if err := a.do(ctx, http.MethodGet, "/attempts/"+attemptID+"/remaining", nil, &out); err != nil {
		return 0, err
	}
	return out.RemainingSeconds, nil
}

func (a *HTTPAPI) Submit(ctx context.Context, attemptID string) (exam.Attempt, error) {
	var att exam.Attempt
	err := a.do(ctx, http.MethodPost, "/attempts/"+attemptID+"/submit", nil, &att)
	return att, err
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
