// Package backend is the HTTP client surface to the central backend
// (spec.md §6): job fetch, service registration/heartbeat/deregistration,
// and the terminal result upload.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/appfoundry/buildfleet/pkg/types"
)

// RequestTimeout is the fixed I/O timeout for every backend HTTP call
// (spec.md §5).
const RequestTimeout = 10 * time.Second

// Client is the backend HTTP collaborator, carrying the fixed bearer
// credential every request uses (spec.md §4.1).
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New builds a Client against baseURL, authenticating with token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: RequestTimeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.HTTP.Do(req)
}

// FetchJob posts the set of locally-supported platforms and decodes the
// backend's job response (spec.md §4.3 step 3, §6).
func (c *Client) FetchJob(ctx context.Context, platforms []string) (*types.JobRequest, error) {
	body, err := json.Marshal(map[string][]string{"platforms": platforms})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/compilation", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch job: unexpected status %d", resp.StatusCode)
	}

	jr := &types.JobRequest{}
	if err := json.NewDecoder(resp.Body).Decode(jr); err != nil {
		return nil, fmt.Errorf("fetch job: decode response: %w", err)
	}
	return jr, nil
}

// RegisterHost performs the first step of the registration protocol
// (spec.md §4.1): POST host/IP/OS to /api/v1/compilers.
func (c *Client) RegisterHost(ctx context.Context, host, ip, os string) error {
	body, err := json.Marshal(map[string]string{"host": host, "ip": ip, "os": os})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/compilers", bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expect2xx(resp)
}

// RegisterService performs the second step: POST service-id to
// /api/v1/compilers/{ip}.
func (c *Client) RegisterService(ctx context.Context, ip, serviceID string) error {
	body, err := json.Marshal(map[string]string{"service_id": serviceID})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/compilers/"+ip, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expect2xx(resp)
}

// Heartbeat periodically pings /api/v1/compilers/{ip}/{serviceID}/heartbeat
// (spec.md §4.1).
func (c *Client) Heartbeat(ctx context.Context, ip, serviceID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/compilers/"+ip+"/"+serviceID+"/heartbeat", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expect2xx(resp)
}

// Deregister runs on shutdown: DELETE /api/v1/compilers/{ip}/{serviceID}.
func (c *Client) Deregister(ctx context.Context, ip, serviceID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/v1/compilers/"+ip+"/"+serviceID, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expect2xx(resp)
}

// PostResult uploads a job's terminal outcome (spec.md §4.5 step 5):
// multipart POST /api/v1/compilation/{code} with fields {data, result,
// log}. resultPath and logPath may be empty, in which case the
// corresponding attachment is skipped.
func (c *Client) PostResult(ctx context.Context, code string, data any, resultPath, logPath string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := w.WriteField("data", string(dataJSON)); err != nil {
		return err
	}

	if resultPath != "" {
		if err := attachFile(w, "result", resultPath); err != nil {
			return err
		}
	}
	if logPath != "" {
		if err := attachFile(w, "log", logPath); err != nil {
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/compilation/"+code, &buf, w.FormDataContentType())
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 && resp.StatusCode/100 != 3 {
		return fmt.Errorf("post result: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func attachFile(w *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func expect2xx(resp *http.Response) error {
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
