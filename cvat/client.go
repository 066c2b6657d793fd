// Package cvat is a narrow REST client for the annotation server: cloud
// storages, projects, tasks, jobs, assignees and annotation exports.
package cvat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/transport"
)

const defaultExportFormat = "CVAT for images 1.1"

type Config struct {
	URL                string
	Username           string
	Password           string
	RequestTimeout     time.Duration
	DownloadRetries    int
	DownloadRetryDelay time.Duration
	ExportFormat       string
}

type Client struct {
	cfg   Config
	rest  *transport.RESTAdapter
	mu    sync.Mutex
	users map[string]int64
}

func NewClient(cfg Config, rest *transport.RESTAdapter) (*Client, error) {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if cfg.URL == "" {
		return nil, fmt.Errorf("cvat: url is required")
	}
	if rest == nil {
		rest = transport.NewRESTAdapter(nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.DownloadRetries < 0 {
		cfg.DownloadRetries = 0
	}
	if cfg.DownloadRetryDelay <= 0 {
		cfg.DownloadRetryDelay = time.Second
	}
	if strings.TrimSpace(cfg.ExportFormat) == "" {
		cfg.ExportFormat = defaultExportFormat
	}
	return &Client{cfg: cfg, rest: rest, users: map[string]int64{}}, nil
}

func (c *Client) CreateCloudStorage(ctx context.Context, bucketURL string) (int64, error) {
	parsed, err := url.Parse(strings.TrimSpace(bucketURL))
	if err != nil || parsed.Host == "" {
		return 0, core.NewExternalResourceError("cvat cloudstorage", fmt.Errorf("invalid bucket url %q", bucketURL))
	}
	resource := strings.Trim(parsed.Path, "/")
	if index := strings.Index(resource, "/"); index >= 0 {
		resource = resource[:index]
	}
	if resource == "" {
		resource = parsed.Host
	}
	body := map[string]any{
		"provider_type":       "AWS_S3_BUCKET",
		"resource":            resource,
		"display_name":        resource,
		"credentials_type":    "ANONYMOUS_ACCESS",
		"specific_attributes": "endpoint_url=" + url.QueryEscape(parsed.Scheme+"://"+parsed.Host),
	}
	res, err := c.call(ctx, http.MethodPost, "/api/cloudstorages", body, "cvat cloudstorage")
	if err != nil {
		return 0, err
	}
	return gjson.GetBytes(res, "id").Int(), nil
}

func (c *Client) DeleteCloudStorage(ctx context.Context, id int64) error {
	_, err := c.call(ctx, http.MethodDelete, "/api/cloudstorages/"+strconv.FormatInt(id, 10), nil, "cvat cloudstorage")
	return err
}

func (c *Client) CreateProject(ctx context.Context, in core.CreateCVATProjectInput) (int64, error) {
	labels := make([]map[string]any, 0, len(in.Labels))
	for _, label := range in.Labels {
		labels = append(labels, map[string]any{"name": label})
	}
	body := map[string]any{"name": in.Name, "labels": labels}
	if in.CloudStorageID > 0 {
		body["source_storage"] = map[string]any{"location": "cloud_storage", "cloud_storage_id": in.CloudStorageID}
	}
	res, err := c.call(ctx, http.MethodPost, "/api/projects", body, "cvat project")
	if err != nil {
		return 0, err
	}
	return gjson.GetBytes(res, "id").Int(), nil
}

func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	_, err := c.call(ctx, http.MethodDelete, "/api/projects/"+strconv.FormatInt(id, 10), nil, "cvat project")
	return err
}

func (c *Client) CreateTask(ctx context.Context, in core.CreateCVATTaskInput) (int64, error) {
	body := map[string]any{
		"name":         in.Name,
		"project_id":   in.ProjectID,
		"segment_size": in.JobSize,
	}
	res, err := c.call(ctx, http.MethodPost, "/api/tasks", body, "cvat task")
	if err != nil {
		return 0, err
	}
	taskID := gjson.GetBytes(res, "id").Int()
	data := map[string]any{
		"cloud_storage_id": in.CloudStorageID,
		"server_files":     []string{in.DataURL},
		"image_quality":    70,
		"use_cache":        true,
		"sorting_method":   "natural",
	}
	if _, err := c.call(ctx, http.MethodPost, "/api/tasks/"+strconv.FormatInt(taskID, 10)+"/data", data, "cvat task data"); err != nil {
		return 0, err
	}
	return taskID, nil
}

func (c *Client) ListTaskJobs(ctx context.Context, taskID int64) ([]core.CVATJob, error) {
	path := "/api/jobs?page_size=500&task_id=" + strconv.FormatInt(taskID, 10)
	res, err := c.call(ctx, http.MethodGet, path, nil, "cvat jobs")
	if err != nil {
		return nil, err
	}
	results := gjson.GetBytes(res, "results").Array()
	jobs := make([]core.CVATJob, 0, len(results))
	for _, item := range results {
		jobs = append(jobs, core.CVATJob{
			ID:     item.Get("id").Int(),
			TaskID: item.Get("task_id").Int(),
			State:  item.Get("state").String(),
		})
	}
	return jobs, nil
}

func (c *Client) AssignJob(ctx context.Context, jobID int64, wallet string) error {
	userID, err := c.userID(ctx, wallet)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, http.MethodPatch, "/api/jobs/"+strconv.FormatInt(jobID, 10), map[string]any{"assignee": userID}, "cvat job")
	return err
}

func (c *Client) UnassignJob(ctx context.Context, jobID int64) error {
	_, err := c.call(ctx, http.MethodPatch, "/api/jobs/"+strconv.FormatInt(jobID, 10), map[string]any{"assignee": nil}, "cvat job")
	return err
}

// DownloadJobAnnotations polls the export endpoint until the archive is
// ready. 202 and 5xx responses are retried up to DownloadRetries times.
func (c *Client) DownloadJobAnnotations(ctx context.Context, jobID int64) ([]byte, error) {
	query := url.Values{}
	query.Set("format", c.cfg.ExportFormat)
	query.Set("action", "download")
	path := "/api/jobs/" + strconv.FormatInt(jobID, 10) + "/annotations?" + query.Encode()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.DownloadRetryDelay), uint64(c.cfg.DownloadRetries)),
		ctx,
	)
	var archive []byte
	operation := func() error {
		res, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		switch {
		case res.StatusCode == http.StatusOK:
			archive = res.Body
			return nil
		case res.StatusCode == http.StatusAccepted || res.StatusCode == http.StatusCreated:
			return fmt.Errorf("cvat: export for job %d not ready", jobID)
		case res.StatusCode >= 500:
			return fmt.Errorf("cvat: export for job %d returned %d", jobID, res.StatusCode)
		case res.StatusCode == http.StatusNotFound:
			return backoff.Permanent(core.NewNotFoundError(fmt.Sprintf("cvat job %d not found", jobID)))
		default:
			return backoff.Permanent(fmt.Errorf("cvat: export for job %d returned %d", jobID, res.StatusCode))
		}
	}
	if err := backoff.Retry(operation, policy); err != nil {
		if core.IsNotFoundError(err) {
			return nil, err
		}
		return nil, core.NewExternalResourceError("cvat annotations", err)
	}
	return archive, nil
}

func (c *Client) userID(ctx context.Context, wallet string) (int64, error) {
	key := strings.ToLower(strings.TrimSpace(wallet))
	c.mu.Lock()
	id, ok := c.users[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	res, err := c.call(ctx, http.MethodGet, "/api/users?search="+url.QueryEscape(key), nil, "cvat users")
	if err != nil {
		return 0, err
	}
	for _, user := range gjson.GetBytes(res, "results").Array() {
		if strings.EqualFold(user.Get("username").String(), key) {
			id = user.Get("id").Int()
			c.mu.Lock()
			c.users[key] = id
			c.mu.Unlock()
			return id, nil
		}
	}
	return 0, core.NewNotFoundError(fmt.Sprintf("cvat user %s not found", wallet))
}

// call sends body as JSON and maps 404 to a not-found error and any other
// non-2xx status to an external resource error.
func (c *Client) call(ctx context.Context, method, path string, body any, resource string) ([]byte, error) {
	res, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, core.NewExternalResourceError(resource, err)
	}
	if res.StatusCode == http.StatusNotFound {
		return nil, core.NewNotFoundError(resource + " not found")
	}
	if !res.Success() {
		return nil, core.NewExternalResourceError(resource, fmt.Errorf("%s %s returned %d: %s", method, path, res.StatusCode, res.Snippet()))
	}
	return res.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (transport.Response, error) {
	if c == nil || c.rest == nil {
		return transport.Response{}, errors.New("cvat: client is not configured")
	}
	req := transport.Request{
		Method:  method,
		URL:     c.cfg.URL + path,
		JSON:    body,
		Timeout: c.cfg.RequestTimeout,
	}
	if c.cfg.Username != "" {
		req.BasicAuth = &transport.BasicAuth{Username: c.cfg.Username, Password: c.cfg.Password}
	}
	return c.rest.Do(ctx, req)
}

var _ core.CVATClient = (*Client)(nil)
