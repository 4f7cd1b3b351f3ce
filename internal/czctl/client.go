// Package czctl is the czar-side HTTP client for talking to a worker's C7
// endpoint set. Grounded on cuemby-warren/pkg/client's
// wrap-the-transport-in-one-struct shape, but over plain JSON-over-HTTP
// instead of gRPC+mTLS, per spec.md §6 (SPEC_FULL.md §3.4 explains why
// grpc is not reused as the control-plane transport).
package czctl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/proto"
)

// AddressBook resolves a worker id to its base HTTP address
// (e.g. "http://worker-1:25000"). Kept as a function so the czar's
// chunk-map reload can swap addresses without reconstructing the client.
type AddressBook func(ids.WorkerID) (string, bool)

// WorkerClient implements qdisp.Dispatcher and qdisp.FileFetcher, and
// drives the C12 status round and the cancel command, against every
// worker named in its AddressBook.
type WorkerClient struct {
	addrs      AddressBook
	httpClient *http.Client
}

// NewWorkerClient builds a WorkerClient with the given per-request timeout.
func NewWorkerClient(addrs AddressBook, timeout time.Duration) *WorkerClient {
	return &WorkerClient{
		addrs:      addrs,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *WorkerClient) resolve(w ids.WorkerID) (string, error) {
	addr, ok := c.addrs(w)
	if !ok {
		return "", fmt.Errorf("czctl: no known address for worker %s", w)
	}
	return addr, nil
}

func (c *WorkerClient) postJSON(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("czctl: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("czctl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("czctl: post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("czctl: post %s: status %d: %s", url, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("czctl: decode response from %s: %w", url, err)
	}
	return nil
}

// uberJobAckBody mirrors what a worker's /queryjob handler writes back
// (internal/wcontrol's queryJobResponse).
type uberJobAckBody struct {
	Success   bool   `json:"success"`
	ErrorType string `json:"errortype,omitempty"`
	Note      string `json:"note,omitempty"`
}

// PostUberJob implements qdisp.Dispatcher.
func (c *WorkerClient) PostUberJob(ctx context.Context, worker ids.WorkerID, msg *proto.UberJobMsg) (*proto.UberJobAck, error) {
	addr, err := c.resolve(worker)
	if err != nil {
		return nil, err
	}
	var body uberJobAckBody
	if err := c.postJSON(ctx, addr+"/queryjob", msg, &body); err != nil {
		return nil, err
	}
	if !body.Success {
		return nil, fmt.Errorf("czctl: worker %s rejected uber-job: %s: %s", worker, body.ErrorType, body.Note)
	}
	return &proto.UberJobAck{Accepted: true}, nil
}

// Fetch implements qdisp.FileFetcher: fileURL is the absolute URL a
// worker's /queryjob-ready callback names, already pointing at that
// worker's /result/ route.
func (c *WorkerClient) Fetch(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("czctl: build fetch request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("czctl: fetch %s: %w", fileURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("czctl: fetch %s: status %d", fileURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// PostStatus runs one C12 round against worker w: POST msg to
// /queryjob-status and decode its reply.
func (c *WorkerClient) PostStatus(ctx context.Context, w ids.WorkerID, msg *proto.WorkerStatusMsg) (*proto.WorkerStatusReply, error) {
	addr, err := c.resolve(w)
	if err != nil {
		return nil, err
	}
	var reply proto.WorkerStatusReply
	if err := c.postJSON(ctx, addr+"/queryjob-status", msg, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Cancel posts a /queryjob-cancel for query q (and, if u is non-nil, only
// the given uber-job within it) to worker w.
func (c *WorkerClient) Cancel(ctx context.Context, w ids.WorkerID, q ids.QueryID, u *ids.UberJobID) error {
	addr, err := c.resolve(w)
	if err != nil {
		return err
	}
	body := struct {
		QID  ids.QueryID    `json:"qid"`
		UJID *ids.UberJobID `json:"ujid,omitempty"`
	}{q, u}
	return c.postJSON(ctx, addr+"/queryjob-cancel", body, nil)
}
