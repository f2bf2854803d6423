// Copyright 2026 The Ecovisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// LogInfo is a snapshot of a log together with the tag needed to wait for
// the next change.
type LogInfo struct {
	etag    string
	Records []LogRecord
}

type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(name string) string {
	if name == "" {
		return c.base + "/services"
	}
	return c.base + "/services/" + url.PathEscape(name)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return nil, e
	}
	switch res.StatusCode {
	case http.StatusOK, http.StatusNotModified:
		return res, nil
	}
	defer res.Body.Close()
	re := &Error{Code: res.StatusCode, Message: res.Status}
	if b, e := io.ReadAll(res.Body); e == nil {
		json.Unmarshal(b, re)
		re.Code = res.StatusCode
	}
	return nil, re
}

// poll issues an HTTP GET against the URL.  With an etag the server may
// answer Not Modified, and with wait > 0 it holds the request up to wait
// seconds for a change.  The new etag is returned, or "" if nothing
// changed.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}
	res, e := c.do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if e := json.NewDecoder(res.Body).Decode(v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) post(ctx context.Context, url string) error {
	req, e := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	res, e := c.do(req)
	if e != nil {
		return e
	}
	res.Body.Close()
	return nil
}

// Info returns the manager summary and its etag.
func (c *Client) Info(ctx context.Context) (*ManagerInfo, string, error) {
	info := &ManagerInfo{}
	etag, e := c.poll(ctx, c.base+"/", "", 0, info)
	if e != nil {
		return nil, "", e
	}
	return info, etag, nil
}

// Watch waits for the set of services to change from etag, and returns
// the new etag (the same one if the wait timed out).
func (c *Client) Watch(ctx context.Context, etag string) (string, error) {
	info := &ManagerInfo{}
	ntag, e := c.poll(ctx, c.base+"/", etag, MaxPollTime, info)
	if e != nil {
		return "", e
	}
	if ntag == "" {
		return etag, nil
	}
	return ntag, nil
}

// Services returns the names of all services.
func (c *Client) Services(ctx context.Context) ([]string, error) {
	v := []string{}
	if _, e := c.poll(ctx, c.url(""), "", 0, &v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) GetService(ctx context.Context, name string) (*ServiceInfo, error) {
	v := &ServiceInfo{}
	if _, e := c.poll(ctx, c.url(name), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) postService(ctx context.Context, name string, action string) error {
	return c.post(ctx, c.url(name)+"/"+action)
}

func (c *Client) EnableService(ctx context.Context, name string) error {
	return c.postService(ctx, name, "enable")
}

func (c *Client) DisableService(ctx context.Context, name string) error {
	return c.postService(ctx, name, "disable")
}

func (c *Client) ClearService(ctx context.Context, name string) error {
	return c.postService(ctx, name, "clear")
}

func (c *Client) RestartService(ctx context.Context, name string) error {
	return c.postService(ctx, name, "restart")
}

// Reload asks the supervisor to restart every enabled service.
func (c *Client) Reload(ctx context.Context) error {
	return c.post(ctx, c.base+"/reload")
}

func (c *Client) pollLog(ctx context.Context, name string, secs int, last *LogInfo) (*LogInfo, error) {
	otag := ""
	if last != nil {
		otag = last.etag
	} else {
		secs = 0
	}

	u := c.url(name) + "/log"
	if name == "" {
		u = c.base + "/log"
	}

	v := &LogInfo{}
	etag, e := c.poll(ctx, u, otag, secs, &v.Records)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	return v, nil
}

// GetLog returns the log of the named service, or of everything if name
// is empty.
func (c *Client) GetLog(ctx context.Context, name string) (*LogInfo, error) {
	return c.pollLog(ctx, name, 0, nil)
}

// WatchLog waits for the log to move on from last.  If nothing changes
// before the server gives up, last itself is returned.
func (c *Client) WatchLog(ctx context.Context, name string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, name, MaxPollTime, last)
}

// NewClient returns a Client handle.  The transport may be nil to use a
// default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base:   strings.TrimRight(baseURI, "/"),
		client: &http.Client{Transport: t},
	}
}
