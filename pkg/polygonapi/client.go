// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package polygonapi is a signed HTTP client for the Codeforces Polygon
// REST API: https://polygon.codeforces.com/api/. It exposes the three
// operations the importer needs — problems.list, problem.packages, and
// problem.package — and handles Polygon's request-signing scheme and
// its habit of reporting logical errors with HTTP 200.
package polygonapi

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/internal/metrics"
	"github.com/kraklabs/polyimport/internal/retry"
)

const baseURL = "https://polygon.codeforces.com/api/"

const chunkSize = 16 * 1024

// Credentials authenticates requests to the Polygon API.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Client is a signed Polygon REST client.
type Client struct {
	creds   Credentials
	baseURL string
	http    *http.Client
	retry   retry.Config
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default 120s HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBaseURL overrides the Polygon API base URL, for pointing at a
// self-hosted mirror or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// New returns a Client authenticated with creds.
func New(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:   creds,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
		retry:   retry.DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Problem is the subset of problems.list's result the importer uses.
// LatestPackage is nil until Polygon has generated at least one package
// for the problem; when set, it names the revision downloadPackage
// must find a "linux"-type package for.
type Problem struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Owner         string `json:"owner"`
	Revision      int    `json:"revision"`
	LatestPackage *int   `json:"latestPackage"`
}

// Package describes one generated problem package.
type Package struct {
	ID           int64  `json:"id"`
	Revision     int    `json:"revision"`
	CreationTime string `json:"creationTimeSeconds"`
	State        string `json:"state"`
	Type         string `json:"type"`
}

// envelope is Polygon's top-level JSON response shape.
type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

// GetProblem fetches the single problem identified by id. Zero or more
// than one result is a contract violation and fails.
func (c *Client) GetProblem(ctx context.Context, id int64) (*Problem, error) {
	result, err := c.call(ctx, "problems.list", url.Values{"id": {strconv.FormatInt(id, 10)}})
	if err != nil {
		return nil, err
	}

	var problems []Problem
	if err := json.Unmarshal(result, &problems); err != nil {
		return nil, importerr.NewDescriptorError(
			"malformed problems.list response",
			err.Error(),
			"the Polygon API returned a result that does not match the expected problem list shape",
			err,
		)
	}
	switch len(problems) {
	case 0:
		return nil, importerr.NewNetworkError(
			fmt.Sprintf("problem %d not found", id),
			"problems.list returned an empty result",
			"check the Polygon problem id and that the configured API key has access to it",
			nil,
		)
	case 1:
		return &problems[0], nil
	default:
		return nil, importerr.NewInternalError(
			fmt.Sprintf("problem %d resolved to %d results", id, len(problems)),
			"problems.list should return exactly one problem per id",
			"this indicates a Polygon API contract change",
			nil,
		)
	}
}

// GetPackages lists the packages generated for problemID.
func (c *Client) GetPackages(ctx context.Context, problemID int64) ([]Package, error) {
	result, err := c.call(ctx, "problem.packages", url.Values{"problemId": {strconv.FormatInt(problemID, 10)}})
	if err != nil {
		return nil, err
	}

	var packages []Package
	if err := json.Unmarshal(result, &packages); err != nil {
		return nil, importerr.NewDescriptorError(
			"malformed problem.packages response",
			err.Error(),
			"the Polygon API returned a result that does not match the expected package list shape",
			err,
		)
	}
	return packages, nil
}

// ProgressFunc reports cumulative bytes written by SavePackage.
type ProgressFunc func(written int64)

// SavePackage downloads packageID of problemID to destPath, streaming
// the response body in 16 KiB chunks and reporting cumulative bytes
// through progress (which may be nil).
func (c *Client) SavePackage(ctx context.Context, problemID, packageID int64, destPath string, progress ProgressFunc) error {
	params := url.Values{
		"problemId": {strconv.FormatInt(problemID, 10)},
		"packageId": {strconv.FormatInt(packageID, 10)},
		"type":      {"linux"},
	}

	out, err := os.Create(destPath)
	if err != nil {
		return importerr.NewInternalError("create package destination file", err.Error(), "check disk space and permissions on the job scratch directory", err)
	}
	defer out.Close()

	method := "problem.package"
	var written int64
	op := func() error {
		written = 0
		if err := out.Truncate(0); err != nil {
			return err
		}
		if _, err := out.Seek(0, 0); err != nil {
			return err
		}

		req, err := c.signedRequest(ctx, method, params)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return importerr.NewNetworkError(
				"problem.package download failed",
				fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
				"verify the latest package is READY and the API key has download access",
				nil,
			)
		}

		buf := make([]byte, chunkSize)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					return werr
				}
				written += int64(n)
				if progress != nil {
					progress(written)
				}
			}
			if rerr == io.EOF {
				return nil
			}
			if rerr != nil {
				return rerr
			}
		}
	}

	if err := retry.Do(ctx, c.retry, retry.IsRetryableNetworkError, c.onRetry(method), op); err != nil {
		if _, ok := err.(*importerr.ProblemImportError); ok {
			return err
		}
		return importerr.NewNetworkError("problem.package download failed", err.Error(), "check network connectivity to polygon.codeforces.com", err)
	}
	return nil
}

// call performs a signed POST to method and returns its result field,
// retrying transport failures and 5xx/429 responses.
func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	var result json.RawMessage

	op := func() error {
		req, err := c.signedRequest(ctx, method, params)
		if err != nil {
			return err
		}

		c.logger.Debug("polygonapi.request", "method", method, "params", redactedParams(params))

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("polygon %s: HTTP %d", method, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return importerr.NewNetworkError(
				fmt.Sprintf("polygon %s failed", method),
				fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
				"check API credentials and method parameters",
				nil,
			)
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return importerr.NewDescriptorError(
				fmt.Sprintf("polygon %s returned a non-JSON body", method),
				err.Error(),
				"the Polygon API response could not be parsed",
				err,
			)
		}
		if env.Status != "OK" {
			return importerr.NewNetworkError(
				fmt.Sprintf("polygon %s reported an error", method),
				env.Comment,
				"check the request parameters against the Polygon API documentation",
				nil,
			)
		}

		c.logger.Debug("polygonapi.response", "method", method, "status", env.Status)
		result = env.Result
		return nil
	}

	if err := retry.Do(ctx, c.retry, retry.IsRetryableNetworkError, c.onRetry(method), op); err != nil {
		if pe, ok := err.(*importerr.ProblemImportError); ok {
			return nil, pe
		}
		return nil, importerr.NewNetworkError(fmt.Sprintf("polygon %s failed", method), err.Error(), "check network connectivity to polygon.codeforces.com", err)
	}
	return result, nil
}

func (c *Client) onRetry(method string) func(attempt int, sleep time.Duration, err error) {
	return func(attempt int, sleep time.Duration, err error) {
		metrics.RecordAPIRetry()
		c.logger.Warn("polygonapi.retry", "method", method, "attempt", attempt+1, "sleep", sleep, "error", err)
	}
}

// signedRequest builds the signed POST request for method and params.
func (c *Client) signedRequest(ctx context.Context, method string, params url.Values) (*http.Request, error) {
	signed := url.Values{}
	for k, v := range params {
		signed[k] = v
	}
	signed.Set("apiKey", c.creds.APIKey)
	signed.Set("time", strconv.FormatInt(time.Now().Unix(), 10))

	randHex, err := randomHex(6)
	if err != nil {
		return nil, importerr.NewInternalError("generate signature nonce", err.Error(), "", err)
	}

	sortedParams := sortedParams(signed)
	source := randHex + "/" + method + "?" + sortedParams + "#" + c.creds.APISecret
	signed.Set("apiSig", randHex+sha512Hex(source))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, strings.NewReader(signed.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// sortedParams joins k=v pairs ordered by key, matching the exact form
// Polygon hashes over.
func sortedParams(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range values[k] {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// redactedParams returns a copy of params with apiSig and apiSecret
// removed, safe to log.
func redactedParams(params url.Values) string {
	redacted := url.Values{}
	for k, v := range params {
		if k == "apiSig" || k == "apiSecret" {
			continue
		}
		redacted[k] = v
	}
	return redacted.Encode()
}
