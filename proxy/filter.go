package proxy

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pushgate/pushgate/chain"
	"github.com/pushgate/pushgate/giturl"
	"github.com/pushgate/pushgate/metrics"
	"github.com/pushgate/pushgate/models"
	"github.com/pushgate/pushgate/pktline"
)

// Filter decides, before any byte reaches the upstream, whether a
// request may be forwarded. It classifies the request, tees pack bodies
// for inspection, runs the policy chain, and writes protocol-correct
// refusals. Internal faults refuse the request; the filter never fails
// open.
type Filter struct {
	executor chain.Executor
	upstream *url.URL
	timeout  time.Duration
	logger   *log.Logger
}

// NewFilter builds a filter for one upstream origin.
func NewFilter(executor chain.Executor, upstream *url.URL, timeout time.Duration, logger *log.Logger) *Filter {
	return &Filter{
		executor: executor,
		upstream: upstream,
		timeout:  timeout,
		logger:   logger,
	}
}

// Allow reports whether the request may continue to the upstream. When
// it returns false the refusal response has already been written.
func (f *Filter) Allow(w http.ResponseWriter, r *http.Request) bool {
	start := time.Now()
	defer func() {
		metrics.RecordFilterDuration(time.Since(start).Seconds())
	}()

	requestPath := r.URL.Path
	if r.URL.RawQuery != "" {
		requestPath += "?" + r.URL.RawQuery
	}

	parsed, ok := giturl.ProcessURLPath(requestPath)
	if !ok || !giturl.ValidGitRequest(parsed.GitPath, r.Header) {
		f.logger.Printf("Invalid request received: %s %s", r.Method, requestPath)
		metrics.RecordFilterOutcome("invalid")
		f.refuse(w, parsed.GitPath, "Invalid request received")
		return false
	}

	capture := &chain.Capture{
		URL:      f.upstream.String() + parsed.RepoPath,
		RepoPath: parsed.RepoPath,
		GitPath:  parsed.GitPath,
		Method:   r.Method,
	}
	if username, _, ok := r.BasicAuth(); ok {
		capture.User = username
	}

	if r.Method == http.MethodPost && isPackPath(parsed.GitPath) {
		body, err := TeeBody(r)
		if err != nil {
			f.logger.Printf("Error occurred in proxy filter function: %v", err)
			metrics.RecordFilterOutcome("error")
			f.refuse(w, parsed.GitPath, "Error occurred in proxy filter function")
			return false
		}
		capture.Pack = body
	}

	action, err := f.exec(r.Context(), capture)
	if err != nil {
		f.logger.Printf("Error occurred in proxy filter function: %v", err)
		metrics.RecordFilterOutcome("error")
		f.refuse(w, parsed.GitPath, "Error occurred in proxy filter function")
		return false
	}

	if action.Error || action.Blocked {
		outcome := "blocked"
		if action.Error {
			outcome = "error"
		}
		f.logger.Printf("Refused %s %s for push %s: %s",
			r.Method, parsed.RepoPath, action.ID, action.RefusalMessage())
		metrics.RecordFilterOutcome(outcome)
		f.refuse(w, parsed.GitPath, action.RefusalMessage())
		return false
	}

	f.logger.Printf("Allowed %s %s%s", r.Method, parsed.RepoPath, parsed.GitPath)
	metrics.RecordFilterOutcome("allowed")
	return true
}

// exec runs the chain under the configured timeout, converting panics
// and timeouts into errors so a stuck or broken policy stage can never
// let a push through or hang the client forever.
func (f *Filter) exec(ctx context.Context, capture *chain.Capture) (*models.Action, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type result struct {
		action *models.Action
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{nil, fmt.Errorf("panic in policy chain: %v", r)}
			}
		}()
		action, err := f.executor.Exec(ctx, capture)
		ch <- result{action, err}
	}()

	select {
	case res := <-ch:
		return res.action, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("policy chain timed out: %v", ctx.Err())
	}
}

func isPackPath(gitPath string) bool {
	return gitPath == "/git-upload-pack" || gitPath == "/git-receive-pack"
}

// refuse writes a protocol-valid Git error so standard clients render a
// readable message instead of hanging. Flavor follows the endpoint: ref
// advertisements get an ERR packet, pack endpoints a sideband message.
func (f *Filter) refuse(w http.ResponseWriter, gitPath, message string) {
	var (
		packet      []byte
		contentType string
	)
	if gitPath == "" || strings.HasPrefix(gitPath, "/info/refs") {
		packet = pktline.ErrorPacket(message)
		contentType = pktline.UploadPackAdvertisement
	} else {
		packet = pktline.SidebandPacket(message)
		contentType = pktline.ReceivePackResult
	}

	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Expires", "Fri, 01 Jan 1980 00:00:00 GMT")
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache, max-age=0, must-revalidate")
	header.Set("Vary", "Accept-Encoding")
	header.Set("X-Frame-Options", "DENY")
	header.Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	w.Write(packet)
}
