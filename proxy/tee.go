package proxy

import (
	"bytes"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"

	"github.com/pushgate/pushgate/metrics"
)

// MaxPackBytes caps how much pack data is buffered for inspection. A
// push larger than this fails rather than growing memory without bound.
const MaxPackBytes = 1 << 30

// ErrPackTooLarge marks a request body that blew the inspection cap.
var ErrPackTooLarge = errors.New("request body exceeds inspection cap")

// TeeBody splits the request body into two consumers: the returned
// bytes, drained eagerly for the policy chain, and a replacement
// request body that replays the same bytes to the upstream untouched.
// The eager drain is unavoidable for pack POSTs: the chain's verdict
// must land before the first byte reaches the upstream, so the forward
// stream cannot start until capture is complete. Non-pack requests are
// never teed; their bodies stream to the upstream untouched.
func TeeBody(r *http.Request) ([]byte, error) {
	return teeBody(r, MaxPackBytes)
}

func teeBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	buf, err := ioutil.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	if int64(len(buf)) > limit {
		return nil, ErrPackTooLarge
	}
	metrics.RecordPackBytes(len(buf))
	r.Body = ioutil.NopCloser(bytes.NewReader(buf))
	r.ContentLength = int64(len(buf))
	return buf, nil
}
