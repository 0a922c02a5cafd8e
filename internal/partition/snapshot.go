package partition

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httputil"
)

// snapshotResponse serializes a response to its HTTP/1.x wire form, including
// the status line, headers, and full body. DumpResponse drains and replaces
// the body, so the caller's response remains readable after the call.
func snapshotResponse(res *http.Response) ([]byte, error) {
	if res.Body == nil {
		res.Body = http.NoBody
	}

	data, err := httputil.DumpResponse(res, true)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot response: %w", err)
	}

	return data, nil
}

// restoreResponse parses a wire-form snapshot back into a response. The
// returned response reads its body from the in-memory snapshot, so it stays
// valid independently of any connection. req may be nil; when set it is
// attached as the response's originating request.
func restoreResponse(data []byte, req *http.Request) (*http.Response, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), req)
	if err != nil {
		return nil, fmt.Errorf("failed to restore response: %w", err)
	}

	return res, nil
}
