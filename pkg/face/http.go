package face

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-hrd/internal/httpc"
	"github.com/teslashibe/go-hrd/pkg/fusion"
	"github.com/teslashibe/go-hrd/pkg/protocol"
)

// HTTPAnalyzer calls a remote facial analysis service. It posts the frame
// to <url>/analyze and expects a fusion.Reading in reply.
type HTTPAnalyzer struct {
	url    string
	camera string
	client *http.Client
	closed atomic.Bool
}

type analyzeRequest struct {
	Camera string `json:"camera"`
	protocol.FrameData
}

// NewHTTPAnalyzer creates an analyzer for one camera. Each camera gets its
// own client so their connections are independent.
func NewHTTPAnalyzer(baseURL, camera string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		url:    strings.TrimRight(baseURL, "/") + "/analyze",
		camera: camera,
		client: httpc.New(timeout),
	}
}

// Analyze implements Analyzer.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, frame protocol.FrameData) (fusion.Reading, error) {
	if a.closed.Load() {
		return fusion.Reading{}, ErrClosed
	}
	var r fusion.Reading
	if err := httpc.PostJSON(ctx, a.client, a.url, analyzeRequest{Camera: a.camera, FrameData: frame}, &r); err != nil {
		return fusion.Reading{}, fmt.Errorf("analyze %s frame %d: %w", a.camera, frame.Seq, err)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fusion.Reading{}, fmt.Errorf("analyze %s frame %d: confidence %v out of range", a.camera, frame.Seq, r.Confidence)
	}
	return r, nil
}

// Close implements Analyzer.
func (a *HTTPAnalyzer) Close() error {
	a.closed.Store(true)
	a.client.CloseIdleConnections()
	return nil
}
