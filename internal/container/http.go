package container

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/logger"
)

// maxRequestBody bounds request bodies read for interception (10 MB).
const maxRequestBody = 10 << 20

// ServeHTTP routes requests inside the controlling registration's scope
// through the controller's fetch engine. Everything else, and everything
// while the page has no controller, goes straight to the network.
func (c *Container) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}
	req := core.RequestFromHTTP(r, body)

	var resp *core.Response
	if ctrl := c.controllerFor(r.URL.Path); ctrl != nil {
		resp, err = ctrl.engine.HandleFetch(r.Context(), req)
	} else {
		resp, err = c.opts.Fetcher.Fetch(r.Context(), req)
	}

	if err != nil || resp == nil || resp.Type == core.ResponseError {
		if err != nil && !errors.Is(err, core.ErrNoResponse) {
			logger.Debug("Request failed", logger.KeyURL, req.URL, logger.KeyError, err)
		}
		http.Error(w, http.StatusText(http.StatusGatewayTimeout), http.StatusGatewayTimeout)
		return
	}

	h := w.Header()
	for k, vals := range resp.Headers {
		h[k] = append([]string(nil), vals...)
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

func (c *Container) controllerFor(path string) *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil || !strings.HasPrefix(path, c.controller.reg.Scope) {
		return nil
	}
	return c.controller
}
