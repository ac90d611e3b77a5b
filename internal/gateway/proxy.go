package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/magicjsdev/ark/internal/status"
)

// NewProxy forwards requests, websocket upgrades included, to the app server
// port recorded in store at the time of each request.
func NewProxy(store *status.Store, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			port := store.Snapshot().AppServerPort
			r.SetURL(&url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)})
			r.Out.Host = r.In.Host
			r.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			setNoCache(resp.Header)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"message": err.Error()})
		},
	}
}
