package supervisor

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/devserver/internal/reload"
)

// adminServer exposes /metrics and /healthz on a separate listener from the
// document-root responder, so a traversal bug in the static file handler can
// never reach operational endpoints.
type adminServer struct {
	addr string
}

func newAdminServer(addr string) *adminServer {
	return &adminServer{addr: addr}
}

func (a *adminServer) ListenAndServe() error {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	return http.ListenAndServe(a.addr, r)
}

func (a *adminServer) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// listenReload binds the websocket listener the live-reload broadcaster
// accepts connections on, separate from both the document-root and admin
// listeners.
func listenReload(addr string, broadcaster *reload.Broadcaster) error {
	r := mux.NewRouter()
	r.HandleFunc("/", broadcaster.HandleWebSocket)
	return http.ListenAndServe(addr, r)
}
