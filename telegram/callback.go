package telegram

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
)

// CallbackReceiver is the loopback HTTP endpoint standing in for the
// hosted widget script: it serves rendered login buttons and receives the
// widget's completion callback, forwarding payloads into the adapter.
type CallbackReceiver struct {
	adapter *WidgetAdapter
	srv     *http.Server
	ln      net.Listener
}

func startReceiver(adapter *WidgetAdapter, addr string) (*CallbackReceiver, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	rec := &CallbackReceiver{adapter: adapter, ln: ln}
	r := mux.NewRouter()
	r.HandleFunc("/widget/{container}", rec.serveWidget).Methods(http.MethodGet)
	r.HandleFunc("/callback", rec.handleCallback).Methods(http.MethodGet, http.MethodPost)
	rec.srv = &http.Server{Handler: r}

	go rec.srv.Serve(ln)
	return rec, nil
}

// URL returns the receiver's base URL.
func (rec *CallbackReceiver) URL() string {
	return "http://" + rec.ln.Addr().String()
}

// Close stops the receiver.
func (rec *CallbackReceiver) Close() error {
	return rec.srv.Close()
}

// serveWidget returns the markup rendered into a registered container.
func (rec *CallbackReceiver) serveWidget(w http.ResponseWriter, r *http.Request) {
	containerID := mux.Vars(r)["container"]
	markup, ok := rec.adapter.container(containerID)
	if !ok {
		http.Error(w, "unknown widget container", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><div id=%q>%s</div></body></html>",
		containerID, markup)
}

// handleCallback accepts the widget's completion payload, either query
// parameters on GET (the redirect form) or a JSON body on POST (the
// postMessage form, possibly wrapped in a telegram_auth envelope), and
// forwards it to the armed waiter and to message subscribers.
func (rec *CallbackReceiver) handleCallback(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any

	switch r.Method {
	case http.MethodGet:
		raw = make(map[string]any, len(r.URL.Query()))
		for k, vs := range r.URL.Query() {
			if len(vs) > 0 {
				raw[k] = vs[0]
			}
		}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if inner, ok := raw["telegram_auth"].(map[string]any); ok {
			raw = inner
		}
	}

	if len(raw) == 0 {
		http.Error(w, "empty payload", http.StatusBadRequest)
		return
	}

	rec.adapter.Deliver(raw)
	rec.adapter.PostMessage(map[string]any{"telegram_auth": raw})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!DOCTYPE html><html><body>Authentication received. You may close this window.</body></html>")
}
