package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/brandonshearin/notebookd/message"
)

// callbackPayload is the JSON body a worker's callback snippet POSTs on
// run completion: the id of the request whose run just finished.
type callbackPayload struct {
	ID string `json:"id"`
}

// handleCallback decodes the POSTed request id, looks up the
// originating RunCell request, and hands a synthesized DidRunCell to
// the response pipeline. The handler always responds 200: workers do
// not retry, so there is nothing to be gained by surfacing a 4xx/5xx
// for an unknown or duplicate id, only something to be lost (a worker
// stuck retrying a POST nobody will ever accept).
func (srv *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload callbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		srv.log().WithError(err).Warn("callback: unparseable body")
		w.WriteHeader(http.StatusOK)
		return
	}

	req, ok := srv.popPending(payload.ID)
	if !ok {
		srv.log().WithField("request_id", payload.ID).Warn("callback: unknown or already-completed request")
		w.WriteHeader(http.StatusOK)
		return
	}

	srv.responses.Put(respItem{Msg: message.DidRunCellFor(req)})
	w.WriteHeader(http.StatusOK)
}

// Router builds the gorilla/mux router serving the WebSocket endpoint
// and the worker callback endpoint.
func (srv *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		srv.hub.ServeWS(srv.SubmitRequest, w, r)
	})
	r.HandleFunc("/callback", srv.handleCallback).Methods(http.MethodPost)
	return r
}
