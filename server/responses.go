package server

import "context"

// dispatchResponse folds a response into the notebook and then
// broadcasts it to all connected clients.
func (srv *Server) dispatchResponse(ctx context.Context, item respItem) error {
	resolved, err := srv.notebook.Apply(item.Msg, item.Sender)
	if err != nil {
		return err
	}
	if resolved.Request != nil {
		srv.popPending(resolved.Request.ID)
	}
	srv.hub.Broadcast(resolved)
	return nil
}
