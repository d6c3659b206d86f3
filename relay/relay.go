////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package relay is a small marketplace messaging backend. It persists
// messages in a store.Store, serves the REST history and send endpoints and
// fans pushes out to websocket rooms. It is what the conversation engine
// talks to in development and in the integration tests.
package relay

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/store"
)

// Relay serves the messaging API over HTTP.
type Relay struct {
	params  Params
	store   *store.Store
	hub     *hub
	metrics *metrics
	router  *mux.Router

	server *http.Server
	mux    sync.Mutex
}

// New creates a Relay backed by the given store.
func New(p Params, st *store.Store) *Relay {
	m := newMetrics()
	r := &Relay{
		params:  p,
		store:   st,
		hub:     newHub(p, m),
		metrics: m,
	}
	r.router = r.routes()
	return r
}

func (r *Relay) routes() *mux.Router {
	root := mux.NewRouter()
	root.Handle("/metrics", r.metrics.handler()).Methods(http.MethodGet)

	api := root.PathPrefix(r.params.BasePath).Subrouter()
	api.Use(authenticate)

	api.HandleFunc("/messages", r.createMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/conversation/{participantID}",
		r.getHistory).Methods(http.MethodGet)
	api.HandleFunc("/messages/conversation/{participantID}/read",
		r.markConversationRead).Methods(http.MethodPatch)
	api.HandleFunc("/messages/{id}/read", r.markRead).Methods(http.MethodPatch)
	api.HandleFunc("/ws", r.serveSocket).Methods(http.MethodGet)

	return root
}

// Handler returns the HTTP handler of the relay.
func (r *Relay) Handler() http.Handler {
	return r.router
}

// Serve accepts connections on l until Shutdown is called.
func (r *Relay) Serve(l net.Listener) error {
	r.mux.Lock()
	if r.server != nil {
		r.mux.Unlock()
		return errors.New("relay is already serving")
	}
	r.server = &http.Server{
		Handler:           r.router,
		ReadHeaderTimeout: r.params.WriteWait,
	}
	srv := r.server
	r.mux.Unlock()

	jww.INFO.Printf("[RELAY] Serving on %s%s", l.Addr(), r.params.BasePath)
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "relay stopped serving")
	}
	return nil
}

// ListenAndServe listens on the configured address and serves until
// Shutdown is called.
func (r *Relay) ListenAndServe() error {
	l, err := net.Listen("tcp", r.params.Address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", r.params.Address)
	}
	return r.Serve(l)
}

// Shutdown closes every socket and stops the HTTP server.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.hub.shutdown()

	r.mux.Lock()
	srv := r.server
	r.mux.Unlock()
	if srv == nil {
		return nil
	}
	return errors.WithStack(srv.Shutdown(ctx))
}
