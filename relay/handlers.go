////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/store"
	"gitlab.com/elixxir/marketchat/transport"
)

type userKey struct{}

// authenticate takes the caller's user id from the bearer token. There are
// no credentials beyond that; the relay trusts whoever it is deployed for.
func authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		userID := strings.TrimSpace(strings.TrimPrefix(
			req.Header.Get("Authorization"), "Bearer "))
		if userID == "" || strings.Contains(userID, " ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !message.ValidParticipantID(userID) {
			writeError(w, http.StatusUnauthorized, "invalid user id")
			return
		}
		ctx := context.WithValue(req.Context(), userKey{}, userID)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func userOf(req *http.Request) string {
	userID, _ := req.Context().Value(userKey{}).(string)
	return userID
}

func (r *Relay) getHistory(w http.ResponseWriter, req *http.Request) {
	userID := userOf(req)
	participantID := mux.Vars(req)["participantID"]
	if participantID == userID {
		writeError(w, http.StatusBadRequest, "cannot converse with yourself")
		return
	}
	if !message.ValidParticipantID(participantID) {
		writeError(w, http.StatusBadRequest, "invalid participant id")
		return
	}

	q := req.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	limit, err := intParam(q.Get("limit"), r.params.DefaultPageSize)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > r.params.MaxPageSize {
		limit = r.params.MaxPageSize
	}
	var order store.Order
	switch strings.ToLower(q.Get("sortOrder")) {
	case "", "desc":
		order = store.Descending
	case "asc":
		order = store.Ascending
	default:
		writeError(w, http.StatusBadRequest, "invalid sortOrder")
		return
	}

	p, err := r.store.History(message.ConversationKey(userID, participantID),
		page, limit, order)
	if err != nil {
		jww.ERROR.Printf("[RELAY] History of %s with %s: %+v", userID,
			participantID, err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, transport.HistoryPage{
		Data: p.Messages,
		Meta: transport.PageMeta{
			Total:      p.Total,
			Page:       p.Page,
			Limit:      p.Limit,
			TotalPages: p.TotalPages,
		},
	})
}

func (r *Relay) createMessage(w http.ResponseWriter, req *http.Request) {
	userID := userOf(req)
	var d message.Draft
	if err := json.NewDecoder(req.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !message.ValidParticipantID(d.ReceiverID) || d.ReceiverID == userID {
		writeError(w, http.StatusBadRequest, "invalid receiverId")
		return
	}
	if d.Kind == "" {
		d.Kind = message.TextKind
	}
	if d.Kind == message.TextKind && strings.TrimSpace(d.Body) == "" {
		writeError(w, http.StatusBadRequest, "empty content")
		return
	}

	m := message.Message{
		ID:              uuid.NewString(),
		ConversationKey: message.ConversationKey(userID, d.ReceiverID),
		SenderID:        userID,
		ReceiverID:      d.ReceiverID,
		Kind:            d.Kind,
		Body:            d.Body,
		Payload:         d.Payload,
		CreatedAt:       netTime.Now().UTC(),
		ClientRef:       d.LocalID,
	}
	if err := r.store.Append(m); err != nil {
		if message.IsMalformed(err) {
			writeError(w, http.StatusBadRequest, errors.Cause(err).Error())
			return
		}
		jww.ERROR.Printf("[RELAY] Storing message from %s: %+v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	r.metrics.messages.WithLabelValues(string(m.Kind)).Inc()
	jww.DEBUG.Printf("[RELAY] %s sent %s %s to %s", userID, m.Kind, m.ID,
		m.ReceiverID)
	r.hub.publish(roomOf(m), transport.NewMessage, m, nil)
	writeJSON(w, http.StatusCreated, m)
}

func (r *Relay) markRead(w http.ResponseWriter, req *http.Request) {
	userID := userOf(req)
	id := mux.Vars(req)["id"]

	m, changed, err := r.store.MarkRead(id, userID, netTime.Now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "message not found")
		return
	case err != nil:
		jww.ERROR.Printf("[RELAY] Marking %s read: %+v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	case m.ReceiverID != userID:
		writeError(w, http.StatusForbidden, "only the receiver can mark a message read")
		return
	}

	if changed {
		r.publishRead(m, userID)
	}
	writeJSON(w, http.StatusOK, m)
}

func (r *Relay) markConversationRead(w http.ResponseWriter, req *http.Request) {
	userID := userOf(req)
	participantID := mux.Vars(req)["participantID"]
	if !message.ValidParticipantID(participantID) || participantID == userID {
		writeError(w, http.StatusBadRequest, "invalid participant id")
		return
	}

	changed, err := r.store.MarkConversationRead(
		message.ConversationKey(userID, participantID), userID,
		netTime.Now().UTC())
	for _, m := range changed {
		r.publishRead(m, userID)
	}
	if err != nil {
		jww.ERROR.Printf("[RELAY] Marking conversation of %s with %s read: %+v",
			userID, participantID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Updated int `json:"updated"`
	}{len(changed)})
}

func (r *Relay) publishRead(m message.Message, readBy string) {
	r.metrics.reads.Inc()
	room := roomOf(m)
	rr := transport.ReadReceipt{MessageID: m.ID, ReadBy: readBy, RoomID: room}
	if m.ReadAt != nil {
		rr.ReadAt = *m.ReadAt
	}
	r.hub.publish(room, transport.MessageReadUpdate, rr, nil)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		jww.DEBUG.Printf("[RELAY] Writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{msg})
}
