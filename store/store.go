////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package store is the Message Store: an ordered, append-mostly collection of
// messages per conversation, persisted in a versioned KV. It is the source of
// truth for history pagination.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/storage/versioned"
)

const (
	messagePrefix      = "messages"
	conversationPrefix = "conversations"

	messageVersion = 0
	indexVersion   = 0
)

// ErrNotFound is returned when a message id is unknown.
var ErrNotFound = errors.New("message not found")

// Order is the sort direction of a history page.
type Order uint8

const (
	// Descending returns the newest messages first; page 1 is the most
	// recent page.
	Descending Order = iota
	Ascending
)

// Page is one page of a conversation's history.
type Page struct {
	Messages   []message.Message
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

type indexEntry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store holds the messages of every conversation.
type Store struct {
	messages      *versioned.KV
	conversations *versioned.KV

	// index caches the sorted id list of each loaded conversation.
	index map[string][]indexEntry
	mux   sync.RWMutex
}

// New returns a Store persisting into kv.
func New(kv *versioned.KV) *Store {
	return &Store{
		messages:      kv.Prefix(messagePrefix),
		conversations: kv.Prefix(conversationPrefix),
		index:         make(map[string][]indexEntry),
	}
}

// Append adds a message with a server-assigned id to its conversation.
// Appending a message whose id is already stored is a no-op.
func (s *Store) Append(m message.Message) error {
	if err := message.Validate(m); err != nil {
		return errors.Wrap(err, "refusing to store message")
	}
	m.ConversationKey = m.Key()

	s.mux.Lock()
	defer s.mux.Unlock()

	idx, err := s.loadIndex(m.ConversationKey)
	if err != nil {
		return err
	}

	for _, ie := range idx {
		if ie.ID == m.ID {
			jww.DEBUG.Printf("[STORE] Message %s already stored", m.ID)
			return nil
		}
	}

	// A message under the same id that is not indexed here either belongs
	// to another conversation or was left behind by a failed append.
	if stored, err := s.getMessage(m.ID); err == nil &&
		stored.Key() != m.ConversationKey {
		return errors.Errorf("message %s already stored in %s", m.ID,
			stored.Key())
	}

	if err = s.messages.SetJSON(m.ID, messageVersion, &m); err != nil {
		return errors.Wrapf(err, "failed to store message %s", m.ID)
	}

	e := indexEntry{ID: m.ID, CreatedAt: m.CreatedAt}
	pos := sort.Search(len(idx), func(i int) bool {
		return message.Less(e.CreatedAt, e.ID, idx[i].CreatedAt, idx[i].ID)
	})
	next := make([]indexEntry, 0, len(idx)+1)
	next = append(next, idx[:pos]...)
	next = append(next, e)
	next = append(next, idx[pos:]...)

	if err = s.saveIndex(m.ConversationKey, next); err != nil {
		if dErr := s.messages.Delete(m.ID, messageVersion); dErr != nil {
			jww.ERROR.Printf("[STORE] Failed to roll back message %s: %+v",
				m.ID, dErr)
		}
		return err
	}
	return nil
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (message.Message, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.getMessage(id)
}

// History returns one page of the conversation identified by key. Pages are
// numbered from 1.
func (s *Store) History(key string, page, limit int, order Order) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		return Page{}, errors.Errorf("invalid page limit %d", limit)
	}

	s.mux.Lock()
	idx, err := s.loadIndex(key)
	if err != nil {
		s.mux.Unlock()
		return Page{}, err
	}
	ids := make([]indexEntry, len(idx))
	copy(ids, idx)
	s.mux.Unlock()

	p := Page{
		Total:      len(ids),
		Page:       page,
		Limit:      limit,
		TotalPages: (len(ids) + limit - 1) / limit,
		Messages:   []message.Message{},
	}

	start := (page - 1) * limit
	if start >= len(ids) {
		return p, nil
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}

	s.mux.RLock()
	defer s.mux.RUnlock()
	for i := start; i < end; i++ {
		pos := i
		if order == Descending {
			pos = len(ids) - 1 - i
		}
		m, err := s.getMessage(ids[pos].ID)
		if err != nil {
			return Page{}, errors.WithMessagef(err,
				"index of %s references missing message %s", key, ids[pos].ID)
		}
		p.Messages = append(p.Messages, m)
	}
	return p, nil
}

// MarkRead marks the message read on behalf of readerID, who must be its
// receiver. It is idempotent; changed is false when nothing was updated.
func (s *Store) MarkRead(id, readerID string, at time.Time) (
	m message.Message, changed bool, err error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	m, err = s.getMessage(id)
	if err != nil {
		return m, false, err
	}
	if m.ReceiverID != readerID || m.IsRead {
		return m, false, nil
	}
	m.IsRead = true
	m.ReadAt = &at
	if err = s.messages.SetJSON(id, messageVersion, &m); err != nil {
		return m, false, errors.Wrapf(err, "failed to update message %s", id)
	}
	return m, true, nil
}

// MarkConversationRead marks every message of the conversation addressed to
// readerID as read and returns the messages it changed.
func (s *Store) MarkConversationRead(key, readerID string, at time.Time) (
	[]message.Message, error) {
	s.mux.Lock()
	idx, err := s.loadIndex(key)
	s.mux.Unlock()
	if err != nil {
		return nil, err
	}

	var changed []message.Message
	for _, e := range idx {
		m, updated, err := s.MarkRead(e.ID, readerID, at)
		if err != nil {
			return changed, err
		}
		if updated {
			changed = append(changed, m)
		}
	}
	return changed, nil
}

func (s *Store) getMessage(id string) (message.Message, error) {
	var m message.Message
	err := s.messages.GetJSON(id, messageVersion, &m)
	if err != nil {
		if !s.messages.Exists(errors.Cause(err)) {
			return m, errors.Wrapf(ErrNotFound, "message %s", id)
		}
		return m, errors.Wrapf(err, "failed to load message %s", id)
	}
	return m, nil
}

// loadIndex must be called with the write lock held.
func (s *Store) loadIndex(key string) ([]indexEntry, error) {
	if idx, ok := s.index[key]; ok {
		return idx, nil
	}
	var idx []indexEntry
	err := s.conversations.GetJSON(key, indexVersion, &idx)
	if err != nil && s.conversations.Exists(errors.Cause(err)) {
		return nil, errors.Wrapf(err, "failed to load index of %s", key)
	}
	s.index[key] = idx
	return idx, nil
}

func (s *Store) saveIndex(key string, idx []indexEntry) error {
	if err := s.conversations.SetJSON(key, indexVersion, idx); err != nil {
		return errors.Wrapf(err, "failed to store index of %s", key)
	}
	s.index[key] = idx
	return nil
}
