////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/message"
)

// maxErrorBody caps how much of an error response is kept in a StatusError.
const maxErrorBody = 512

// PageMeta describes a history page as returned by the backend.
type PageMeta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// HistoryPage is the response of the history endpoint. Data is newest first.
type HistoryPage struct {
	Data []message.Message `json:"data"`
	Meta PageMeta          `json:"meta"`
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Code,
		http.StatusText(e.Code), e.Body)
}

// REST is the pull side of the transport.
type REST struct {
	base   string
	token  string
	client *http.Client
}

// NewREST creates a REST client from the params.
func NewREST(p Params) *REST {
	return &REST{
		base:   strings.TrimSuffix(p.BaseURL, "/"),
		token:  p.Token,
		client: &http.Client{Timeout: p.RequestTimeout},
	}
}

// FetchHistory returns one page of the conversation with participantID,
// newest first.
func (r *REST) FetchHistory(ctx context.Context, participantID string, page,
	limit int) (HistoryPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sortOrder", "desc")
	path := "/messages/conversation/" + url.PathEscape(participantID) +
		"?" + q.Encode()

	var hp HistoryPage
	err := r.do(ctx, http.MethodGet, path, nil, &hp)
	return hp, err
}

// Send posts the draft and returns the canonical message.
func (r *REST) Send(ctx context.Context, d message.Draft) (message.Message, error) {
	var m message.Message
	err := r.do(ctx, http.MethodPost, "/messages", d, &m)
	if err == nil && m.ClientRef == "" {
		m.ClientRef = d.LocalID
	}
	return m, err
}

// MarkRead marks one message as read by the caller.
func (r *REST) MarkRead(ctx context.Context, messageID string) error {
	return r.do(ctx, http.MethodPatch,
		"/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

// MarkConversationRead marks every message from participantID to the caller
// as read.
func (r *REST) MarkConversationRead(ctx context.Context, participantID string) error {
	return r.do(ctx, http.MethodPatch,
		"/messages/conversation/"+url.PathEscape(participantID)+"/read", nil, nil)
}

func (r *REST) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "failed to encode %s %s", method, path)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return errors.Wrapf(err, "failed to build %s %s", method, path)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	jww.TRACE.Printf("[TRANSPORT] %s %s", method, path)
	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.WithStack(&StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(b)),
		})
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode response of %s %s",
			method, path)
	}
	return nil
}
