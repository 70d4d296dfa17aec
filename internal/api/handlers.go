package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/timelock/internal/ir"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ActionView is the JSON form of an action. Data is 0x-prefixed hex.
type ActionView struct {
	Target string `json:"target"`
	Value  uint64 `json:"value"`
	Data   string `json:"data,omitempty"`
}

type createRequest struct {
	Metadata        string       `json:"metadata,omitempty"`
	Actions         []ActionView `json:"actions"`
	AllowFailureMap string       `json:"allow_failure_map,omitempty"`
}

type createResponse struct {
	ID uint64 `json:"id"`
}

// RequestView is the JSON form of a request.
type RequestView struct {
	ID              uint64       `json:"id"`
	State           string       `json:"state"`
	Actions         []ActionView `json:"actions"`
	AllowFailureMap string       `json:"allow_failure_map"`
	CreatedAt       string       `json:"created_at"`
	EligibleAt      string       `json:"eligible_at"`
	ExecutedAt      string       `json:"executed_at,omitempty"`
	FailureMap      string       `json:"failure_map"`
	ActionsHash     string       `json:"actions_hash"`
}

// OutcomeView is the JSON form of an execution outcome.
type OutcomeView struct {
	ID         uint64   `json:"id"`
	Results    []string `json:"results"`
	FailureMap string   `json:"failure_map"`
}

// DelayView reports the current and the maximum delay.
type DelayView struct {
	DelaySeconds    int64 `json:"delay_seconds"`
	MaxDelaySeconds int64 `json:"max_delay_seconds"`
}

type setDelayRequest struct {
	DelaySeconds *int64 `json:"delay_seconds"`
}

// EventView is the JSON form of an event: its canonical payload plus log
// position and flow token.
type EventView struct {
	Seq       int64          `json:"seq"`
	Kind      string         `json:"kind"`
	FlowToken string         `json:"flow_token"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	metadata, err := ir.DecodeData(req.Metadata)
	if err != nil {
		badRequest(w, "metadata: "+err.Error())
		return
	}
	mask, err := ir.ParseBitmap(req.AllowFailureMap)
	if err != nil {
		badRequest(w, "allow_failure_map: "+err.Error())
		return
	}
	actions := make([]ir.Action, len(req.Actions))
	for i, a := range req.Actions {
		data, err := ir.DecodeData(a.Data)
		if err != nil {
			badRequest(w, fmt.Sprintf("actions[%d]: %v", i, err))
			return
		}
		actions[i] = ir.Action{Target: a.Target, Value: a.Value, Data: data}
	}

	id, err := s.engine.Create(r.Context(), caller(r), metadata, actions, mask)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: id})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	after, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	reqs, err := s.engine.Requests(r.Context(), after, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	delay, err := s.engine.Delay(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	views := make([]RequestView, len(reqs))
	for i, req := range reqs {
		views[i] = NewRequestView(req, delay)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := s.engine.Request(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	delay, err := s.engine.Delay(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewRequestView(req, delay))
}

func (s *Server) handleRequestEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	events, err := s.engine.RequestEvents(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEvents(w, events)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	out, err := s.engine.Execute(r.Context(), caller(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewOutcomeView(id, out.Results, out.FailureMap))
}

func (s *Server) handleExecuteFast(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	out, err := s.engine.ExecuteFast(r.Context(), caller(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewOutcomeView(id, out.Results, out.FailureMap))
}

func (s *Server) handleGetDelay(w http.ResponseWriter, r *http.Request) {
	delay, err := s.engine.Delay(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.delayView(delay))
}

func (s *Server) handleSetDelay(w http.ResponseWriter, r *http.Request) {
	var req setDelayRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.DelaySeconds == nil {
		badRequest(w, "delay_seconds is required")
		return
	}

	if err := s.engine.SetDelay(r.Context(), caller(r), secondsToDuration(*req.DelaySeconds)); err != nil {
		s.writeError(w, err)
		return
	}
	delay, err := s.engine.Delay(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.delayView(delay))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	events, err := s.engine.Events(r.Context(), after, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEvents(w, events)
}

func (s *Server) writeEvents(w http.ResponseWriter, events []ir.Event) {
	views := make([]EventView, len(events))
	for i, ev := range events {
		v, err := NewEventView(ev)
		if err != nil {
			s.writeError(w, err)
			return
		}
		views[i] = v
	}
	writeJSON(w, http.StatusOK, views)
}

// NewEventView renders an event.
func NewEventView(ev ir.Event) (EventView, error) {
	payload, err := ev.Payload()
	if err != nil {
		return EventView{}, fmt.Errorf("event %d: %w", ev.Seq, err)
	}
	return EventView{
		Seq:       ev.Seq,
		Kind:      string(ev.Kind),
		FlowToken: ev.FlowToken,
		Payload:   payload,
	}, nil
}

func (s *Server) delayView(delay time.Duration) DelayView {
	return NewDelayView(delay, s.engine.MaxDelay())
}

// secondsToDuration converts whole seconds, saturating at the Duration
// range so that out-of-range input stays out of range.
func secondsToDuration(secs int64) time.Duration {
	const limit = math.MaxInt64 / int64(time.Second)
	switch {
	case secs > limit:
		return math.MaxInt64
	case secs < -limit:
		return math.MinInt64
	}
	return time.Duration(secs) * time.Second
}

// NewDelayView renders the current and maximum delay in whole seconds.
func NewDelayView(delay, maxDelay time.Duration) DelayView {
	return DelayView{
		DelaySeconds:    int64(delay / time.Second),
		MaxDelaySeconds: int64(maxDelay / time.Second),
	}
}

// NewRequestView renders a request. delay is the current delay, used for
// the eligibility time.
func NewRequestView(req ir.Request, delay time.Duration) RequestView {
	actions := make([]ActionView, len(req.Actions))
	for i, a := range req.Actions {
		actions[i] = ActionView{Target: a.Target, Value: a.Value, Data: ir.EncodeData(a.Data)}
	}
	v := RequestView{
		ID:              req.ID,
		State:           req.State(),
		Actions:         actions,
		AllowFailureMap: req.AllowFailureMap.String(),
		CreatedAt:       req.CreatedAt.UTC().Format(time.RFC3339),
		EligibleAt:      req.EligibleAt(delay).UTC().Format(time.RFC3339),
		FailureMap:      req.FailureMap.String(),
		ActionsHash:     req.ActionsHash,
	}
	if req.Executed {
		v.ExecutedAt = req.ExecutedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// NewOutcomeView renders the outcome of executing request id.
func NewOutcomeView(id uint64, results [][]byte, failureMap ir.Bitmap) OutcomeView {
	encoded := make([]string, len(results))
	for i, res := range results {
		encoded[i] = ir.EncodeData(res)
	}
	return OutcomeView{ID: id, Results: encoded, FailureMap: failureMap.String()}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func requestID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		badRequest(w, "invalid request id")
		return 0, false
	}
	return id, true
}

// pageParams reads ?after= and ?limit=. Missing values mean from the start
// and no limit.
func pageParams(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	q := r.URL.Query()
	after := int64(-1)
	if s := q.Get("after"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			badRequest(w, "invalid after")
			return 0, 0, false
		}
		after = v
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			badRequest(w, "invalid limit")
			return 0, 0, false
		}
		limit = v
	}
	return after, limit, true
}
