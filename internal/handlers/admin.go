package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"bleq/internal/connection"
	"bleq/internal/errors"
	"bleq/internal/models"
	"bleq/internal/outcome"
	"bleq/internal/session"
	"bleq/internal/taskmanager"
)

// Session is the part of *session.Session the admin API drives.
type Session interface {
	Connect(ctx context.Context, peer string, profile connection.Profile, hook connection.Hook) error
	Disconnect(ctx context.Context, peer string, done func(outcome.Outcome)) error
	Read(ctx context.Context, peer, characteristic string, done func(outcome.Outcome), opts ...taskmanager.TaskOption) error
	Write(ctx context.Context, peer, characteristic string, data []byte, done func(outcome.Outcome), opts ...taskmanager.TaskOption) error
	Scan(ctx context.Context, duration time.Duration, done func(outcome.Outcome)) error
	ClearQueueOf(ctx context.Context, kind string, owner models.Owner) (int, error)
	Snapshot(ctx context.Context) (taskmanager.Snapshot, error)
	Peers(ctx context.Context) ([]models.PeerStatus, error)
	SetSuspended(ctx context.Context, suspended bool) error
}

// ProfileSource supplies the initialization profile for a peer.
type ProfileSource interface {
	Profile() connection.Profile
}

// AdminHandler ...
type AdminHandler interface {
	Queue(ctx *fasthttp.RequestCtx)
	ClearQueue(ctx *fasthttp.RequestCtx)
	Suspend(ctx *fasthttp.RequestCtx)
	Peers(ctx *fasthttp.RequestCtx)
	Connect(ctx *fasthttp.RequestCtx)
	Disconnect(ctx *fasthttp.RequestCtx)
	Read(ctx *fasthttp.RequestCtx)
	Write(ctx *fasthttp.RequestCtx)
	Scan(ctx *fasthttp.RequestCtx)
}

type adminHandler struct {
	session        Session
	profiles       ProfileSource
	requestTimeout time.Duration
}

// OutcomeResponse is the JSON form of a task outcome.
type OutcomeResponse struct {
	Kind    string           `json:"kind"`
	State   models.TaskState `json:"state"`
	Error   string           `json:"error,omitempty"`
	Payload []byte           `json:"payload,omitempty"`
}

// ConnectResponse ...
type ConnectResponse struct {
	Peer    string           `json:"peer"`
	Stage   string           `json:"stage"`
	Error   string           `json:"error,omitempty"`
	History []models.Failure `json:"history,omitempty"`
}

// ClearResponse ...
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newOutcomeResponse(o outcome.Outcome) OutcomeResponse {
	resp := OutcomeResponse{Kind: o.Kind().String(), State: outcome.State(o)}
	if err := o.Err(); err != nil {
		resp.Error = err.Error()
	}
	if s, ok := o.(outcome.Success); ok {
		resp.Payload = s.Payload
	}
	return resp
}

// Queue ...
func (h *adminHandler) Queue(ctx *fasthttp.RequestCtx) {
	snap, err := h.session.Snapshot(ctx)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.writeJSON(ctx, http.StatusOK, snap)
}

// ClearQueue ...
func (h *adminHandler) ClearQueue(ctx *fasthttp.RequestCtx) {
	owner, err := models.ParseOwner(pathParam(ctx, "owner"))
	if err != nil {
		h.writeError(ctx, errors.InvalidArgument("%v", err))
		return
	}
	n, err := h.session.ClearQueueOf(ctx, pathParam(ctx, "kind"), owner)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.writeJSON(ctx, http.StatusOK, ClearResponse{Cleared: n})
}

// Suspend sets dispatch on or off from the "suspended" query argument.
func (h *adminHandler) Suspend(ctx *fasthttp.RequestCtx) {
	suspended, err := strconv.ParseBool(string(ctx.QueryArgs().Peek("suspended")))
	if err != nil {
		h.writeError(ctx, errors.InvalidArgument("suspended must be a boolean"))
		return
	}
	if err = h.session.SetSuspended(ctx, suspended); err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(http.StatusNoContent)
}

// Peers ...
func (h *adminHandler) Peers(ctx *fasthttp.RequestCtx) {
	peers, err := h.session.Peers(ctx)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.writeJSON(ctx, http.StatusOK, peers)
}

// Connect blocks until the peer is READY or the attempt fails.
func (h *adminHandler) Connect(ctx *fasthttp.RequestCtx) {
	peer := pathParam(ctx, "peer")
	waitCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	res, err := session.Wait(waitCtx, func(done func(connection.Result)) error {
		return h.session.Connect(waitCtx, peer, h.profiles.Profile(), done)
	})
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	resp := ConnectResponse{Peer: res.Peer, Stage: res.Stage.String(), History: res.History}
	status := http.StatusOK
	if res.Err != nil {
		resp.Error = res.Err.Error()
		status = http.StatusBadGateway
	}
	h.writeJSON(ctx, status, resp)
}

// Disconnect ...
func (h *adminHandler) Disconnect(ctx *fasthttp.RequestCtx) {
	peer := pathParam(ctx, "peer")
	h.waitOutcome(ctx, func(waitCtx context.Context, done func(outcome.Outcome)) error {
		return h.session.Disconnect(waitCtx, peer, done)
	})
}

// Read ...
func (h *adminHandler) Read(ctx *fasthttp.RequestCtx) {
	peer, char := pathParam(ctx, "peer"), pathParam(ctx, "char")
	opts, err := taskOptions(ctx)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.waitOutcome(ctx, func(waitCtx context.Context, done func(outcome.Outcome)) error {
		return h.session.Read(waitCtx, peer, char, done, opts...)
	})
}

// Write sends the raw request body to the characteristic.
func (h *adminHandler) Write(ctx *fasthttp.RequestCtx) {
	peer, char := pathParam(ctx, "peer"), pathParam(ctx, "char")
	data := append([]byte(nil), ctx.PostBody()...)
	opts, err := taskOptions(ctx)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.waitOutcome(ctx, func(waitCtx context.Context, done func(outcome.Outcome)) error {
		return h.session.Write(waitCtx, peer, char, data, done, opts...)
	})
}

// Scan runs a scan for the "duration" query argument.
func (h *adminHandler) Scan(ctx *fasthttp.RequestCtx) {
	duration, err := time.ParseDuration(string(ctx.QueryArgs().Peek("duration")))
	if err != nil {
		h.writeError(ctx, errors.InvalidArgument("duration: %v", err))
		return
	}
	h.waitOutcome(ctx, func(waitCtx context.Context, done func(outcome.Outcome)) error {
		return h.session.Scan(waitCtx, duration, done)
	})
}

func (h *adminHandler) waitOutcome(ctx *fasthttp.RequestCtx, start func(context.Context, func(outcome.Outcome)) error) {
	waitCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	o, err := session.Wait(waitCtx, func(done func(outcome.Outcome)) error {
		return start(waitCtx, done)
	})
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	status := http.StatusOK
	if o.Kind() != outcome.KindSuccess {
		status = http.StatusBadGateway
	}
	h.writeJSON(ctx, status, newOutcomeResponse(o))
}

// taskOptions reads the optional "priority" and "timeout" query arguments.
func taskOptions(ctx *fasthttp.RequestCtx) ([]taskmanager.TaskOption, error) {
	var opts []taskmanager.TaskOption
	args := ctx.QueryArgs()
	if raw := args.Peek("priority"); len(raw) > 0 {
		p, err := models.ParsePriority(string(raw))
		if err != nil {
			return nil, errors.InvalidArgument("%v", err)
		}
		opts = append(opts, taskmanager.WithPriority(p))
	}
	if raw := args.Peek("timeout"); len(raw) > 0 {
		d, err := time.ParseDuration(string(raw))
		if err != nil {
			return nil, errors.InvalidArgument("timeout: %v", err)
		}
		opts = append(opts, taskmanager.WithTimeout(d))
	}
	if args.GetBool("urgent") {
		opts = append(opts, taskmanager.Urgent())
	}
	return opts, nil
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func (h *adminHandler) writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	if err := json.NewEncoder(ctx).Encode(body); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func (h *adminHandler) writeError(ctx *fasthttp.RequestCtx, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	log.WithFields(log.Fields{
		"path":   string(ctx.Path()),
		"status": status,
	}).WithError(err).Warn("Admin request failed")
	h.writeJSON(ctx, status, errorResponse{Error: err.Error()})
}

// NewAdminHandler ...
func NewAdminHandler(s Session, profiles ProfileSource, requestTimeout time.Duration) AdminHandler {
	return &adminHandler{
		session:        s,
		profiles:       profiles,
		requestTimeout: requestTimeout,
	}
}
