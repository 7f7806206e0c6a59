package host

import (
	"context"
	"errors"
	"io"

	"github.com/entrhq/kbhost/pkg/logging"
	"github.com/entrhq/kbhost/pkg/nativemsg"
)

// ServeOne reads one framed request from r, handles it and writes one framed
// response to w. w is closed afterwards when it is an io.Closer. Empty input
// means the browser went away; nothing is written.
func (d *Dispatcher) ServeOne(ctx context.Context, r io.Reader, w io.Writer) error {
	return d.serve(ctx, r, w, func(req *Request) *Response {
		return d.Handle(ctx, req)
	})
}

// ServeFailure answers one framed request with a failure carrying code and
// cause, whatever the request asked for. It keeps the one-request, one-reply
// contract when the host cannot run normally.
func (d *Dispatcher) ServeFailure(ctx context.Context, r io.Reader, w io.Writer, code Code, cause error) error {
	return d.serve(ctx, r, w, func(req *Request) *Response {
		logging.From(ctx).Warn("refusing request", "action", string(req.Action), "code", string(code))
		return &Response{Error: cause.Error(), Code: code}
	})
}

func (d *Dispatcher) serve(ctx context.Context, r io.Reader, w io.Writer, handle func(*Request) *Response) error {
	logger := logging.From(ctx)
	defer func() {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close output", "error", err)
			}
		}
	}()

	var req Request
	err := nativemsg.ReadMessage(r, &req, d.opts.MaxRequestSize)
	if errors.Is(err, nativemsg.ErrNoMessage) {
		logger.Debug("no message on input")
		return nil
	}

	var resp *Response
	if err != nil {
		logger.Warn("rejected incoming frame", logging.ErrAttr(err))
		resp = failure(err)
	} else {
		resp = handle(&req)
	}
	return d.reply(ctx, w, resp)
}

// reply writes resp, replacing it with an OversizeFrame failure when it is
// larger than the browser accepts.
func (d *Dispatcher) reply(ctx context.Context, w io.Writer, resp *Response) error {
	err := nativemsg.WriteMessage(w, resp, d.opts.MaxResponseSize)
	if !errors.Is(err, nativemsg.ErrOversizeFrame) {
		return err
	}
	logging.From(ctx).Error("response too large for the browser", logging.ErrAttr(err))
	return nativemsg.WriteMessage(w, failure(err), d.opts.MaxResponseSize)
}
