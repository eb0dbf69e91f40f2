package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aluiziolira/awtomato/messages"
	"github.com/aluiziolira/awtomato/models"
)

// ErrUnexpectedAction is returned for actions the page side only sends.
var ErrUnexpectedAction = errors.New("inspector: action is not a request")

// Dispatch handles one request envelope and returns the reply. Failures
// come back as Error envelopes. Edits to selections and attachments reply
// with the refreshed current page.
func (i *Inspector) Dispatch(ctx context.Context, env messages.Envelope) messages.Envelope {
	reply, err := i.dispatch(ctx, env)
	if err != nil {
		i.metrics.IncMessage(string(env.Action), "error")
		slog.Warn("message failed", slog.String("action", string(env.Action)), slog.Any("error", err))
		return messages.Fail(env.Action, err)
	}
	i.metrics.IncMessage(string(env.Action), "ok")
	return reply
}

func (i *Inspector) dispatch(ctx context.Context, env messages.Envelope) (messages.Envelope, error) {
	body, err := env.Body()
	if err != nil {
		return messages.Envelope{}, err
	}

	switch p := body.(type) {
	case *models.PickRequest:
		res, err := i.Pick(*p)
		if err != nil {
			return messages.Envelope{}, err
		}
		return messages.New(messages.PickedElements, res)

	case *messages.Query:
		els, err := i.QueryElements(p.Selector, p.Extractor)
		if err != nil {
			return messages.Envelope{}, err
		}
		return messages.New(messages.JustElements, messages.Descriptors(els))

	case *messages.Lookup:
		d, err := i.SetLookup(*p)
		if err != nil {
			return messages.Envelope{}, err
		}
		return messages.New(messages.ActiveElement, messages.Element{Element: d})

	case *messages.Inspect:
		d, err := i.ScopedInspect(*p)
		if err != nil {
			return messages.Envelope{}, err
		}
		return messages.New(messages.ActiveElement, messages.Element{Element: d})

	case *messages.Point:
		return messages.New(messages.ActiveElement, messages.Element{Element: i.ElementAt(p.X, p.Y)})

	case *messages.Analyse:
		r, err := i.Analyse(p.ElementID)
		if err != nil {
			return messages.Envelope{}, err
		}
		return messages.New(messages.AnalysisReport, r)
	}

	if env.Action == messages.GetCurrentPage {
		return i.currentPage(ctx)
	}
	if err := i.edit(ctx, env.Action, body); err != nil {
		return messages.Envelope{}, err
	}
	return i.currentPage(ctx)
}

func (i *Inspector) currentPage(ctx context.Context) (messages.Envelope, error) {
	pm, err := i.CurrentPage(ctx)
	if err != nil {
		return messages.Envelope{}, err
	}
	return messages.New(messages.CurrentPage, pm)
}

// edit applies a selection or attachment change to the store.
func (i *Inspector) edit(ctx context.Context, action messages.Kind, body any) error {
	if i.store == nil {
		return ErrNoStore
	}
	var err error
	switch action {
	case messages.CreateSelection:
		p := body.(*messages.NewSelection)
		err = i.store.CreateSelection(ctx, &models.Selection{
			ID:     p.SelectionID,
			Name:   p.Name,
			PageID: p.PageID,
			Config: models.SelectionConfig{CSSSelector: p.CSSSelector},
		})
	case messages.UpdateSelection:
		p := body.(*messages.SelectionEdit)
		_, err = i.store.UpdateSelection(ctx, p.SelectionID, p.Name, p.CSSSelector)
	case messages.RemoveSelection:
		err = i.store.RemoveSelection(ctx, body.(*messages.SelectionRef).SelectionID)
	case messages.CreateAttachment:
		p := body.(*messages.AttachmentEdit)
		_, err = i.store.CreateAttachment(ctx, p.SelectionID, attachment(p))
	case messages.UpdateAttachment:
		p := body.(*messages.AttachmentEdit)
		_, err = i.store.UpdateAttachment(ctx, p.SelectionID, attachment(p))
	case messages.RemoveAttachment:
		p := body.(*messages.AttachmentRef)
		_, err = i.store.RemoveAttachment(ctx, p.SelectionID, p.AttachmentID)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedAction, action)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

func attachment(p *messages.AttachmentEdit) *models.Attachment {
	return &models.Attachment{
		ID:           p.AttachmentID,
		Name:         p.Name,
		CSSSelector:  p.CSSSelector,
		ParentOffset: p.ParentOffset,
	}
}

// Serve reads newline-delimited request envelopes from r and writes one
// reply per request to w. It announces the page with PageReady first and
// returns when r is exhausted or ctx is done.
func (i *Inspector) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)

	ready, err := messages.New(messages.PageReady, messages.Ready{Ready: true})
	if err != nil {
		return err
	}
	if err := enc.Encode(ready); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var env messages.Envelope
		err := dec.Decode(&env)
		if errors.Is(err, io.EOF) {
			return nil
		}
		var reply messages.Envelope
		switch {
		case errors.Is(err, messages.ErrUnknownAction):
			reply = messages.Fail(env.Action, err)
		case err != nil:
			return fmt.Errorf("read envelope: %w", err)
		default:
			reply = i.Dispatch(ctx, env)
		}
		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}
