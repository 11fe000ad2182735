// Package export transmits local invoices to the APIX gateway: it gates,
// assembles, sends and records each transmission in the binding ledger.
package export

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/finvoice/go-apix-client/apix"
	"github.com/finvoice/go-apix-client/apix/binding"
	"github.com/finvoice/go-apix-client/apix/payload"
)

var logger = logrus.WithField("component", "apix.export")

// Gateway is the slice of the session surface the exporter needs.
type Gateway interface {
	SendInvoiceZIP(ctx context.Context, payload []byte) (*apix.Response, error)
	BackendID() string
}

// Renderer produces the PDF rendition of an invoice; implemented by the
// ERP's report engine.
type Renderer interface {
	Render(ctx context.Context, invoiceID string) ([]byte, error)
}

// AttachmentSource lists the supplementary files stored for an invoice.
type AttachmentSource interface {
	List(ctx context.Context, invoiceID string) ([]payload.Attachment, error)
}

// BindingStore records completed transmissions.
type BindingStore interface {
	Create(ctx context.Context, b *binding.Binding) error
	Get(ctx context.Context, backendID, documentID string) (*binding.Binding, error)
}

// Exporter drives the outbound flow for one backend.
type Exporter struct {
	gateway     Gateway
	renderer    Renderer
	attachments AttachmentSource
	bindings    BindingStore
	opts        payload.Options
}

func NewExporter(gateway Gateway, renderer Renderer, attachments AttachmentSource, bindings BindingStore, opts payload.Options) *Exporter {
	return &Exporter{
		gateway:     gateway,
		renderer:    renderer,
		attachments: attachments,
		bindings:    bindings,
		opts:        opts,
	}
}

// Send validates, assembles and transmits one invoice, then records the
// binding. A document that already has a binding for this backend returns
// apix.ErrAlreadySent without touching the gateway again. The gateway side
// is at-least-once; the ledger's unique constraint keeps the local record
// at most-once either way.
func (e *Exporter) Send(ctx context.Context, inv Invoice) (*binding.Binding, error) {
	if err := Validate(inv); err != nil {
		return nil, err
	}

	backendID := e.gateway.BackendID()

	existing, err := e.bindings.Get(ctx, backendID, inv.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.WithFields(logrus.Fields{"invoice": inv.Number, "backend": backendID}).
			Info("invoice already sent, skipping")
		return existing, apix.ErrAlreadySent
	}

	logger.WithFields(logrus.Fields{"invoice": inv.Number, "method": inv.TransmitMethod}).
		Debug("sending invoice")

	zipped, err := e.buildPayload(ctx, inv)
	if err != nil {
		return nil, err
	}

	res, err := e.gateway.SendInvoiceZIP(ctx, zipped)
	if err != nil {
		return nil, err
	}

	b := bindingFromResponse(res, backendID, inv.ID)
	if err := e.bindings.Create(ctx, b); err != nil {
		if errors.Is(err, apix.ErrAlreadySent) {
			// A concurrent retry won the race to the ledger. The gateway
			// accepted both, the ledger keeps one.
			logger.WithField("invoice", inv.Number).Warn("binding already recorded")
			return nil, apix.ErrAlreadySent
		}
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"invoice":  inv.Number,
		"batch":    b.BatchID,
		"accepted": b.AcceptedDocumentID,
	}).Debug("invoice sent")

	return b, nil
}

// buildPayload renders the rendition when enabled, collects attachments
// when forwarding is on, and assembles the archive with the enrichment
// steps this invoice calls for.
func (e *Exporter) buildPayload(ctx context.Context, inv Invoice) ([]byte, error) {
	var rendition []byte
	if e.opts.IncludeRendition && e.renderer != nil {
		var err error
		rendition, err = e.renderer.Render(ctx, inv.ID)
		if err != nil {
			return nil, errors.Wrap(err, "render invoice")
		}
	}

	var attachments []payload.Attachment
	if e.opts.ForwardAttachments && e.attachments != nil {
		var err error
		attachments, err = e.attachments.List(ctx, inv.ID)
		if err != nil {
			return nil, errors.Wrap(err, "list attachments")
		}
	}

	enrich := []payload.Enrichment{payload.WithIntermediator("APIX")}
	if inv.TransmitMethod == TransmitPrintingService {
		enrich = append(enrich, payload.WithPrintingServiceReceiver())
	}
	if inv.EuropeanStandard {
		enrich = append(enrich, payload.WithSpecificationIdentifier("EN16931"))
	}

	return payload.NewBuilder(e.opts, enrich...).Build(inv.Document, rendition, attachments)
}

func bindingFromResponse(res *apix.Response, backendID, documentID string) *binding.Binding {
	b := &binding.Binding{
		BackendID:  backendID,
		DocumentID: documentID,
	}

	if v, ok := res.Value("BatchID"); ok {
		b.BatchID = v
	}
	if v, ok := res.Value("AcceptedDocumentID"); ok {
		b.AcceptedDocumentID = v
	}
	if v, ok := res.Value("CostInCredits"); ok {
		if cost, err := decimal.NewFromString(v); err == nil {
			b.CostInCredits = cost
		} else {
			logger.WithField("value", v).Warn("unparseable CostInCredits in response")
		}
	}

	return b
}
