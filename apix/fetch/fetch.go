// Package fetch polls the gateway for inbound documents, downloads the
// eligible ones and hands each to an importer, at most once per document.
package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/finvoice/go-apix-client/apix"
	"github.com/finvoice/go-apix-client/apix/mutex"
	"github.com/finvoice/go-apix-client/apix/payload"
)

var logger = logrus.WithField("component", "apix.fetch")

// Remote storage statuses the eligibility rules know about.
const (
	StatusUnreceived = "UNRECEIVED"
	StatusReceived   = "RECEIVED"
)

// Document describes one remote document from a list response. It lives
// only long enough to schedule a download.
type Document struct {
	StorageID     string
	StorageKey    string
	StorageStatus string
	DocumentID    string
	SenderName    string
}

// Gateway is the slice of the session surface the orchestrator needs.
type Gateway interface {
	ListInvoiceZIPs(ctx context.Context) (*apix.Response, error)
	Download(ctx context.Context, storageID, storageKey string) ([]byte, error)
	BackendID() string
}

// Scheduler dispatches a unit of work. Production backs it with a task
// queue; tests run the function inline. The function must stay idempotent
// and retryable either way.
type Scheduler interface {
	Enqueue(ctx context.Context, description string, fn func(context.Context) error) error
}

// Importer turns a downloaded invoice document into a local record and
// returns its identifier.
type Importer interface {
	Import(ctx context.Context, document []byte) (string, error)
}

// AttachmentStore links ancillary files from a downloaded archive to the
// imported record.
type AttachmentStore interface {
	Create(ctx context.Context, recordID, name string, data []byte) error
}

// Orchestrator drives the inbound flow for one backend.
type Orchestrator struct {
	gateway     Gateway
	scheduler   Scheduler
	importer    Importer
	attachments AttachmentStore

	// locks serializes downloads per storage id, so an overlapping fetch
	// and refetch cannot import the same document twice.
	locks mutex.KeyedRWMutex[string]
}

func NewOrchestrator(gateway Gateway, scheduler Scheduler, importer Importer, attachments AttachmentStore) *Orchestrator {
	return &Orchestrator{
		gateway:     gateway,
		scheduler:   scheduler,
		importer:    importer,
		attachments: attachments,
	}
}

// Eligible decides whether a document with the given storage status should
// be downloaded. UNRECEIVED always is; RECEIVED only when the caller
// explicitly asked to refetch; anything else is skipped.
func Eligible(status string, refetch bool) bool {
	return status == StatusUnreceived || refetch && status == StatusReceived
}

// DocumentsFromResponse extracts the remote document descriptors from a
// list response.
func DocumentsFromResponse(res *apix.Response) []Document {
	docs := make([]Document, 0, len(res.Groups))
	for _, group := range res.Groups {
		docs = append(docs, Document{
			StorageID:     group["StorageID"],
			StorageKey:    group["StorageKey"],
			StorageStatus: group["StorageStatus"],
			DocumentID:    group["DocumentID"],
			SenderName:    group["SenderName"],
		})
	}
	return docs
}

// Fetch lists the remote documents and schedules a download for each
// eligible one. It returns the number of downloads scheduled. The gateway
// offers no list filter, so everything comes back on every poll and the
// eligibility rules do the filtering here.
func (o *Orchestrator) Fetch(ctx context.Context, refetch bool) (int, error) {
	res, err := o.gateway.ListInvoiceZIPs(ctx)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, doc := range DocumentsFromResponse(res) {
		if !Eligible(doc.StorageStatus, refetch) {
			continue
		}

		doc := doc
		desc := fmt.Sprintf("APIX import invoice '%s'", doc.StorageID)
		if err := o.scheduler.Enqueue(ctx, desc, func(ctx context.Context) error {
			return o.DownloadOne(ctx, doc)
		}); err != nil {
			return scheduled, errors.Wrapf(err, "schedule download of %s", doc.StorageID)
		}
		scheduled++
	}

	logger.WithFields(logrus.Fields{
		"backend":   o.gateway.BackendID(),
		"scheduled": scheduled,
		"refetch":   refetch,
	}).Debug("fetch scheduled")

	return scheduled, nil
}

// DownloadOne downloads, unpacks and imports a single document. Failure
// here is fatal for this document only; other documents are unaffected.
func (o *Orchestrator) DownloadOne(ctx context.Context, doc Document) error {
	o.locks.Lock(doc.StorageID)
	defer o.locks.Unlock(doc.StorageID)

	data, err := o.gateway.Download(ctx, doc.StorageID, doc.StorageKey)
	if err != nil {
		return err
	}

	document, files, err := Unpack(data)
	if err != nil {
		return errors.Wrapf(err, "document %s", doc.StorageID)
	}

	recordID, err := o.importer.Import(ctx, document)
	if err != nil {
		return errors.Wrapf(err, "import document %s", doc.StorageID)
	}

	for _, f := range files {
		if err := o.attachments.Create(ctx, recordID, f.Name, f.Data); err != nil {
			return errors.Wrapf(err, "attach %q to %s", f.Name, recordID)
		}
	}

	logger.WithFields(logrus.Fields{
		"storage_id": doc.StorageID,
		"record":     recordID,
		"files":      len(files),
	}).Debug("document imported")

	return nil
}

// Unpack splits a downloaded archive into the primary invoice document and
// the remaining loose files. An archive without the canonical invoice
// entry is a hard failure: nothing is imported and no orphan attachments
// are created.
func Unpack(data []byte) ([]byte, []payload.Attachment, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, errors.Wrap(err, "open downloaded archive")
	}

	var document []byte
	var files []payload.Attachment

	for _, entry := range zr.File {
		rc, err := entry.Open()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open entry %q", entry.Name)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "read entry %q", entry.Name)
		}

		if entry.Name == payload.InvoiceDocumentName {
			document = content
		} else {
			files = append(files, payload.Attachment{Name: entry.Name, Data: content})
		}
	}

	if document == nil {
		return nil, nil, apix.ErrNoPrimaryDocument
	}
	return document, files, nil
}

// FetchAll polls every given orchestrator, typically from a cron entry
// covering all configured backends. A failing backend is logged and does
// not stop the others; the first error is returned once all have run.
func FetchAll(ctx context.Context, refetch bool, orchestrators ...*Orchestrator) error {
	var firstErr error
	for _, o := range orchestrators {
		if _, err := o.Fetch(ctx, refetch); err != nil {
			logger.WithField("backend", o.gateway.BackendID()).Warnf("fetch failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
