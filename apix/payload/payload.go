// Package payload assembles the outbound APIX archive: the Finvoice XML
// document, an optional PDF rendition and an optional nested archive of
// supplementary files.
package payload

import (
	"archive/zip"
	"bytes"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "apix.payload")

// Canonical entry names inside the outbound archive. The receiving system
// keys on these, they are not configurable.
const (
	InvoiceDocumentName   = "invoice.xml"
	RenditionName         = "invoice.pdf"
	AttachmentArchiveName = "attachment.zip"
)

// Markers declared to the receiving system through the paired
// InvoiceUrlNameText/InvoiceUrlText element lists.
const (
	markerRendition     = "APIX_PDFFILE"
	markerAttachment    = "APIX_ATTACHMENT"
	markerRenditionURL  = "file://" + RenditionName
	markerAttachmentURL = "file://" + AttachmentArchiveName
)

// Attachment is one supplementary file destined for the nested archive.
type Attachment struct {
	Name     string
	Data     []byte
	MimeType string
}

// Options controls what goes into the archive besides the invoice
// document.
type Options struct {
	// IncludeRendition adds the PDF rendition entry and the URL markers
	// announcing it.
	IncludeRendition bool

	// ForwardAttachments bundles supplementary files into a nested
	// archive. Off by default: operator support for forwarded
	// attachments is not universally confirmed.
	ForwardAttachments bool
}

// Enrichment is one transformation applied to the invoice document before
// it is archived. Steps run in the order given; each states its own
// contract instead of relying on override chains.
type Enrichment func(root *etree.Element) error

// WithIntermediator marks the message as routed through the named
// intermediator in MessageSenderDetails.
func WithIntermediator(name string) Enrichment {
	return func(root *etree.Element) error {
		details := findOrCreate(root, "MessageTransmissionDetails", "MessageSenderDetails")
		setChildText(details, "FromIntermediator", name)
		return nil
	}
}

// WithPrintingServiceReceiver overrides the receiver identifier so the
// operator routes the invoice to its printing service.
func WithPrintingServiceReceiver() Enrichment {
	return func(root *etree.Element) error {
		details := findOrCreate(root, "MessageTransmissionDetails", "MessageReceiverDetails")
		setChildText(details, "ToIdentifier", "TULOSTUS")
		return nil
	}
}

// WithSpecificationIdentifier inserts a SpecificationIdentifier element
// right after MessageTimeStamp, declaring conformance to the named
// standard (EN16931 for european-standard invoices).
func WithSpecificationIdentifier(id string) Enrichment {
	return func(root *etree.Element) error {
		ts := root.FindElement(".//MessageTimeStamp")
		if ts == nil {
			return errors.New("invoice document has no MessageTimeStamp")
		}
		parent := ts.Parent()
		spec := etree.NewElement("SpecificationIdentifier")
		spec.SetText(id)
		parent.InsertChildAt(ts.Index()+1, spec)
		return nil
	}
}

// withURLMarkers appends the paired marker lists: one name and one URL per
// declared file, names first, in matching order. The rendition marker is
// always present on augmented documents; the attachment marker only when
// the nested archive is actually in the payload.
func withURLMarkers(hasAttachments bool) Enrichment {
	return func(root *etree.Element) error {
		addTextElement(root, "InvoiceUrlNameText", markerRendition)
		if hasAttachments {
			addTextElement(root, "InvoiceUrlNameText", markerAttachment)
		}
		addTextElement(root, "InvoiceUrlText", markerRenditionURL)
		if hasAttachments {
			addTextElement(root, "InvoiceUrlText", markerAttachmentURL)
		}
		return nil
	}
}

// Builder assembles outbound payloads for one backend configuration.
type Builder struct {
	opts   Options
	enrich []Enrichment
}

func NewBuilder(opts Options, enrich ...Enrichment) *Builder {
	return &Builder{opts: opts, enrich: enrich}
}

// Build produces the payload archive. The invoice document is always
// present under its canonical name; the rendition and the nested
// attachment archive appear only when enabled and available.
func (b *Builder) Build(invoiceXML, rendition []byte, attachments []Attachment) ([]byte, error) {
	if len(invoiceXML) == 0 {
		return nil, errors.New("invoice document is empty")
	}

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)

	forward := b.opts.ForwardAttachments && len(attachments) > 0

	if forward {
		nested, err := buildAttachmentArchive(attachments)
		if err != nil {
			return nil, err
		}
		if err := writeEntry(zw, AttachmentArchiveName, nested); err != nil {
			return nil, err
		}
	}

	doc := invoiceXML
	if b.opts.IncludeRendition {
		steps := append(append([]Enrichment{}, b.enrich...), withURLMarkers(forward))
		augmented, err := Augment(invoiceXML, steps...)
		if err != nil {
			return nil, err
		}
		doc = augmented

		if len(rendition) > 0 {
			if err := writeEntry(zw, RenditionName, rendition); err != nil {
				return nil, err
			}
		}
	} else if len(b.enrich) > 0 {
		augmented, err := Augment(invoiceXML, b.enrich...)
		if err != nil {
			return nil, err
		}
		doc = augmented
	}

	if err := writeEntry(zw, InvoiceDocumentName, doc); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close payload archive")
	}

	logger.WithFields(logrus.Fields{
		"size":        archive.Len(),
		"attachments": len(attachments),
		"forwarded":   forward,
	}).Debug("payload assembled")

	return archive.Bytes(), nil
}

// Augment parses the invoice document, applies the enrichment steps in
// order and serializes the result.
func Augment(invoiceXML []byte, steps ...Enrichment) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(invoiceXML); err != nil {
		return nil, errors.Wrap(err, "parse invoice document")
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("invoice document has no root element")
	}

	for _, step := range steps {
		if err := step(root); err != nil {
			return nil, err
		}
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, errors.Wrap(err, "serialize invoice document")
	}
	return out, nil
}

func buildAttachmentArchive(attachments []Attachment) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i, a := range attachments {
		name := a.Name
		if name == "" {
			name = "attachment"
		}
		if err := writeEntry(zw, name, a.Data); err != nil {
			return nil, errors.Wrapf(err, "attachment %d", i)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close attachment archive")
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "create zip entry %q", name)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "write zip entry %q", name)
	}
	return nil
}

func findOrCreate(parent *etree.Element, path ...string) *etree.Element {
	current := parent
	for _, tag := range path {
		next := current.SelectElement(tag)
		if next == nil {
			next = current.CreateElement(tag)
		}
		current = next
	}
	return current
}

func setChildText(parent *etree.Element, tag, text string) {
	child := parent.SelectElement(tag)
	if child == nil {
		child = parent.CreateElement(tag)
	}
	child.SetText(text)
}

func addTextElement(parent *etree.Element, tag, text string) {
	el := parent.CreateElement(tag)
	el.SetText(text)
}
