package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"

	"github.com/finvoice/go-apix-client/apix/payload"
)

// DirImporter implements Importer and AttachmentStore on a plain
// directory: each imported document gets its own subdirectory holding the
// invoice document and its attachments. Useful for the demo binary and as
// a drop target when no ERP importer is wired in.
type DirImporter struct {
	root string
	now  func() time.Time
}

func NewDirImporter(root string) *DirImporter {
	return &DirImporter{root: root, now: time.Now}
}

func (d *DirImporter) Import(_ context.Context, document []byte) (string, error) {
	recordID := fmt.Sprintf("apix-%s", d.now().Format("20060102-150405.000000000"))
	dir := filepath.Join(d.root, recordID)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create import dir")
	}
	if err := os.WriteFile(filepath.Join(dir, payload.InvoiceDocumentName), document, 0o644); err != nil {
		return "", errors.Wrap(err, "write invoice document")
	}
	return recordID, nil
}

func (d *DirImporter) Create(_ context.Context, recordID, name string, data []byte) error {
	// flatten entry names, archives from the gateway are not trusted paths
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "attachment"
	}
	return os.WriteFile(filepath.Join(d.root, recordID, name), data, 0o644)
}
