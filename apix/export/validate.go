package export

import "fmt"

// TransmitMethod is the delivery channel chosen for an invoice.
type TransmitMethod string

const (
	TransmitEInvoice        TransmitMethod = "einvoice"
	TransmitPrintingService TransmitMethod = "printing_service"
)

// Invoice carries the local document data the exporter needs. It is a
// plain snapshot handed over by the ERP, not a live record.
type Invoice struct {
	ID     string
	Number string

	// State is the local accounting state (posted, open, paid, ...).
	State string

	TransmitMethod TransmitMethod

	CustomerName     string
	CustomerVAT      string
	CustomerEdicode  string
	CustomerOperator string

	BankAccount string

	// EuropeanStandard marks EN16931-conformant invoices.
	EuropeanStandard bool

	// Document is the rendered Finvoice XML.
	Document []byte
}

// sendableStates are the local states an invoice may be transmitted from.
// paid is included for resending when the original never reached the
// receiver.
var sendableStates = map[string]bool{
	"posted": true,
	"open":   true,
	"paid":   true,
}

// ValidationError is a deterministic, user-actionable rejection from the
// pre-send gate. It is never retried; the underlying data has to change
// first.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func rejectf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate runs the eligibility checks that gate every send attempt. The
// check order is fixed and the first failure wins: it decides the single
// message the user sees.
func Validate(inv Invoice) error {
	if !sendableStates[inv.State] {
		return rejectf("You can only send an eInvoice when the invoice is posted, open or paid.")
	}

	if inv.TransmitMethod == TransmitEInvoice {
		if inv.CustomerVAT == "" {
			return rejectf("Please set VAT number for the customer '%s' before sending an eInvoice.", inv.CustomerName)
		}
		if inv.CustomerEdicode == "" {
			return rejectf("Please set edicode for the customer '%s' before sending an eInvoice.", inv.CustomerName)
		}
		if inv.CustomerOperator == "" {
			return rejectf("Please set eInvoice operator for the customer '%s' before sending an eInvoice.", inv.CustomerName)
		}
	} else if inv.TransmitMethod != TransmitPrintingService {
		return rejectf("This invoice has been marked to be sent manually.")
	}

	if inv.BankAccount == "" {
		return rejectf("Please define a bank account for the invoice.")
	}

	return nil
}
