package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validInvoice is complete for the einvoice channel; tests knock out one
// field at a time.
func validInvoice() Invoice {
	return Invoice{
		ID:               "inv-1",
		Number:           "INV-1",
		State:            "posted",
		TransmitMethod:   TransmitEInvoice,
		CustomerName:     "Acme Oy",
		CustomerVAT:      "FI12345671",
		CustomerEdicode:  "003712345671",
		CustomerOperator: "003723327487",
		BankAccount:      "FI2112345600000785",
	}
}

func TestValidate_ok(t *testing.T) {
	assert.NoError(t, Validate(validInvoice()))

	printed := validInvoice()
	printed.TransmitMethod = TransmitPrintingService
	printed.CustomerVAT = ""
	printed.CustomerEdicode = ""
	printed.CustomerOperator = ""
	assert.NoError(t, Validate(printed), "printing service needs no einvoice routing data")
}

func TestValidate_rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Invoice)
		want   string
	}{
		{
			name:   "draft state",
			mutate: func(i *Invoice) { i.State = "draft" },
			want:   "You can only send an eInvoice when the invoice is posted, open or paid.",
		},
		{
			name:   "cancelled state",
			mutate: func(i *Invoice) { i.State = "cancel" },
			want:   "You can only send an eInvoice when the invoice is posted, open or paid.",
		},
		{
			name:   "missing vat",
			mutate: func(i *Invoice) { i.CustomerVAT = "" },
			want:   "Please set VAT number for the customer 'Acme Oy' before sending an eInvoice.",
		},
		{
			name:   "missing edicode",
			mutate: func(i *Invoice) { i.CustomerEdicode = "" },
			want:   "Please set edicode for the customer 'Acme Oy' before sending an eInvoice.",
		},
		{
			name:   "missing operator",
			mutate: func(i *Invoice) { i.CustomerOperator = "" },
			want:   "Please set eInvoice operator for the customer 'Acme Oy' before sending an eInvoice.",
		},
		{
			name:   "manual channel",
			mutate: func(i *Invoice) { i.TransmitMethod = "" },
			want:   "This invoice has been marked to be sent manually.",
		},
		{
			name:   "unknown channel",
			mutate: func(i *Invoice) { i.TransmitMethod = "carrier_pigeon" },
			want:   "This invoice has been marked to be sent manually.",
		},
		{
			name:   "missing bank account",
			mutate: func(i *Invoice) { i.BankAccount = "" },
			want:   "Please define a bank account for the invoice.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := validInvoice()
			tc.mutate(&inv)

			err := Validate(inv)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.want, verr.Reason)
		})
	}
}

func TestValidate_stateCheckedFirst(t *testing.T) {
	// an unsendable state wins even when the routing data is also broken
	inv := validInvoice()
	inv.State = "draft"
	inv.CustomerVAT = ""
	inv.BankAccount = ""

	err := Validate(inv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "posted, open or paid")
}

func TestValidate_channelCheckedBeforeBankAccount(t *testing.T) {
	inv := validInvoice()
	inv.TransmitMethod = ""
	inv.BankAccount = ""

	err := Validate(inv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sent manually")
}
