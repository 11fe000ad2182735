package apix

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/finvoice/go-apix-client/apix/util"
)

var logger = logrus.WithField("component", "apix")

const defaultTimeout = 30 * time.Second

// Config is one APIX backend account. A company has exactly one.
type Config struct {
	Environment Environment

	// Username is the APIX account username (email).
	Username string

	// Password is the APIX account password, hashed before it goes
	// anywhere near the wire.
	Password string

	// BusinessID is the plain business id (y-tunnus, orgnr, ...).
	BusinessID string

	// Prefix is an optional business-id prefix APIX assigns to virtual
	// operators.
	Prefix string

	// IDQualifier qualifies BusinessID. Defaults to "y-tunnus".
	IDQualifier string

	// SupportEmail, when set, replaces the gateway's default support
	// address in error messages shown to users.
	SupportEmail string
}

// FullBusinessID is the business id as sent to the gateway, with the
// optional operator prefix applied.
func (c Config) FullBusinessID() string {
	return c.Prefix + c.BusinessID
}

func (c Config) validate() error {
	if c.Username == "" {
		return &ConfigError{Field: "username"}
	}
	if c.Password == "" {
		return &ConfigError{Field: "password"}
	}
	if c.BusinessID == "" {
		return &ConfigError{Field: "business id"}
	}
	return nil
}

// Credentials is the transfer triple issued by RetrieveTransferID and
// reused by every signed call.
type Credentials struct {
	TransferID  string
	TransferKey string
	CompanyUUID string
}

// CustomerInfo is the account information returned by AuthenticateByUser.
type CustomerInfo struct {
	CustomerID     string
	CustomerNumber string
	ContactPerson  string
	ContactEmail   string
	OwnerID        string
}

// Client performs the raw gateway operations. It is stateless with regard
// to credentials; Session layers the cached triple on top.
type Client struct {
	rest *resty.Client
	cfg  Config
	now  func() time.Time
	url  func(command string, params Params) string
}

// NewClient creates a gateway client. When httpClient is nil a client with
// a 30 second timeout is used; the gateway itself defines none, so the
// timeout is this side's only protection against a hung call.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.IDQualifier == "" {
		cfg.IDQualifier = "y-tunnus"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		rest: resty.NewWithClient(httpClient),
		cfg:  cfg,
		now:  time.Now,
		url:  cfg.Environment.URL,
	}, nil
}

// RetrieveTransferID exchanges the account credentials for the transfer
// triple. The password hash goes in as the d parameter and is then
// replaced, in place, by the digest over the full ordered set.
func (c *Client) RetrieveTransferID(ctx context.Context) (Credentials, error) {
	logger.Debug("APIX RetrieveTransferID")

	params := Params{}.
		Add("id", c.cfg.FullBusinessID()).
		Add("idq", c.cfg.IDQualifier).
		Add("uid", c.cfg.Username).
		Add("ts", Timestamp(c.now())).
		Add("d", PasswordHash(c.cfg.Password))
	params = params.Set("d", Digest(params))

	res, err := c.get(ctx, c.url("app-transferID", params))
	if err != nil {
		return Credentials{}, err
	}
	if err := res.Err(c.cfg.SupportEmail); err != nil {
		return Credentials{}, err
	}

	values := res.First()
	return Credentials{
		TransferID:  values["TransferID"],
		TransferKey: values["TransferKey"],
		CompanyUUID: values["UniqueCompanyID"],
	}, nil
}

// AuthenticateByUser verifies the account and returns customer details.
// The pass parameter is appended after the digest is computed: the
// plaintext password is not a digest input for this command.
func (c *Client) AuthenticateByUser(ctx context.Context) (CustomerInfo, error) {
	logger.Debug("APIX AuthenticateByUser")

	params := Params{}.
		Add("uid", c.cfg.Username).
		Add("t", Timestamp(c.now())).
		Add("d", PasswordHash(c.cfg.Password))
	params = params.Set("d", Digest(params))
	params = params.Add("pass", c.cfg.Password)

	res, err := c.get(ctx, c.url("authuser", params))
	if err != nil {
		return CustomerInfo{}, err
	}
	if err := res.Err(c.cfg.SupportEmail); err != nil {
		return CustomerInfo{}, err
	}

	// authuser answers with either a single group or a one-element list;
	// Response.First covers both.
	values := res.First()
	return CustomerInfo{
		CustomerID:     values["IdCustomer"],
		CustomerNumber: values["CustomerNumber"],
		ContactPerson:  values["ContactPerson"],
		ContactEmail:   values["Email"],
		OwnerID:        values["OwnerId"],
	}, nil
}

// SendInvoiceZIP uploads an outbound payload archive with HTTP PUT and
// validates the response. The returned response carries BatchID,
// AcceptedDocumentID and CostInCredits values on success.
func (c *Client) SendInvoiceZIP(ctx context.Context, creds Credentials, payload []byte) (*Response, error) {
	logger.Debug("APIX SendInvoiceZIP")

	params := c.defaultParams(creds, paramOptions{soft: true, ver: true})
	url := c.url("invoices", params)

	r := c.rest.R().SetContext(ctx).SetBody(payload)
	if util.HttpTraceEnabled() {
		r.EnableTrace()
	}

	resp, err := r.Put(url)
	if err := checkTransport(resp, err); err != nil {
		return nil, err
	}

	res, err := ParseResponse(resp.Body())
	if err != nil {
		return nil, &RequestError{StatusCode: resp.StatusCode(), Err: err, Body: resp.String()}
	}
	if err := res.SendErr(c.cfg.SupportEmail); err != nil {
		logger.Warnf("send rejected: %v", err)
		return nil, err
	}
	return res, nil
}

// ListInvoiceZIPs fetches the list of documents waiting at the gateway.
// There are no filter options; the gateway always returns everything.
func (c *Client) ListInvoiceZIPs(ctx context.Context, creds Credentials) (*Response, error) {
	logger.Debug("APIX ListInvoiceZIPs")

	params := c.defaultParams(creds, paramOptions{})
	res, err := c.get(ctx, c.url("list2", params))
	if err != nil {
		return nil, err
	}
	if err := res.Err(c.cfg.SupportEmail); err != nil {
		return nil, err
	}
	return res, nil
}

// Download fetches one remote document as a ZIP archive. The storage
// handle substitutes for the transfer triple: SID replaces TraID and
// StorageKey replaces TraKey, both in the digest only.
func (c *Client) Download(ctx context.Context, creds Credentials, storageID, storageKey string, markReceived bool) ([]byte, error) {
	logger.Debug("APIX Download")

	params := c.defaultParams(creds, paramOptions{
		markReceived: markReceived,
		storageID:    storageID,
		storageKey:   storageKey,
	})
	url := c.url("download", params)

	r := c.rest.R().SetContext(ctx)
	if util.HttpTraceEnabled() {
		r.EnableTrace()
	}

	resp, err := r.Get(url)
	if err := checkTransport(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

type paramOptions struct {
	soft         bool
	ver          bool
	markReceived bool
	storageID    string
	storageKey   string
}

// defaultParams builds the shared signed-parameter sequence. The digest is
// computed over the full set including the key material; TraKey and
// StorageKey are then stripped so they never appear in the URL.
func (c *Client) defaultParams(creds Credentials, o paramOptions) Params {
	var params Params

	if o.soft {
		params = params.Add("soft", "Standard")
	}
	if o.ver {
		params = params.Add("ver", "1.0")
	}
	if o.markReceived {
		params = params.Add("markReceived", "yes")
	}

	// SID or TraID, never both
	if o.storageID != "" {
		params = params.Add("SID", o.storageID)
	} else {
		params = params.Add("TraID", creds.TransferID)
	}

	params = params.Add("t", Timestamp(c.now()))

	if o.storageKey != "" {
		params = params.Add("StorageKey", o.storageKey)
	} else {
		params = params.Add("TraKey", creds.TransferKey)
	}

	params = params.Add("d", Digest(params))

	params = params.Remove("TraKey")
	params = params.Remove("StorageKey")

	return params
}

func (c *Client) get(ctx context.Context, url string) (*Response, error) {
	r := c.rest.R().SetContext(ctx)
	if util.HttpTraceEnabled() {
		r.EnableTrace()
	}

	resp, err := r.Get(url)
	if err := checkTransport(resp, err); err != nil {
		return nil, err
	}

	res, err := ParseResponse(resp.Body())
	if err != nil {
		return nil, &RequestError{StatusCode: resp.StatusCode(), Err: err, Body: resp.String()}
	}
	return res, nil
}

func checkTransport(resp *resty.Response, err error) error {
	if err != nil {
		return &RequestError{Err: errors.Wrap(err, "gateway request")}
	}
	if resp.IsError() {
		return &RequestError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
