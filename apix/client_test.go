package apix

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		Environment:  Test,
		Username:     "user@example.com",
		Password:     "secret",
		BusinessID:   "1234567-8",
		SupportEmail: "",
	}, server.Client())
	require.NoError(t, err)

	client.now = func() time.Time { return testTime }
	// rewrite only the host, the path and raw query stay as built
	client.url = func(command string, params Params) string {
		full := Test.URL(command, params)
		i := strings.Index(full, ".fi/")
		return server.URL + "/" + full[i+len(".fi/"):]
	}

	return client, server
}

// orderedQuery splits a raw query into key/value pairs preserving wire
// order, without any decoding.
func orderedQuery(raw string) Params {
	var params Params
	for _, kv := range strings.Split(raw, "&") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		params = params.Add(k, v)
	}
	return params
}

func TestNewClient_configValidation(t *testing.T) {
	_, err := NewClient(Config{Username: "u", Password: "p"}, nil)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "business id")
}

func TestRetrieveTransferID(t *testing.T) {
	var gotQuery Params

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app-transferID", r.URL.Path)
		gotQuery = orderedQuery(r.URL.RawQuery)

		fmt.Fprint(w, `<Response><Status>OK</Status><StatusCode>OK</StatusCode>
			<Group>
				<Value type="TransferID">tid-123</Value>
				<Value type="TransferKey">tkey-456</Value>
				<Value type="UniqueCompanyID">uuid-789</Value>
			</Group></Response>`)
	})

	client, _ := newTestClient(t, handler)

	creds, err := client.RetrieveTransferID(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tid-123", creds.TransferID)
	assert.Equal(t, "tkey-456", creds.TransferKey)
	assert.Equal(t, "uuid-789", creds.CompanyUUID)

	// exact parameter order is part of the protocol
	keys := make([]string, len(gotQuery))
	for i, p := range gotQuery {
		keys[i] = p.Key
	}
	require.Equal(t, []string{"id", "idq", "uid", "ts", "d"}, keys)

	assert.Equal(t, []string{"1234567-8", "y-tunnus", "user@example.com", Timestamp(testTime)},
		gotQuery[:4].Values())

	// d is the digest over the set with the password hash in d's slot
	expected := Params{}.
		Add("id", "1234567-8").
		Add("idq", "y-tunnus").
		Add("uid", "user@example.com").
		Add("ts", Timestamp(testTime)).
		Add("d", PasswordHash("secret"))
	d, _ := gotQuery.Get("d")
	assert.Equal(t, Digest(expected), d)
}

func TestAuthenticateByUser_passAppendedAfterDigest(t *testing.T) {
	var gotQuery Params

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/authuser", r.URL.Path)
		gotQuery = orderedQuery(r.URL.RawQuery)

		// wrapped single-element group list, the documented oddity
		fmt.Fprint(w, `<Response><Status>OK</Status><StatusCode>OK</StatusCode>
			<Group>
				<Value type="IdCustomer">cust-1</Value>
				<Value type="CustomerNumber">100</Value>
				<Value type="ContactPerson">Jane Doe</Value>
				<Value type="Email">jane@example.com</Value>
				<Value type="OwnerId">owner-1</Value>
			</Group></Response>`)
	})

	client, _ := newTestClient(t, handler)

	info, err := client.AuthenticateByUser(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CustomerInfo{
		CustomerID:     "cust-1",
		CustomerNumber: "100",
		ContactPerson:  "Jane Doe",
		ContactEmail:   "jane@example.com",
		OwnerID:        "owner-1",
	}, info)

	keys := make([]string, len(gotQuery))
	for i, p := range gotQuery {
		keys[i] = p.Key
	}
	require.Equal(t, []string{"uid", "t", "d", "pass"}, keys)

	// the digest covers uid, t and the password hash; not the pass value
	digestInput := Params{}.
		Add("uid", "user@example.com").
		Add("t", Timestamp(testTime)).
		Add("d", PasswordHash("secret"))
	d, _ := gotQuery.Get("d")
	assert.Equal(t, Digest(digestInput), d)

	pass, _ := gotQuery.Get("pass")
	assert.Equal(t, "secret", pass)
}

func TestSendInvoiceZIP(t *testing.T) {
	payload := []byte("PK\x03\x04fake-zip")
	creds := Credentials{TransferID: "tid-1", TransferKey: "tkey-1"}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/invoices", r.URL.Path)

		got := orderedQuery(r.URL.RawQuery)
		keys := make([]string, len(got))
		for i, p := range got {
			keys[i] = p.Key
		}
		// TraKey must never reach the URL
		assert.Equal(t, []string{"soft", "ver", "TraID", "t", "d"}, keys)

		// but the digest was computed over the set that still had it
		digestInput := Params{}.
			Add("soft", "Standard").
			Add("ver", "1.0").
			Add("TraID", "tid-1").
			Add("t", Timestamp(testTime)).
			Add("TraKey", "tkey-1")
		d, _ := got.Get("d")
		assert.Equal(t, Digest(digestInput), d)

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, payload, body, "payload is sent raw, no envelope")

		fmt.Fprint(w, `<Response><Status>OK</Status><StatusCode>OK</StatusCode>
			<Group>
				<Value type="BatchID">batch-1</Value>
				<Value type="AcceptedDocumentID">doc-1</Value>
				<Value type="CostInCredits">1.5</Value>
			</Group></Response>`)
	})

	client, _ := newTestClient(t, handler)

	res, err := client.SendInvoiceZIP(context.Background(), creds, payload)
	require.NoError(t, err)

	batch, _ := res.Value("BatchID")
	assert.Equal(t, "batch-1", batch)
}

func TestSendInvoiceZIP_gatewayErr(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<Response><Status>ERR</Status><StatusCode>VAL_02</StatusCode>
			<Group><Value type="ValidateText">Duplicate invoice number</Value></Group></Response>`)
	})

	client, _ := newTestClient(t, handler)

	_, err := client.SendInvoiceZIP(context.Background(), Credentials{TransferID: "t", TransferKey: "k"}, []byte("zip"))

	var gw *GatewayError
	require.True(t, errors.As(err, &gw))
	assert.Equal(t, "VAL_02", gw.StatusCode)
	assert.False(t, Retryable(err))
}

func TestListInvoiceZIPs_noSoftVer(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list2", r.URL.Path)

		got := orderedQuery(r.URL.RawQuery)
		keys := make([]string, len(got))
		for i, p := range got {
			keys[i] = p.Key
		}
		assert.Equal(t, []string{"TraID", "t", "d"}, keys)

		fmt.Fprint(w, `<Response><Status>OK</Status><StatusCode>OK</StatusCode>
			<Group>
				<Value type="StorageID">sid-1</Value>
				<Value type="StorageKey">skey-1</Value>
				<Value type="StorageStatus">UNRECEIVED</Value>
			</Group></Response>`)
	})

	client, _ := newTestClient(t, handler)

	res, err := client.ListInvoiceZIPs(context.Background(), Credentials{TransferID: "tid", TransferKey: "tkey"})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "sid-1", res.Groups[0]["StorageID"])
}

func TestDownload_storageHandleWinsOverTransferTriple(t *testing.T) {
	content := []byte("PK\x03\x04downloaded")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/download", r.URL.Path)

		got := orderedQuery(r.URL.RawQuery)
		keys := make([]string, len(got))
		for i, p := range got {
			keys[i] = p.Key
		}
		// SID replaces TraID, StorageKey replaced TraKey and was stripped
		assert.Equal(t, []string{"SID", "t", "d"}, keys)

		sid, _ := got.Get("SID")
		assert.Equal(t, "sid-9", sid)

		digestInput := Params{}.
			Add("SID", "sid-9").
			Add("t", Timestamp(testTime)).
			Add("StorageKey", "skey-9")
		d, _ := got.Get("d")
		assert.Equal(t, Digest(digestInput), d)

		_, _ = w.Write(content)
	})

	client, _ := newTestClient(t, handler)

	data, err := client.Download(context.Background(), Credentials{TransferID: "tid", TransferKey: "tkey"}, "sid-9", "skey-9", false)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestClient_transportErrorIsRetryable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client, _ := newTestClient(t, handler)

	_, err := client.ListInvoiceZIPs(context.Background(), Credentials{TransferID: "t", TransferKey: "k"})

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
	assert.True(t, Retryable(err))
}

func TestClient_unparseableBodyIsRetryable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<<<this is not xml")
	})

	client, _ := newTestClient(t, handler)

	_, err := client.RetrieveTransferID(context.Background())
	assert.True(t, Retryable(err))
}
