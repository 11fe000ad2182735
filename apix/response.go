package apix

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
)

// defaultSupportAddress is the support contact the gateway hardcodes into
// its error messages. A configured SupportEmail replaces it.
const defaultSupportAddress = "servicedesk@apix.fi"

// Response is the parsed gateway response envelope. Every command answers
// with the same XML shape: Status, StatusCode, repeatable FreeText and
// repeatable Group elements holding Value elements keyed by a type
// attribute.
type Response struct {
	Status     string
	StatusCode string
	FreeText   []string
	Groups     []map[string]string
}

// ParseResponse parses the gateway XML envelope. A body without a Status
// element is not a valid gateway response.
func ParseResponse(data []byte) (*Response, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, errors.Wrap(err, "parse gateway response")
	}

	root := doc.Root()
	if root == nil {
		return nil, errors.New("parse gateway response: empty document")
	}

	res := &Response{}

	status := root.FindElement(".//Status")
	if status == nil {
		return nil, errors.New("invalid response: status not found")
	}
	res.Status = strings.TrimSpace(status.Text())

	if code := root.FindElement(".//StatusCode"); code != nil {
		res.StatusCode = strings.TrimSpace(code.Text())
	}

	for _, ft := range root.FindElements(".//FreeText") {
		res.FreeText = append(res.FreeText, ft.Text())
	}

	for _, group := range root.FindElements(".//Group") {
		values := make(map[string]string)
		for _, value := range group.FindElements(".//Value") {
			values[value.SelectAttrValue("type", "")] = value.Text()
		}
		res.Groups = append(res.Groups, values)
	}

	return res, nil
}

// First returns the value map of the first group, or nil when the response
// carries none. The gateway sometimes wraps a single result in a
// one-element group list (authuser is known to do both); callers expecting
// one object read the first group either way.
func (r *Response) First() map[string]string {
	if len(r.Groups) == 0 {
		return nil
	}
	return r.Groups[0]
}

// Value finds the first Value of the given type across all groups.
func (r *Response) Value(typ string) (string, bool) {
	for _, group := range r.Groups {
		if v, ok := group[typ]; ok {
			return v, true
		}
	}
	return "", false
}

// IsErr reports whether the gateway rejected the request.
func (r *Response) IsErr() bool {
	return r.Status == "ERR"
}

// Err converts a Status=ERR response into a GatewayError carrying the
// joined free-text message. OK responses, with or without content, yield
// nil.
func (r *Response) Err(supportEmail string) error {
	if !r.IsErr() {
		return nil
	}
	return r.gatewayError(strings.Join(r.FreeText, " "), supportEmail)
}

// SendErr is the validation used on send responses: the human-readable
// part lives in the ValidateText value rather than FreeText.
func (r *Response) SendErr(supportEmail string) error {
	if !r.IsErr() {
		return nil
	}

	msg, ok := r.Value("ValidateText")
	if !ok || msg == "" {
		msg = strings.Join(r.FreeText, " ")
	}
	if msg == "" {
		msg = "Unknown error"
	}
	return r.gatewayError(msg, supportEmail)
}

func (r *Response) gatewayError(msg, supportEmail string) error {
	code := r.StatusCode
	if code == "" {
		code = "Unknown status code"
	}
	if supportEmail != "" {
		msg = strings.ReplaceAll(msg, defaultSupportAddress, supportEmail)
	}
	return &GatewayError{StatusCode: code, Message: msg}
}
