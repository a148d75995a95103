package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"github.com/antiphonal/crosstalk/internal/observe"
)

// signatureHeader carries the carrier's HMAC over the request.
const signatureHeader = "X-Twilio-Signature"

// validSignature reports whether the request carries a valid carrier
// signature for the given POST parameters. An empty configured token
// disables validation.
func (s *Server) validSignature(r *http.Request, params map[string]string) bool {
	if s.authToken == "" {
		return true
	}
	want := signature(s.authToken, s.requestURL(r), params)
	ok := hmac.Equal([]byte(r.Header.Get(signatureHeader)), []byte(want))
	if !ok {
		observe.Logger(r.Context()).Warn("carrier signature invalid", "path", r.URL.Path)
	}
	return ok
}

// requestURL reconstructs the full URL the carrier signed: scheme, public
// host, path, and query.
func (s *Server) requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + s.host(r) + r.URL.RequestURI()
}

// signature computes the carrier webhook signature: the full request URL
// with each form key and value appended in lexicographic key order, HMAC-SHA1
// under the auth token, base64-encoded.
func signature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
