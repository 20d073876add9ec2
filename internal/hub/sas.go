package hub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const sasTokenTTL = 5 * time.Minute

// sasToken builds a SharedAccessSignature authorization header value for the
// given resource URI, valid until expiry.
func sasToken(resourceURI string, keyName string, key string, expiry time.Time) string {
	target := url.QueryEscape(strings.ToLower(resourceURI))
	expires := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(target + "\n" + expires))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s&skn=%s",
		target, url.QueryEscape(signature), expires, keyName)
}
