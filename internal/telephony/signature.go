package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// TwilioSignature computes the X-Twilio-Signature value for a webhook:
// base64(HMAC-SHA1(authToken, url + sorted(key+value)...)).
func TwilioSignature(authToken, fullURL string, params map[string][]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RequireTwilioSignature rejects webhooks whose signature does not match.
// publicBaseURL must be the scheme+host Twilio was configured with.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		got := c.GetHeader(twilioSignatureHeader)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		want := TwilioSignature(authToken, base+c.Request.URL.RequestURI(), c.Request.PostForm)
		if !hmac.Equal([]byte(got), []byte(want)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
