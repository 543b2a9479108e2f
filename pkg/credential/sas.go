package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// SAS defaults for hub-policy authentication.
const (
	// DefaultPolicy is the hub access policy tokens are signed under
	// when the caller does not choose one.
	DefaultPolicy = "iothubowner"

	// DefaultTTL bounds token validity when the credential does not
	// override it.
	DefaultTTL = time.Hour
)

// ErrInvalidKey indicates the policy key is not valid base64.
var ErrInvalidKey = errors.New("credential: SAS key is not valid base64")

// Token builds a shared-access-signature token for the resource URI,
// signed with the base64-encoded key and valid until expiresAt:
//
//	SharedAccessSignature sr=<uri>&sig=<signature>&se=<expiry>[&skn=<policy>]
//
// The signature is an HMAC-SHA256 over "<uri>\n<unix-expiry>" with the
// decoded key, base64- then URL-encoded. policyName may be empty for
// device-level authentication.
func Token(resourceURI, key, policyName string, expiresAt time.Time) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	expiry := expiresAt.Unix()
	mac := hmac.New(sha256.New, decoded)
	fmt.Fprintf(mac, "%s\n%d", resourceURI, expiry)
	signature := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	token := fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d", resourceURI, signature, expiry)
	if policyName != "" {
		token += "&skn=" + policyName
	}
	return token, nil
}
