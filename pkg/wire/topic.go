package wire

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// ResponseFilter is the subscription filter matching every credential
	// response the hub publishes to this device session.
	ResponseFilter = "$iothub/credentials/res/#"

	responseTopicPrefix = "$iothub/credentials/res/"
	requestTopicPrefix  = "$iothub/credentials/POST/issueCertificate/"
)

// DefaultAPIVersion is the credential API version negotiated in the
// connection username when the caller does not override it.
const DefaultAPIVersion = "2025-08-01-preview"

// ErrMalformedTopic indicates a response topic that does not follow the
// $iothub/credentials/res/<status>/?$rid=<id> shape.
var ErrMalformedTopic = errors.New("wire: malformed response topic")

// RequestTopic returns the publish topic for an issuance request,
// carrying the correlation id as the $rid topic property.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s?$rid=%s", requestTopicPrefix, requestID)
}

// ResponseTopic returns the topic a hub publishes a credential response
// on, echoing the request's correlation id in $rid. Used by hub-side
// emulation and tests.
func ResponseTopic(status Status, requestID string) string {
	return fmt.Sprintf("%s%d/?$rid=%s", responseTopicPrefix, int(status), requestID)
}

// ParseRequestTopic extracts the $rid property from an issuance request
// topic. The counterpart of RequestTopic, for hub-side emulation.
func ParseRequestTopic(topic string) (requestID string, err error) {
	if !strings.HasPrefix(topic, requestTopicPrefix) {
		return "", fmt.Errorf("%w: %q is not a request topic", ErrMalformedTopic, topic)
	}
	idx := strings.Index(topic, "?")
	if idx < 0 {
		return "", fmt.Errorf("%w: missing properties in %q", ErrMalformedTopic, topic)
	}
	values, perr := url.ParseQuery(topic[idx+1:])
	if perr != nil {
		return "", fmt.Errorf("%w: bad properties in %q: %v", ErrMalformedTopic, topic, perr)
	}
	if rid := values.Get("$rid"); rid != "" {
		return rid, nil
	}
	return "", fmt.Errorf("%w: missing $rid in %q", ErrMalformedTopic, topic)
}

// Username returns the MQTT username for a device session:
// <host>/<device>/?api-version=<version>.
func Username(host, deviceID, apiVersion string) string {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	return fmt.Sprintf("%s/%s/?api-version=%s", host, deviceID, apiVersion)
}

// IsResponseTopic reports whether the topic belongs to the credential
// response space.
func IsResponseTopic(topic string) bool {
	return strings.HasPrefix(topic, responseTopicPrefix)
}

// ParseResponseTopic extracts the status code and the $rid and $version
// properties from a response topic of the form
// $iothub/credentials/res/<status>/?$rid=<id>&$version=<n>.
//
// $version is optional and reported as 0 when absent. The status segment
// sits at index 3 when the topic is split on "/".
func ParseResponseTopic(topic string) (status Status, requestID string, version int, err error) {
	if !IsResponseTopic(topic) {
		return 0, "", 0, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[3] == "" {
		return 0, "", 0, fmt.Errorf("%w: missing status segment in %q", ErrMalformedTopic, topic)
	}
	code, err := strconv.Atoi(parts[3])
	if err != nil {
		return 0, "", 0, fmt.Errorf("%w: status %q is not numeric", ErrMalformedTopic, parts[3])
	}

	// Topic properties follow the first "?" as a query string.
	if idx := strings.Index(topic, "?"); idx >= 0 {
		values, perr := url.ParseQuery(topic[idx+1:])
		if perr != nil {
			return 0, "", 0, fmt.Errorf("%w: bad properties in %q: %v", ErrMalformedTopic, topic, perr)
		}
		requestID = values.Get("$rid")
		if v := values.Get("$version"); v != "" {
			version, _ = strconv.Atoi(v)
		}
	}
	if requestID == "" {
		return 0, "", 0, fmt.Errorf("%w: missing $rid in %q", ErrMalformedTopic, topic)
	}

	return Status(code), requestID, version, nil
}
