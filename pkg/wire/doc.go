// Package wire defines the MQTT wire format for the hub credential API.
//
// Correlation and status do not travel in the payload: both are carried
// by the topic itself. A request publishes a JSON body to a topic that
// encodes the correlation id as the $rid property; each response arrives
// on a topic that encodes the status code and echoes $rid back:
//
//	request:  $iothub/credentials/POST/issueCertificate/?$rid=<id>
//	response: $iothub/credentials/res/<status>/?$rid=<id>&$version=<n>
//
// Status codes are HTTP-style. 202 acknowledges that the request was
// accepted for processing, 200 carries the final result, anything else
// reports a failure.
//
// # Sessions
//
// The API version is negotiated per connection through the MQTT
// username, <host>/<device>/?api-version=<version>, and the client id
// must equal the device id. Package wire only builds and parses these
// strings; session handling lives in the transport package.
package wire
