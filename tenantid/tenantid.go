// Package tenantid carries the organization a request acts for. The gateway
// in front of the services authenticates the caller and sets the header,
// services only read it.
package tenantid

import (
	"net/http"
	"strings"
)

const (
	HeaderKey         = "X-Organization-Id"
	internalHeaderKey = "coordinator-internal-organization-id"
	Prefix            = "organization/"
)

// GetOrganizationIDFromHeader returns the organization id, without Prefix, or
// the empty string if the request is anonymous.
func GetOrganizationIDFromHeader(h http.Header) string {
	t := h.Get(HeaderKey)
	if t == "" {
		t = h.Get(internalHeaderKey)
	}
	return strings.TrimPrefix(strings.TrimSpace(t), Prefix)
}

// DeleteOrganizationIDFromHeader stops the id leaking into responses.
func DeleteOrganizationIDFromHeader(h http.Header) {
	h.Del(HeaderKey)
	h.Del(internalHeaderKey)
}
