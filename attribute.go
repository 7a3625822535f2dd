package ajp

import "fmt"

// AttributeType enumerates the request attribute codes.
type AttributeType byte

const (
	AttributeContext      = AttributeType(0x01)
	AttributeServletPath  = AttributeType(0x02)
	AttributeRemoteUser   = AttributeType(0x03)
	AttributeAuthType     = AttributeType(0x04)
	AttributeQueryString  = AttributeType(0x05)
	AttributeRoute        = AttributeType(0x06)
	AttributeSSLCert      = AttributeType(0x07)
	AttributeSSLCipher    = AttributeType(0x08)
	AttributeSSLSession   = AttributeType(0x09)
	AttributeReqAttribute = AttributeType(0x0a) // carries a name and a value
	AttributeSSLKeySize   = AttributeType(0x0b)
	AttributeSecret       = AttributeType(0x0c)
	AttributeStoredMethod = AttributeType(0x0d)
)

var attributeTypeNames = map[AttributeType]string{
	AttributeContext:      "context",
	AttributeServletPath:  "servlet_path",
	AttributeRemoteUser:   "remote_user",
	AttributeAuthType:     "auth_type",
	AttributeQueryString:  "query_string",
	AttributeRoute:        "route",
	AttributeSSLCert:      "ssl_cert",
	AttributeSSLCipher:    "ssl_cipher",
	AttributeSSLSession:   "ssl_session",
	AttributeReqAttribute: "req_attribute",
	AttributeSSLKeySize:   "ssl_key_size",
	AttributeSecret:       "secret",
	AttributeStoredMethod: "stored_method",
}

var attributeTypesByName = func() map[string]AttributeType {
	m := make(map[string]AttributeType, len(attributeTypeNames))
	for at, name := range attributeTypeNames {
		m[name] = at
	}
	return m
}()

func (at AttributeType) String() string {
	if s, ok := attributeTypeNames[at]; ok {
		return s
	}
	return fmt.Sprintf("AttributeType(0x%02x)", byte(at))
}

// ValueCount returns the number of string values this attribute type carries.
func (at AttributeType) ValueCount() int {
	if at == AttributeReqAttribute {
		return 2
	}
	return 1
}

// Attribute is a typed request attribute with its values.
type Attribute struct {
	Type   AttributeType
	Values []string
}

func (a Attribute) String() string {
	return fmt.Sprintf("%v=%q", a.Type, a.Values)
}

// NewAttribute returns an Attribute for a well-known attribute name such as
// "query_string" or "route". Any other name becomes a req_attribute
// carrying the name and the first value.
func NewAttribute(name string, values ...string) Attribute {
	if at, ok := attributeTypesByName[name]; ok {
		return Attribute{Type: at, Values: values}
	}
	var value string
	if len(values) > 0 {
		value = values[0]
	}
	return Attribute{Type: AttributeReqAttribute, Values: []string{name, value}}
}
