package ajp

// MethodStored is the method code used when the method has no code of its
// own. The method name then travels in a stored_method attribute.
const MethodStored = byte(0xff)

var methodCodes = map[string]byte{
	"OPTIONS":          1,
	"GET":              2,
	"HEAD":             3,
	"POST":             4,
	"PUT":              5,
	"DELETE":           6,
	"TRACE":            7,
	"PROPFIND":         8,
	"PROPPATCH":        9,
	"MKCOL":            10,
	"COPY":             11,
	"MOVE":             12,
	"LOCK":             13,
	"UNLOCK":           14,
	"ACL":              15,
	"REPORT":           16,
	"VERSION-CONTROL":  17,
	"CHECKIN":          18,
	"CHECKOUT":         19,
	"UNCHECKOUT":       20,
	"SEARCH":           21,
	"MKWORKSPACE":      22,
	"UPDATE":           23,
	"LABEL":            24,
	"MERGE":            25,
	"BASELINE-CONTROL": 26,
	"MKACTIVITY":       27,
}

var methodNames = func() map[byte]string {
	m := make(map[byte]string, len(methodCodes))
	for name, code := range methodCodes {
		m[code] = name
	}
	return m
}()

// MethodCode returns the AJP13 code for an HTTP method, or MethodStored
// and false if the method has no code.
func MethodCode(method string) (byte, bool) {
	if code, ok := methodCodes[method]; ok {
		return code, true
	}
	return MethodStored, false
}

// MethodName returns the HTTP method for an AJP13 method code.
func MethodName(code byte) (string, bool) {
	name, ok := methodNames[code]
	return name, ok
}
