package netutils

// IsInAddrAny returns whether a bind address is a wildcard bind rather
// than a specific interface address.
func IsInAddrAny(addr string) bool {
	return addr == "" || addr == "0.0.0.0" || addr == "::" || addr == "::/0"
}
