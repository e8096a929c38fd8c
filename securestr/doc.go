// Package securestr holds sensitive strings, such as passwords, in memory
// that is encrypted at rest.
//
// A String keeps its value sealed in a memguard enclave. The plaintext is
// only reachable inside WithBytes, which decrypts the value into a locked
// buffer for the duration of the callback and wipes it afterwards:
//
//	pass := securestr.New("secret")
//	defer pass.Destroy()
//
//	err := pass.WithBytes(func(b []byte) {
//	    h.Write(b)
//	})
//
// A String never renders its value: fmt verbs, JSON, YAML and slog all
// produce a redacted marker.
package securestr
