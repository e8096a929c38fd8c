package securestr

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"
)

// Redacted is the text rendered in place of a sensitive value.
const Redacted = "[REDACTED]"

// ErrDestroyed is returned when a String is used after Destroy.
var ErrDestroyed = errors.New("securestr: value destroyed")

// String is a sensitive string sealed in encrypted memory.
//
// The zero value is an empty string. A String must not be copied after
// first use.
type String struct {
	mu        sync.Mutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// New seals plaintext into a new String.
func New(plaintext string) *String {
	return FromBytes([]byte(plaintext))
}

// FromBytes seals data into a new String. The input slice is wiped.
func FromBytes(data []byte) *String {
	s := &String{size: len(data)}
	if len(data) > 0 {
		s.enclave = memguard.NewEnclave(data)
	}

	return s
}

// WithBytes calls fn with the plaintext value. The slice passed to fn is
// only valid during the call and is wiped when fn returns; fn must not
// retain it.
func (s *String) WithBytes(fn func(b []byte)) error {
	buf, err := s.open()
	if err != nil {
		return err
	}

	if buf == nil {
		fn(nil)
		return nil
	}
	defer buf.Destroy()

	fn(buf.Bytes())

	return nil
}

// open decrypts the value into a locked buffer owned by the caller. It
// returns a nil buffer for an empty value.
func (s *String) open() (*memguard.LockedBuffer, error) {
	if s == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}

	if s.enclave == nil {
		return nil, nil
	}

	return s.enclave.Open()
}

// Len returns the length of the value in bytes.
func (s *String) Len() int {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return 0
	}

	return s.size
}

// IsEmpty reports whether the value is empty or destroyed.
func (s *String) IsEmpty() bool {
	return s.Len() == 0
}

// Equal reports whether s and other hold the same value. The comparison is
// constant time with respect to the contents.
func (s *String) Equal(other *String) bool {
	a, err := s.open()
	if err != nil {
		return false
	}
	if a != nil {
		defer a.Destroy()
	}

	b, err := other.open()
	if err != nil {
		return false
	}
	if b != nil {
		defer b.Destroy()
	}

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.EqualTo(b.Bytes())
}

// Destroy discards the sealed value. Any later WithBytes call returns
// ErrDestroyed. Destroy is idempotent.
func (s *String) Destroy() {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.size = 0
	s.destroyed = true
}

// String implements fmt.Stringer without revealing the value.
func (s *String) String() string {
	return Redacted
}

// GoString implements fmt.GoStringer without revealing the value.
func (s *String) GoString() string {
	return "securestr.String(" + Redacted + ")"
}

// LogValue implements slog.LogValuer.
func (s *String) LogValue() slog.Value {
	return slog.StringValue(Redacted)
}

// MarshalJSON renders the redacted marker.
func (s *String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}

// MarshalYAML renders the redacted marker.
func (s *String) MarshalYAML() (any, error) {
	return Redacted, nil
}

// UnmarshalYAML seals a scalar YAML value.
func (s *String) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.New("securestr: expected a scalar value")
	}

	data := []byte(value.Value)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.size = len(data)
	s.destroyed = false
	s.enclave = nil
	if len(data) > 0 {
		s.enclave = memguard.NewEnclave(data)
	}

	return nil
}
